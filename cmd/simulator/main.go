// The simulator drives a scripted vehicle through the broadcast client
// against a running dispatch server. Useful for exercising the filter,
// reconnect and offer flow without a phone in hand.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/transport"
)

func main() {
	cfg, err := config.LoadBroadcastConfig()
	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := cfg.ServerURL
	if !strings.HasSuffix(url, "/"+cfg.DriverID) {
		url = strings.TrimSuffix(url, "/") + "/" + cfg.DriverID
	}
	dialer := &transport.WSDialer{URL: url, Token: cfg.Token}

	// sample at twice the broadcast cadence so the filter always has a
	// fresh candidate when a threshold trips
	source := &scriptedRoute{
		start:    models.Coord{Lat: 6.5244, Lng: 3.3792},
		speedMps: 8,
		sample:   cfg.Interval / 2,
	}

	client := broadcast.NewClient(dialer, source, broadcast.Config{
		Interval:             cfg.Interval,
		DistanceMeters:       cfg.DistanceMeters,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, logger,
		broadcast.WithBattery(fakeBattery()),
		broadcast.WithStateListener(func(s broadcast.State) {
			logger.Info("state changed", "driver_id", cfg.DriverID, "state", string(s))
		}),
	)

	logger.Info("simulator starting", "driver_id", cfg.DriverID, "url", url)
	if err := client.Run(ctx); err != nil {
		logger.Error("simulator stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator stopped")
}

// scriptedRoute emits fixes along a wandering path: constant speed,
// heading drifts a little every sample so the track looks like city
// driving rather than a straight ray.
type scriptedRoute struct {
	start    models.Coord
	speedMps float64
	sample   time.Duration
}

func (r *scriptedRoute) Watch(ctx context.Context) (<-chan broadcast.Fix, error) {
	out := make(chan broadcast.Fix)
	go func() {
		defer close(out)
		pos := r.start
		heading := rand.Float64() * 360
		ticker := time.NewTicker(r.sample)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				heading += rand.Float64()*30 - 15
				if heading < 0 {
					heading += 360
				}
				pos = geo.Project(pos, heading, r.speedMps*r.sample.Seconds())
				fix := broadcast.Fix{
					Coord:          pos,
					HeadingDegrees: heading,
					SpeedMps:       r.speedMps,
					AccuracyMeters: 5 + rand.Float64()*10,
					CapturedAt:     time.Now(),
				}
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func fakeBattery() broadcast.BatterySource {
	pct := 100.0
	start := time.Now()
	return func() (float64, bool) {
		// drain about a percent a minute
		drained := pct - time.Since(start).Minutes()
		if drained < 0 {
			drained = 0
		}
		return drained, true
	}
}
