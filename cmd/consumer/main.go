// The consumer drains the driver-locations topic into the redis geo
// store. It is the durable path: the server publishes every accepted
// fix, and this process keeps redis converged even when fixes arrive
// on a different instance than the one holding the driver's socket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch_consumer",
		Name:      "messages_consumed_total",
		Help:      "Total driver location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch_consumer",
		Name:      "messages_invalid_total",
		Help:      "Total messages that failed to decode",
	})
	fixesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch_consumer",
		Name:      "fixes_applied_total",
		Help:      "Total fixes written to the store",
	})
	fixesStale = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch_consumer",
		Name:      "fixes_stale_total",
		Help:      "Total fixes dropped for arriving out of capture order",
	})
	storeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch_consumer",
		Name:      "store_errors_total",
		Help:      "Total store write failures after retries",
	})
)

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := splitBrokers(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := envOr("KAFKA_TOPIC", "driver-locations")
	group := envOr("KAFKA_GROUP", "ride-dispatch-consumer")

	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	st := store.NewRedisStoreWithClient(rc, envOr("REDIS_GEO_KEY", "drivers_geo"))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer started", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var pos models.DriverPosition
		if err := json.Unmarshal(m.Value, &pos); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err)
			continue
		}
		if pos.DriverID == "" {
			msgsInvalid.Inc()
			continue
		}

		switch err := applyWithRetry(ctx, st, pos, 3, 200*time.Millisecond); {
		case err == nil:
			fixesApplied.Inc()
		case errors.Is(err, store.ErrStaleFix):
			fixesStale.Inc()
		default:
			storeErrors.Inc()
			logger.Error("store update failed", "driver_id", pos.DriverID, "error", err)
		}
	}
}

// PositionWriter is the store subset the pipeline needs; tests swap in
// a fake.
type PositionWriter interface {
	UpsertPosition(ctx context.Context, pos models.DriverPosition) error
}

// applyWithRetry writes one fix with exponential backoff. ErrStaleFix
// is terminal: a fix that lost the capture-order race will lose it on
// every retry too.
func applyWithRetry(ctx context.Context, w PositionWriter, pos models.DriverPosition, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = w.UpsertPosition(ctx, pos)
		if err == nil || errors.Is(err, store.ErrStaleFix) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return err
}

func splitBrokers(v string) []string {
	var out []string
	for _, b := range strings.Split(v, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
