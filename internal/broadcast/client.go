package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/transport"
)

// State is the client-side connection lifecycle. Exactly one instance
// per device session; transitions decide which side effects fire.
type State string

const (
	StateInitializing     State = "initializing"
	StateConnected        State = "connected"
	StateBroadcasting     State = "broadcasting"
	StatePaused           State = "paused"
	StateOffline          State = "offline"
	StatePermissionDenied State = "permission_denied"
	StateError            State = "error"
)

var (
	// ErrPermissionDenied is terminal until the user re-grants access;
	// the client never retries it on its own.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrReconnectExhausted is surfaced after the bounded backoff
	// schedule runs out. Brief blips before that are absorbed silently.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrReconnectInFlight rejects a second concurrent reconnect;
	// attempts are single-flight.
	ErrReconnectInFlight = errors.New("reconnect already in flight")
)

// PositionSource is the device geolocation provider. Watch returns a
// stream of raw fixes or ErrPermissionDenied. The source is expected to
// sample at roughly twice the broadcast interval so the filter always
// has fresh input.
type PositionSource interface {
	Watch(ctx context.Context) (<-chan Fix, error)
}

// BatterySource reports the device battery level opportunistically. A
// false return means unknown and never blocks a broadcast.
type BatterySource func() (pct float64, ok bool)

type Config struct {
	Interval             time.Duration // min time between forwarded fixes, default 5s
	DistanceMeters       float64       // min movement between forwarded fixes, default 10m
	MaxReconnectAttempts int           // default 5
}

func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, DistanceMeters: 10, MaxReconnectAttempts: 5}
}

// Client turns the noisy fix stream into a sparse broadcast stream over
// a transport channel, and owns the connection lifecycle.
type Client struct {
	dialer  transport.Dialer
	source  PositionSource
	battery BatterySource
	filter  *Filter
	cfg     Config
	logger  *slog.Logger
	backoff func(attempt int) time.Duration
	onState func(State)

	mu           sync.Mutex
	state        State
	paused       bool
	reconnecting atomic.Bool
}

type Option func(*Client)

// WithBattery attaches a battery reading to outgoing fixes when available.
func WithBattery(src BatterySource) Option {
	return func(c *Client) { c.battery = src }
}

// WithStateListener observes every state transition.
func WithStateListener(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// withBackoff overrides the reconnect delay schedule. Test hook.
func withBackoff(fn func(int) time.Duration) Option {
	return func(c *Client) { c.backoff = fn }
}

func NewClient(dialer transport.Dialer, source PositionSource, cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.DistanceMeters <= 0 {
		cfg.DistanceMeters = DefaultConfig().DistanceMeters
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultConfig().MaxReconnectAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		dialer:  dialer,
		source:  source,
		filter:  NewFilter(cfg.Interval, cfg.DistanceMeters),
		cfg:     cfg,
		logger:  logger,
		backoff: transport.Backoff,
		state:   StateInitializing,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	c.logger.Debug("broadcast state", "state", string(s))
	if fn != nil {
		fn(s)
	}
}

// Pause keeps the channel open but stops forwarding and tells the
// server the driver went offline.
func (c *Client) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *Client) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *Client) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Run drives the whole lifecycle until the context is cancelled, the
// fix stream ends, or an unrecoverable failure occurs. Permission
// denial and exhausted reconnects are the only errors surfaced; brief
// network blips are absorbed by the reconnect loop.
func (c *Client) Run(ctx context.Context) error {
	c.setState(StateInitializing)

	fixes, err := c.source.Watch(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			c.setState(StatePermissionDenied)
			return err
		}
		c.setState(StateError)
		return fmt.Errorf("position source: %w", err)
	}

	ch, err := c.dialer.Dial(ctx)
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("connect: %w", err)
	}
	c.setState(StateConnected)

	c.setState(StateBroadcasting)
	c.sendStatus(ctx, ch, models.StatusOnline)

	defer func() {
		_ = ch.Close()
	}()

	wasPaused := false
	for {
		select {
		case <-ctx.Done():
			// explicit stop: tell the server we are gone, then leave broadcasting
			c.sendStatus(context.Background(), ch, models.StatusOffline)
			c.setState(StateConnected)
			return nil

		case <-ch.Done():
			c.setState(StateOffline)
			next, err := c.reconnect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					// stopped while offline; nothing left to tell the server
					return nil
				}
				c.setState(StateError)
				return err
			}
			ch = next
			// force the next sample through so the server sees a fresh fix
			c.filter.Reset()
			if c.isPaused() {
				// reconnected while paused: stay quiet until Resume
				wasPaused = true
				c.setState(StatePaused)
			} else {
				wasPaused = false
				c.setState(StateBroadcasting)
				c.sendStatus(ctx, ch, models.StatusOnline)
			}

		case fix, ok := <-fixes:
			if !ok {
				c.sendStatus(ctx, ch, models.StatusOffline)
				c.setState(StateConnected)
				return nil
			}
			if paused := c.isPaused(); paused != wasPaused {
				wasPaused = paused
				if paused {
					c.sendStatus(ctx, ch, models.StatusOffline)
					c.setState(StatePaused)
				} else {
					c.setState(StateBroadcasting)
					c.sendStatus(ctx, ch, models.StatusOnline)
				}
			}
			if wasPaused {
				continue
			}
			if !c.filter.ShouldForward(fix) {
				continue
			}
			c.sendFix(ctx, ch, fix)
		}
	}
}

func (c *Client) sendFix(ctx context.Context, ch transport.Channel, fix Fix) {
	upd := transport.LocationUpdate{
		Lat:            fix.Coord.Lat,
		Lng:            fix.Coord.Lng,
		HeadingDegrees: fix.HeadingDegrees,
		SpeedMps:       fix.SpeedMps,
		AccuracyMeters: fix.AccuracyMeters,
		Timestamp:      fix.CapturedAt,
	}
	if c.battery != nil {
		if pct, ok := c.battery(); ok {
			upd.BatteryPct = &pct
		}
	}
	env, err := transport.NewEnvelope(transport.TypeLocationUpdate, upd)
	if err != nil {
		c.logger.Error("encode fix", "error", err)
		return
	}
	if err := ch.Send(ctx, env); err != nil {
		// the channel's Done case picks up the disconnect
		c.logger.Warn("send fix failed", "error", err)
	}
}

func (c *Client) sendStatus(ctx context.Context, ch transport.Channel, status models.AvailabilityStatus) {
	env, err := transport.NewEnvelope(transport.TypeAvailabilityUpdate, transport.AvailabilityUpdate{Status: status})
	if err != nil {
		return
	}
	if err := ch.Send(ctx, env); err != nil {
		c.logger.Warn("send status failed", "status", string(status), "error", err)
	}
}

// reconnect runs the bounded exponential backoff schedule. Single
// flight: a second concurrent call fails fast instead of doubling the
// dial pressure.
func (c *Client) reconnect(ctx context.Context) (transport.Channel, error) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return nil, ErrReconnectInFlight
	}
	defer c.reconnecting.Store(false)

	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.backoff(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		ch, err := c.dialer.Dial(ctx)
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt)
			return ch, nil
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "delay", delay, "error", err)
	}
	return nil, ErrReconnectExhausted
}
