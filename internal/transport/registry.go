package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/observability"
)

var ErrNoSession = errors.New("no driver session")

// Events are the hooks the server wires into the registry. The registry
// owns connection plumbing only; what a message means is the caller's
// business.
type Events struct {
	OnLocation     func(ctx context.Context, driverID string, upd LocationUpdate)
	OnAvailability func(ctx context.Context, driverID string, upd AvailabilityUpdate)
	OnRideResponse func(driverID string, resp RideResponse, accepted bool)
	OnDisconnect   func(driverID string)
}

// Session is one connected driver. All writes go through the mutex so
// offer pushes and pings never interleave frames.
type Session struct {
	DriverID string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func (s *Session) Send(env Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(env)
}

func (s *Session) close() {
	s.doneOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Registry holds the per-driver sessions. There is no global "current
// socket": each driver owns exactly one session handle, and a new
// connection for the same driver replaces the old one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   Events
	logger   *slog.Logger
}

func NewRegistry(events Events, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{sessions: make(map[string]*Session), events: events, logger: logger}
}

// Add registers the connection and starts its read loop.
func (r *Registry) Add(driverID string, conn *websocket.Conn) *Session {
	s := &Session{DriverID: driverID, conn: conn, done: make(chan struct{})}
	r.mu.Lock()
	if old, ok := r.sessions[driverID]; ok {
		old.close()
	}
	r.sessions[driverID] = s
	r.mu.Unlock()
	observability.DriverSessions.Inc()
	go r.readLoop(s)
	go r.pingLoop(s)
	return s
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	cur, ok := r.sessions[s.DriverID]
	replaced := !ok || cur != s
	if !replaced {
		delete(r.sessions, s.DriverID)
	}
	r.mu.Unlock()
	observability.DriverSessions.Dec()
	s.close()
	// A replaced session's teardown must stay silent: the driver has a
	// live replacement and the disconnect hook would mark them offline.
	if !replaced && r.events.OnDisconnect != nil {
		r.events.OnDisconnect(s.DriverID)
	}
}

// Send pushes an envelope to one driver's session.
func (r *Registry) Send(driverID string, env Envelope) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(env); err != nil {
		r.logger.Warn("ws send failed", "driver_id", driverID, "error", err)
		return err
	}
	return nil
}

func (r *Registry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

func (r *Registry) readLoop(s *Session) {
	defer r.remove(s)
	ctx := context.Background()
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return
		}
		r.dispatch(ctx, s.DriverID, env)
	}
}

func (r *Registry) dispatch(ctx context.Context, driverID string, env Envelope) {
	switch env.Type {
	case TypeLocationUpdate:
		var upd LocationUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			r.logger.Warn("bad location payload", "driver_id", driverID, "error", err)
			return
		}
		if r.events.OnLocation != nil {
			r.events.OnLocation(ctx, driverID, upd)
		}
	case TypeAvailabilityUpdate:
		var upd AvailabilityUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			r.logger.Warn("bad availability payload", "driver_id", driverID, "error", err)
			return
		}
		if r.events.OnAvailability != nil {
			r.events.OnAvailability(ctx, driverID, upd)
		}
	case TypeRideAccept, TypeRideReject:
		var resp RideResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			r.logger.Warn("bad ride response payload", "driver_id", driverID, "error", err)
			return
		}
		if r.events.OnRideResponse != nil {
			r.events.OnRideResponse(driverID, resp, env.Type == TypeRideAccept)
		}
	default:
		r.logger.Debug("unhandled message type", "driver_id", driverID, "type", string(env.Type))
	}
}

func (r *Registry) pingLoop(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
