package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/predict"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/store"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/position", s.handleDriverPosition).Methods("GET")
	s.mux.HandleFunc("/internal/drivers", s.handleUpsertDriver).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleIngestLocation).Methods("POST")
	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type rideRequestBody struct {
	RiderID           string            `json:"rider_id"`
	Pickup            models.Coord      `json:"pickup"`
	Destination       models.Coord      `json:"destination"`
	VehicleType       string            `json:"vehicle_type,omitempty"`
	MaxDistanceMeters float64           `json:"max_distance_meters,omitempty"`
	MinRating         float64           `json:"min_rating,omitempty"`
	Weights           *matching.Weights `json:"weights,omitempty"`
}

// handleRideRequest runs the full flow synchronously: discover and rank
// candidates, then offer them one at a time until a driver accepts or
// the pool is exhausted. The caller holds the connection open for the
// duration; a dropped rider connection cancels the session and the
// offered driver is told.
func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := models.TripRequest{
		RequestID:         uuid.NewString(),
		RiderID:           body.RiderID,
		Pickup:            body.Pickup,
		Destination:       body.Destination,
		VehicleType:       body.VehicleType,
		MaxDistanceMeters: body.MaxDistanceMeters,
		MinRating:         body.MinRating,
		CreatedAt:         time.Now(),
	}

	result, err := s.engine.Match(r.Context(), req, body.Weights)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "matching failed")
		return
	}

	out, err := s.sessions.Dispatch(r.Context(), req, result)
	if err != nil {
		if errors.Is(err, session.ErrDispatchInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	if out.Matched {
		now := time.Now()
		ride := models.Ride{
			ID:          req.RequestID,
			RiderID:     req.RiderID,
			DriverID:    out.Offer.DriverID,
			Pickup:      req.Pickup,
			Destination: req.Destination,
			Status:      "accepted",
			CreatedAt:   req.CreatedAt,
			UpdatedAt:   now,
		}
		if err := s.trips.SaveRide(&ride); err != nil {
			s.logger.Error("ride save failed", "request_id", req.RequestID, "error", err)
		}
		s.notifyRideStatus(out.Offer.DriverID, req.RequestID, ride.Status)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": req.RequestID,
		"outcome":    out,
	})
}

// handleDriverPosition serves the last accepted fix plus a dead-reckoned
// estimate of where the driver is right now. When the fix is too old to
// extrapolate, predicted is omitted and stale is set.
func (s *Server) handleDriverPosition(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	pos, err := s.store.Position(r.Context(), driverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no position for driver")
			return
		}
		writeError(w, http.StatusInternalServerError, "position lookup failed")
		return
	}

	resp := map[string]any{"position": pos}
	predicted, err := s.predictor.At(pos, time.Now())
	switch {
	case errors.Is(err, predict.ErrStale):
		resp["stale"] = true
	case err == nil:
		resp["predicted"] = predicted
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpsertDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if d.ID == "" {
		writeError(w, http.StatusBadRequest, "driver id required")
		return
	}
	if err := s.store.UpsertDriver(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "driver upsert failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIngestLocation is the HTTP fallback for fleets that cannot hold
// a socket open. Same store semantics as the channel path: out-of-order
// fixes are dropped, accepted ones fan out to kafka.
func (s *Server) handleIngestLocation(w http.ResponseWriter, r *http.Request) {
	var pos models.DriverPosition
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if pos.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver id required")
		return
	}
	if pos.CapturedAt.IsZero() {
		pos.CapturedAt = time.Now()
	}
	pos.ReceivedAt = time.Now()

	if err := s.store.UpsertPosition(r.Context(), pos); err != nil {
		if errors.Is(err, store.ErrStaleFix) {
			observability.FixesStale.Inc()
			// dropping an out-of-order fix is the documented behavior,
			// not a client error worth retrying
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, http.StatusInternalServerError, "position upsert failed")
		return
	}
	observability.FixesAccepted.Inc()
	if s.kafka != nil {
		if err := s.kafka.PublishPosition(pos); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", pos.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleDriverWS authenticates and upgrades the persistent driver
// channel. Credentials are checked once here; frames on the socket are
// trusted for the connection's lifetime.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	if driverID == "" {
		writeError(w, http.StatusBadRequest, "driver id required")
		return
	}
	if s.cfg.DriverAuthToken != "" {
		if bearerToken(r) != s.cfg.DriverAuthToken {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	s.registry.Add(driverID, conn)
	s.logger.Info("driver channel established", "driver_id", driverID)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
