package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/store"
	"github.com/example/ride-dispatch/internal/transport"
)

// ErrDispatchInProgress rejects a second concurrent session for the
// same request. One session means one pending offer at a time, which
// is what prevents two drivers from accepting the same trip.
var ErrDispatchInProgress = errors.New("dispatch already in progress for request")

// DriverResponse is a driver's answer to a pushed offer, routed in
// from the transport layer.
type DriverResponse struct {
	DriverID  string
	OfferID   string
	RequestID string
	Accept    bool
	Reason    string
}

// Messenger pushes offers to a driver's transport channel.
type Messenger interface {
	PushOffer(driverID string, push transport.RideRequestPush) error
	CancelRide(driverID string, cancel transport.RideCancel) error
}

// FareHolder places a hold for the estimated fare once a driver
// accepts. Failures are logged, never fatal to the assignment.
type FareHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
}

type Config struct {
	OfferTimeout time.Duration // default 15s
}

func DefaultConfig() Config {
	return Config{OfferTimeout: 15 * time.Second}
}

// Outcome is the terminal result of one dispatch session. Unmatched
// (neither Matched nor Cancelled) carries the searched radius so the
// caller can escalate and retry.
type Outcome struct {
	Matched      bool                  `json:"matched"`
	Cancelled    bool                  `json:"cancelled"`
	Offer        *models.DispatchOffer `json:"offer,omitempty"`
	ETASeconds   float64               `json:"eta_seconds,omitempty"`
	RadiusMeters float64               `json:"radius_meters"`
}

// Coordinator turns a ranked candidate list into exactly one committed
// assignment, or a documented failure. Offers go out strictly one at a
// time.
type Coordinator struct {
	messenger Messenger
	drivers   store.Store
	trips     storage.TripStore
	fares     *pricing.Calculator
	routes    routing.Estimator
	holder    FareHolder
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]chan DriverResponse // requestID → response channel

	newID func() string
	now   func() time.Time
}

func NewCoordinator(messenger Messenger, drivers store.Store, trips storage.TripStore, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = DefaultConfig().OfferTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		messenger: messenger,
		drivers:   drivers,
		trips:     trips,
		cfg:       cfg,
		logger:    logger,
		pending:   make(map[string]chan DriverResponse),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// WithFares enables fare estimates on pushed offers.
func (c *Coordinator) WithFares(calc *pricing.Calculator, routes routing.Estimator) *Coordinator {
	c.fares = calc
	c.routes = routes
	return c
}

// WithFareHolder enables the best-effort payment hold on accept.
func (c *Coordinator) WithFareHolder(h FareHolder) *Coordinator {
	c.holder = h
	return c
}

// Submit routes a driver response to the session waiting on it.
// Returns false when no session is waiting for that request.
func (c *Coordinator) Submit(resp DriverResponse) bool {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
		return true
	default:
		c.logger.Warn("response channel full", "request_id", resp.RequestID)
		return false
	}
}

// Dispatch iterates candidates in ranked order, offering to one driver
// at a time until one accepts, all are exhausted, or the requester
// cancels.
func (c *Coordinator) Dispatch(ctx context.Context, req models.TripRequest, result matching.Result) (Outcome, error) {
	if result.NoMatch || len(result.Candidates) == 0 {
		return Outcome{RadiusMeters: result.RadiusMeters}, nil
	}

	responses := make(chan DriverResponse, 8)
	c.mu.Lock()
	if _, exists := c.pending[req.RequestID]; exists {
		c.mu.Unlock()
		return Outcome{}, ErrDispatchInProgress
	}
	c.pending[req.RequestID] = responses
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	fare := c.estimateFare(ctx, req)

	for _, cand := range result.Candidates {
		offer := &models.DispatchOffer{
			OfferID:   c.newID(),
			RequestID: req.RequestID,
			DriverID:  cand.Driver.ID,
			Fare:      fare,
			State:     models.OfferPending,
			ExpiresAt: c.now().Add(c.cfg.OfferTimeout),
			CreatedAt: c.now(),
			UpdatedAt: c.now(),
		}
		if err := c.trips.SaveOffer(offer); err != nil {
			return Outcome{}, err
		}

		push := transport.RideRequestPush{
			Offer:       *offer,
			Pickup:      req.Pickup,
			Destination: req.Destination,
			ETASeconds:  cand.ETASeconds,
		}
		if err := c.messenger.PushOffer(cand.Driver.ID, push); err != nil {
			// driver not reachable right now; expire and move on
			c.finishOffer(offer, models.OfferExpired)
			c.logger.Info("offer push failed", "request_id", req.RequestID, "driver_id", cand.Driver.ID, "error", err)
			continue
		}

		state, cancelled := c.awaitResponse(ctx, offer, responses)
		c.finishOffer(offer, state)

		switch {
		case cancelled:
			cancel := transport.RideCancel{
				OfferID:   offer.OfferID,
				RequestID: req.RequestID,
				Reason:    "requester_cancelled",
			}
			if err := c.messenger.CancelRide(offer.DriverID, cancel); err != nil {
				c.logger.Warn("cancel notify failed", "driver_id", offer.DriverID, "error", err)
			}
			return Outcome{Cancelled: true, RadiusMeters: result.RadiusMeters}, nil

		case state == models.OfferAccepted:
			if err := c.drivers.SetAvailability(ctx, offer.DriverID, models.StatusBusy); err != nil {
				return Outcome{}, err
			}
			c.holdFare(ctx, req, offer)
			c.logger.Info("assignment committed",
				"request_id", req.RequestID,
				"driver_id", offer.DriverID,
				"offer_id", offer.OfferID)
			return Outcome{
				Matched:      true,
				Offer:        offer,
				ETASeconds:   cand.ETASeconds,
				RadiusMeters: result.RadiusMeters,
			}, nil
		}
		// rejected or expired: next candidate
	}

	c.logger.Info("candidates exhausted", "request_id", req.RequestID, "radius_m", result.RadiusMeters)
	return Outcome{RadiusMeters: result.RadiusMeters}, nil
}

// awaitResponse blocks until this offer is answered, times out, or the
// requester cancels. Responses for other offers of the same request
// (late answers to already-expired offers) are ignored.
func (c *Coordinator) awaitResponse(ctx context.Context, offer *models.DispatchOffer, responses <-chan DriverResponse) (models.OfferState, bool) {
	timer := time.NewTimer(c.cfg.OfferTimeout)
	defer timer.Stop()
	for {
		select {
		case resp := <-responses:
			if resp.OfferID != offer.OfferID || resp.DriverID != offer.DriverID {
				continue
			}
			if resp.Accept {
				return models.OfferAccepted, false
			}
			return models.OfferRejected, false
		case <-timer.C:
			return models.OfferExpired, false
		case <-ctx.Done():
			return models.OfferExpired, true
		}
	}
}

func (c *Coordinator) finishOffer(offer *models.DispatchOffer, state models.OfferState) {
	offer.State = state
	offer.UpdatedAt = c.now()
	if err := c.trips.UpdateOffer(offer); err != nil {
		c.logger.Warn("offer update failed", "offer_id", offer.OfferID, "error", err)
	}
	observability.OffersTotal.WithLabelValues(string(state)).Inc()
}

func (c *Coordinator) estimateFare(ctx context.Context, req models.TripRequest) *models.Fare {
	if c.fares == nil {
		return nil
	}
	var leg routing.Leg
	if c.routes != nil {
		if l, err := c.routes.Estimate(ctx, req.Pickup, req.Destination); err == nil {
			leg = l
		}
	}
	if leg.Meters == 0 {
		l, _ := routing.StraightLine{}.Estimate(ctx, req.Pickup, req.Destination)
		leg = l
	}
	fare := c.fares.Estimate(leg, req.VehicleType, c.now())
	return &fare
}

func (c *Coordinator) holdFare(ctx context.Context, req models.TripRequest, offer *models.DispatchOffer) {
	if c.holder == nil || offer.Fare == nil {
		return
	}
	cents := int64(offer.Fare.Total * 100)
	if _, err := c.holder.Hold(ctx, cents, offer.Fare.Currency, req.RiderID); err != nil {
		c.logger.Warn("fare hold failed", "request_id", req.RequestID, "error", err)
	}
}
