package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/predict"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/store"
	"github.com/example/ride-dispatch/internal/transport"
)

type Server struct {
	cfg       config.ServerConfig
	logger    *slog.Logger
	store     store.Store
	trips     storage.TripStore
	engine    *matching.Engine
	sessions  *session.Coordinator
	registry  *transport.Registry
	predictor predict.Predictor
	kafka     *ingest.KafkaProducer
	mux       *mux.Router
}

// NewServer wires the dispatch service from config: redis-backed store
// and postgres trips when configured, in-memory fallbacks otherwise.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var st store.Store
	if cfg.RedisAddr != "" {
		st = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		st = store.NewMemoryStore()
	}

	var trips storage.TripStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			trips = ps
		} else {
			logger.Warn("postgres unavailable, using memory trip store", "error", err)
		}
	}
	if trips == nil {
		trips = storage.NewMemoryStore()
	}

	estimator := buildEstimator(cfg, logger)

	engine := matching.NewEngine(st, estimator, matching.Config{
		MaxDistanceMeters: cfg.MatchMaxDistanceMeters,
		CandidateLimit:    cfg.MatchCandidateLimit,
		IdleCeiling:       cfg.MatchIdleCeiling,
	}, logger)

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		trips:     trips,
		engine:    engine,
		predictor: predict.New(0),
		kafka:     kp,
		mux:       mux.NewRouter(),
	}

	s.registry = transport.NewRegistry(transport.Events{
		OnLocation:     s.applyLocation,
		OnAvailability: s.applyAvailability,
		OnRideResponse: s.routeRideResponse,
		OnDisconnect:   s.driverDisconnected,
	}, logger)

	coord := session.NewCoordinator(registryMessenger{s.registry}, st, trips,
		session.Config{OfferTimeout: cfg.OfferTimeout}, logger).
		WithFares(pricing.NewCalculator(), estimator)
	if cfg.StripeAPIKey != "" {
		coord = coord.WithFareHolder(payments.NewStripeClient(cfg.StripeAPIKey))
	}
	s.sessions = coord

	s.registerMiddleware()
	s.routes()
	return s
}

func buildEstimator(cfg config.ServerConfig, logger *slog.Logger) routing.Estimator {
	var primary routing.Estimator
	switch cfg.RoutingProvider {
	case "osrm":
		if cfg.OSRMEndpoint != "" {
			primary = routing.NewOSRMClient(cfg.OSRMEndpoint)
		}
	case "google":
		if cfg.GoogleAPIKey != "" {
			if g, err := routing.NewGoogleClient(cfg.GoogleAPIKey); err == nil {
				primary = g
			} else {
				logger.Warn("google routing unavailable", "error", err)
			}
		}
	}
	fb := routing.Fallback{Primary: primary, Fallback: routing.StraightLine{}}
	if cfg.RouteCacheTTL > 0 {
		return routing.Cached{Inner: fb, Cache: routing.NewCache(cfg.RouteCacheTTL)}
	}
	return fb
}

// registryMessenger adapts the transport registry to the session
// coordinator's messenger contract.
type registryMessenger struct {
	reg *transport.Registry
}

func (m registryMessenger) PushOffer(driverID string, push transport.RideRequestPush) error {
	env, err := transport.NewEnvelope(transport.TypeRideRequest, push)
	if err != nil {
		return err
	}
	return m.reg.Send(driverID, env)
}

func (m registryMessenger) CancelRide(driverID string, cancel transport.RideCancel) error {
	env, err := transport.NewEnvelope(transport.TypeRideCancel, cancel)
	if err != nil {
		return err
	}
	return m.reg.Send(driverID, env)
}

func (s *Server) applyLocation(ctx context.Context, driverID string, upd transport.LocationUpdate) {
	pos := models.DriverPosition{
		DriverID:       driverID,
		Coord:          models.Coord{Lat: upd.Lat, Lng: upd.Lng},
		AccuracyMeters: upd.AccuracyMeters,
		HeadingDegrees: upd.HeadingDegrees,
		SpeedMps:       upd.SpeedMps,
		BatteryPct:     upd.BatteryPct,
		CapturedAt:     upd.Timestamp,
		ReceivedAt:     time.Now(),
	}
	if err := s.store.UpsertPosition(ctx, pos); err != nil {
		if err == store.ErrStaleFix {
			observability.FixesStale.Inc()
			return
		}
		s.logger.Error("position upsert failed", "driver_id", driverID, "error", err)
		return
	}
	observability.FixesAccepted.Inc()
	if s.kafka != nil {
		if err := s.kafka.PublishPosition(pos); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", driverID, "error", err)
		}
	}
}

func (s *Server) applyAvailability(ctx context.Context, driverID string, upd transport.AvailabilityUpdate) {
	if err := s.store.SetAvailability(ctx, driverID, upd.Status); err != nil {
		s.logger.Error("availability update failed", "driver_id", driverID, "error", err)
	}
}

func (s *Server) routeRideResponse(driverID string, resp transport.RideResponse, accepted bool) {
	delivered := s.sessions.Submit(session.DriverResponse{
		DriverID:  driverID,
		OfferID:   resp.OfferID,
		RequestID: resp.RequestID,
		Accept:    accepted,
		Reason:    resp.Reason,
	})
	if !delivered {
		s.logger.Info("late ride response dropped", "driver_id", driverID, "offer_id", resp.OfferID)
	}
}

// notifyRideStatus tells the assigned driver the ride's lifecycle moved.
func (s *Server) notifyRideStatus(driverID, requestID, status string) {
	env, err := transport.NewEnvelope(transport.TypeRideStatusUpdated, transport.RideStatusUpdated{
		RequestID: requestID,
		Status:    status,
	})
	if err != nil {
		return
	}
	if err := s.registry.Send(driverID, env); err != nil {
		s.logger.Warn("status push failed", "driver_id", driverID, "error", err)
	}
}

func (s *Server) driverDisconnected(driverID string) {
	// a vanished channel means the driver is not offerable; explicit
	// offline messages cover the graceful path
	if err := s.store.SetAvailability(context.Background(), driverID, models.StatusOffline); err != nil {
		s.logger.Warn("offline mark failed", "driver_id", driverID, "error", err)
	}
}
