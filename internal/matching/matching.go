package matching

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/store"
)

// Weights control the composite score. Callers may override them per
// request; a non-positive sum falls back to the defaults and any other
// sum is normalized, so the composite always stays in [0,1].
type Weights struct {
	Proximity  float64 `json:"proximity"`
	Rating     float64 `json:"rating"`
	Activity   float64 `json:"activity"`
	Completion float64 `json:"completion"`
}

var DefaultWeights = Weights{Proximity: 0.5, Rating: 0.3, Activity: 0.1, Completion: 0.1}

func (w Weights) sum() float64 {
	return w.Proximity + w.Rating + w.Activity + w.Completion
}

func (w Weights) normalized() Weights {
	s := w.sum()
	if s <= 0 {
		return DefaultWeights
	}
	return Weights{
		Proximity:  w.Proximity / s,
		Rating:     w.Rating / s,
		Activity:   w.Activity / s,
		Completion: w.Completion / s,
	}
}

type Config struct {
	// MaxDistanceMeters is the default search radius when the request
	// does not carry one.
	MaxDistanceMeters float64
	// CandidateLimit caps the candidate set before scoring.
	CandidateLimit int
	// IdleCeiling is the idle time after which the activity score
	// bottoms out at 0. More recent trips score closer to 1.
	IdleCeiling time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxDistanceMeters: 10000,
		CandidateLimit:    5,
		IdleCeiling:       30 * time.Minute,
	}
}

// RankedCandidate pairs a discovered driver with its per-invocation score.
type RankedCandidate struct {
	Driver     models.Driver         `json:"driver"`
	Position   models.DriverPosition `json:"position"`
	Score      models.CandidateScore `json:"score"`
	ETASeconds float64               `json:"eta_seconds"`
}

// Result is the outcome of one matching invocation. An empty candidate
// pool is a normal result, not an error: NoMatch carries the radius and
// filters that were tried so the caller can widen and retry.
type Result struct {
	RequestID    string            `json:"request_id"`
	Candidates   []RankedCandidate `json:"candidates,omitempty"`
	NoMatch      bool              `json:"no_match"`
	RadiusMeters float64           `json:"radius_meters"`
	VehicleType  string            `json:"vehicle_type,omitempty"`
	MinRating    float64           `json:"min_rating,omitempty"`
}

// Engine selects and ranks drivers for a trip request.
type Engine struct {
	Store  store.Store
	Routes routing.Estimator // optional; ETA is skipped when nil
	Config Config
	Logger *slog.Logger
	Now    func() time.Time // test hook
}

func NewEngine(st store.Store, routes routing.Estimator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxDistanceMeters <= 0 {
		cfg.MaxDistanceMeters = DefaultConfig().MaxDistanceMeters
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultConfig().CandidateLimit
	}
	if cfg.IdleCeiling <= 0 {
		cfg.IdleCeiling = DefaultConfig().IdleCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Store: st, Routes: routes, Config: cfg, Logger: logger, Now: time.Now}
}

// Match runs discovery, filtering, scoring and ranking for one request.
// The returned slice is ordered best-first. If the request context is
// cancelled the in-flight query may finish but its result is discarded.
func (e *Engine) Match(ctx context.Context, req models.TripRequest, weights *Weights) (Result, error) {
	start := time.Now()
	defer func() {
		observability.MatchLatency.Observe(time.Since(start).Seconds())
	}()

	radius := req.MaxDistanceMeters
	if radius <= 0 {
		radius = e.Config.MaxDistanceMeters
	}
	w := DefaultWeights
	if weights != nil {
		w = weights.normalized()
	}

	// Minimum rating is enforced inside the store, ahead of the candidate
	// cap, so low-rated nearby drivers cannot fill the cap and displace a
	// qualifying driver farther out.
	cands, err := e.Store.Nearby(ctx, req.Pickup, radius, store.NearbyFilter{
		VehicleType: req.VehicleType,
		MinRating:   req.MinRating,
		Limit:       e.Config.CandidateLimit,
	})
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		// requester is gone; the query result must not be used
		return Result{}, err
	}

	if len(cands) == 0 {
		observability.NoMatchTotal.Inc()
		e.Logger.Info("no_match",
			"request_id", req.RequestID,
			"radius_m", radius,
			"vehicle_type", req.VehicleType,
			"min_rating", req.MinRating)
		return Result{
			RequestID:    req.RequestID,
			NoMatch:      true,
			RadiusMeters: radius,
			VehicleType:  req.VehicleType,
			MinRating:    req.MinRating,
		}, nil
	}

	now := e.Now()
	ranked := make([]RankedCandidate, 0, len(cands))
	for _, c := range cands {
		score := e.score(c, radius, w, now)
		rc := RankedCandidate{Driver: c.Driver, Position: c.Position, Score: score}
		if e.Routes != nil {
			if leg, err := e.Routes.Estimate(ctx, c.Position.Coord, req.Pickup); err == nil {
				rc.ETASeconds = leg.Seconds
			}
		}
		ranked = append(ranked, rc)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i].Score, ranked[j].Score
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
		return a.DriverID < b.DriverID
	})

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	observability.MatchesTotal.Inc()
	return Result{RequestID: req.RequestID, Candidates: ranked, RadiusMeters: radius}, nil
}

func (e *Engine) score(c store.Candidate, radius float64, w Weights, now time.Time) models.CandidateScore {
	proximity := 1 - c.DistanceMeters/radius
	if proximity < 0 {
		proximity = 0
	}
	rating := c.Driver.Rating / 5
	activity := e.activityScore(c.Driver, now)
	completion := completionScore(c.Driver)

	return models.CandidateScore{
		DriverID:        c.Driver.ID,
		DistanceMeters:  c.DistanceMeters,
		ProximityScore:  proximity,
		RatingScore:     rating,
		ActivityScore:   activity,
		CompletionScore: completion,
		CompositeScore: w.Proximity*proximity +
			w.Rating*rating +
			w.Activity*activity +
			w.Completion*completion,
	}
}

func (e *Engine) activityScore(d models.Driver, now time.Time) float64 {
	if d.LastTripAt.IsZero() {
		// no history gets the benefit of the doubt, same as completion
		return 1
	}
	idle := now.Sub(d.LastTripAt)
	if idle <= 0 {
		return 1
	}
	s := 1 - float64(idle)/float64(e.Config.IdleCeiling)
	if s < 0 {
		return 0
	}
	return s
}

func completionScore(d models.Driver) float64 {
	total := d.CompletedTrips + d.CancelledTrips
	if total == 0 {
		return 1
	}
	return float64(d.CompletedTrips) / float64(total)
}
