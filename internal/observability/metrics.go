package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matches_total", Help: "Total matching invocations that produced candidates"})
	NoMatchTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "no_match_total", Help: "Total matching invocations with an empty candidate pool"})
	MatchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Matching latency seconds"})
	DriverSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "driver_sessions", Help: "Currently connected driver transport sessions"})

	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_total", Help: "Dispatch offers by terminal state"},
		[]string{"state"},
	)
	FixesAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "fixes_accepted_total", Help: "Location fixes accepted into the store"})
	FixesStale    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "fixes_stale_total", Help: "Location fixes dropped for arriving out of capture order"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
