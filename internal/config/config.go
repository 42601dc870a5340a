package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch server.
// Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// routing provider: "osrm", "google" or empty for straight-line
	RoutingProvider string
	OSRMEndpoint    string
	GoogleAPIKey    string
	RouteCacheTTL   time.Duration

	StripeAPIKey string

	// matching
	MatchMaxDistanceMeters float64
	MatchCandidateLimit    int
	MatchIdleCeiling       time.Duration

	// dispatch
	OfferTimeout time.Duration

	// driver channel auth; empty disables the check for local runs
	DriverAuthToken string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:               ":8080",
		ReadTimeout:            5 * time.Second,
		WriteTimeout:           10 * time.Second,
		IdleTimeout:            120 * time.Second,
		ShutdownTimeout:        15 * time.Second,
		RedisGeoKey:            "drivers_geo",
		KafkaTopic:             "driver-locations",
		RouteCacheTTL:          30 * time.Second,
		MatchMaxDistanceMeters: 10000,
		MatchCandidateLimit:    5,
		MatchIdleCeiling:       30 * time.Minute,
		OfferTimeout:           15 * time.Second,
		LogLevel:               "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.RoutingProvider, "ROUTING_PROVIDER")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	setFloatFromEnv(&cfg.MatchMaxDistanceMeters, "MATCH_MAX_DISTANCE_M", &errs)
	setIntFromEnv(&cfg.MatchCandidateLimit, "MATCH_CANDIDATE_LIMIT", &errs)
	setDurationFromEnv(&cfg.MatchIdleCeiling, "MATCH_IDLE_CEILING", &errs)
	setDurationFromEnv(&cfg.OfferTimeout, "OFFER_TIMEOUT", &errs)

	cfg.DriverAuthToken = os.Getenv("DRIVER_AUTH_TOKEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatchCandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_CANDIDATE_LIMIT must be > 0"))
	}
	if cfg.MatchMaxDistanceMeters <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_MAX_DISTANCE_M must be > 0"))
	}
	switch cfg.RoutingProvider {
	case "", "osrm", "google":
	default:
		errs = append(errs, fmt.Errorf("unknown ROUTING_PROVIDER %q", cfg.RoutingProvider))
	}

	return cfg, errors.Join(errs...)
}

// BroadcastConfig holds the client-side thresholds used by the
// simulator binary.
type BroadcastConfig struct {
	ServerURL            string
	DriverID             string
	Token                string
	Interval             time.Duration
	DistanceMeters       float64
	MaxReconnectAttempts int
}

func LoadBroadcastConfig() (BroadcastConfig, error) {
	cfg := BroadcastConfig{
		ServerURL:            "ws://localhost:8080/ws/driver",
		DriverID:             "driver-1",
		Interval:             5 * time.Second,
		DistanceMeters:       10,
		MaxReconnectAttempts: 5,
	}
	var errs []error
	setStringFromEnv(&cfg.ServerURL, "DISPATCH_WS_URL")
	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")
	cfg.Token = os.Getenv("DRIVER_AUTH_TOKEN")
	setDurationFromEnv(&cfg.Interval, "BROADCAST_INTERVAL", &errs)
	setFloatFromEnv(&cfg.DistanceMeters, "BROADCAST_DISTANCE_M", &errs)
	setIntFromEnv(&cfg.MaxReconnectAttempts, "BROADCAST_MAX_RECONNECTS", &errs)
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
