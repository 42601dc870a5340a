package routing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type failingEstimator struct{ calls int }

func (f *failingEstimator) Estimate(ctx context.Context, from, to models.Coord) (Leg, error) {
	f.calls++
	return Leg{}, errors.New("provider down")
}

func TestFallbackDegradesToStraightLine(t *testing.T) {
	primary := &failingEstimator{}
	f := Fallback{Primary: primary, Fallback: StraightLine{SpeedMps: 10}}
	from := models.Coord{Lat: 0, Lng: 0}
	to := models.Coord{Lat: 0.01, Lng: 0}
	leg, err := f.Estimate(context.Background(), from, to)
	if err != nil {
		t.Fatalf("fallback must absorb provider errors, got %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("primary not consulted")
	}
	// 0.01 deg latitude is ~1112m; at 10 m/s that is ~111s
	if math.Abs(leg.Seconds-leg.Meters/10) > 0.001 {
		t.Fatalf("straight-line duration mismatch: %+v", leg)
	}
	if leg.Meters < 1000 || leg.Meters > 1200 {
		t.Fatalf("unexpected distance: %f", leg.Meters)
	}
}

func TestCachedReturnsStoredLegWithoutProvider(t *testing.T) {
	cache := NewCache(time.Minute)
	from := models.Coord{Lat: 1, Lng: 1}
	to := models.Coord{Lat: 2, Lng: 2}
	cache.Set(from, to, Leg{Meters: 42, Seconds: 7})

	primary := &failingEstimator{}
	c := Cached{Inner: primary, Cache: cache}
	leg, err := c.Estimate(context.Background(), from, to)
	if err != nil {
		t.Fatalf("cached lookup failed: %v", err)
	}
	if leg.Meters != 42 || leg.Seconds != 7 {
		t.Fatalf("unexpected leg: %+v", leg)
	}
	if primary.calls != 0 {
		t.Fatalf("provider consulted despite cache hit")
	}
}

func TestCacheExpires(t *testing.T) {
	cache := NewCache(time.Millisecond)
	from := models.Coord{Lat: 1, Lng: 1}
	to := models.Coord{Lat: 2, Lng: 2}
	cache.Set(from, to, Leg{Meters: 42})
	time.Sleep(5 * time.Millisecond)
	if _, ok := cache.Get(from, to); ok {
		t.Fatal("expected expired entry")
	}
}
