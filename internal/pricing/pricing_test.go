package pricing

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/routing"
)

func TestEstimateBreakdown(t *testing.T) {
	c := NewCalculator()
	offPeak := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	fare := c.Estimate(routing.Leg{Meters: 8000, Seconds: 1200}, "", offPeak)
	// 2.50 + 8*1.10 + 20*0.25 = 16.30
	if fare.Total != 16.30 {
		t.Fatalf("expected 16.30, got %f", fare.Total)
	}
	if fare.Multiplier != 1.0 {
		t.Fatalf("off-peak standard vehicle should be 1.0, got %f", fare.Multiplier)
	}
}

func TestMinimumFareApplies(t *testing.T) {
	c := NewCalculator()
	at := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	fare := c.Estimate(routing.Leg{Meters: 300, Seconds: 60}, "", at)
	if fare.Total != c.MinimumFare {
		t.Fatalf("expected minimum fare %f, got %f", c.MinimumFare, fare.Total)
	}
}

func TestPeakAndVehicleMultipliersStack(t *testing.T) {
	c := NewCalculator()
	peak := time.Date(2026, 8, 27, 18, 0, 0, 0, time.UTC)
	fare := c.Estimate(routing.Leg{Meters: 8000, Seconds: 1200}, "suv", peak)
	if fare.Multiplier != 1.4*1.25 {
		t.Fatalf("expected stacked multiplier, got %f", fare.Multiplier)
	}
}
