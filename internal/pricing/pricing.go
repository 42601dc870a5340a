package pricing

import (
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/routing"
)

// Calculator turns a routed leg into a fare estimate for the offer
// push. It does not participate in matching.
type Calculator struct {
	Currency      string
	BaseFare      float64
	PerKmRate     float64
	PerMinuteRate float64
	MinimumFare   float64
	// VehicleMultipliers adjusts for vehicle class; unknown types get 1.
	VehicleMultipliers map[string]float64
}

func NewCalculator() *Calculator {
	return &Calculator{
		Currency:      "USD",
		BaseFare:      2.50,
		PerKmRate:     1.10,
		PerMinuteRate: 0.25,
		MinimumFare:   5.00,
		VehicleMultipliers: map[string]float64{
			"suv":     1.4,
			"premium": 1.8,
		},
	}
}

// Estimate prices a leg for a vehicle type at a point in time. The
// time-of-day multiplier covers the evening peak.
func (c *Calculator) Estimate(leg routing.Leg, vehicleType string, at time.Time) models.Fare {
	multiplier := 1.0
	if m, ok := c.VehicleMultipliers[vehicleType]; ok {
		multiplier = m
	}
	if h := at.Hour(); h >= 17 && h < 20 {
		multiplier *= 1.25
	}

	distanceFee := leg.Meters / 1000 * c.PerKmRate
	timeFee := leg.Seconds / 60 * c.PerMinuteRate
	total := (c.BaseFare + distanceFee + timeFee) * multiplier
	if total < c.MinimumFare {
		total = c.MinimumFare
	}
	return models.Fare{
		Currency:    c.Currency,
		Base:        c.BaseFare,
		DistanceFee: round2(distanceFee),
		TimeFee:     round2(timeFee),
		Multiplier:  multiplier,
		Total:       round2(total),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
