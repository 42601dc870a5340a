package store

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrStaleFix is returned when an incoming position is older than the
// one already stored for the driver. Out-of-order delivery happens when
// a reconnect replays buffered fixes; the store keeps capture order by
// rejecting the replayed ones.
var ErrStaleFix = errors.New("position older than stored fix")

// ErrNotFound is returned for drivers the store has never seen.
var ErrNotFound = errors.New("driver not found")

// NearbyFilter narrows a geospatial candidate query. All filters apply
// before the Limit cap, so an excluded driver never occupies a slot a
// qualifying one should have.
type NearbyFilter struct {
	// VehicleType, when non-empty, restricts candidates to that type.
	VehicleType string
	// MinRating, when positive, excludes drivers rated below it.
	MinRating float64
	// Limit caps the candidate set before scoring.
	Limit int
}

// Candidate is a snapshot of one driver as of the query instant.
type Candidate struct {
	Driver         models.Driver
	Position       models.DriverPosition
	Availability   models.DriverAvailability
	DistanceMeters float64
}

// Store is the narrow persistence contract the matcher and the
// broadcast pipeline depend on. Implementations must apply positions in
// capture-time order per driver and serve snapshot-consistent reads.
type Store interface {
	UpsertPosition(ctx context.Context, pos models.DriverPosition) error
	Position(ctx context.Context, driverID string) (models.DriverPosition, error)
	Nearby(ctx context.Context, origin models.Coord, radiusMeters float64, f NearbyFilter) ([]Candidate, error)
	Availability(ctx context.Context, driverID string) (models.DriverAvailability, error)
	SetAvailability(ctx context.Context, driverID string, status models.AvailabilityStatus) error
	UpsertDriver(ctx context.Context, d models.Driver) error
}
