package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps the latest position and availability per driver in
// process memory. Each driver gets its own entry lock so concurrent
// broadcasts from different drivers never contend; the outer RWMutex
// only guards the map itself. Reads copy the record out under the entry
// lock, so queries never observe a partially updated driver.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[string]*driverEntry
}

type driverEntry struct {
	mu           sync.Mutex
	driver       models.Driver
	position     models.DriverPosition
	hasPosition  bool
	availability models.DriverAvailability
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[string]*driverEntry)}
}

func (m *MemoryStore) entry(driverID string) *driverEntry {
	m.mu.RLock()
	e, ok := m.drivers[driverID]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.drivers[driverID]; ok {
		return e
	}
	e = &driverEntry{
		driver:       models.Driver{ID: driverID},
		availability: models.DriverAvailability{DriverID: driverID, Status: models.StatusOffline},
	}
	m.drivers[driverID] = e
	return e
}

func (m *MemoryStore) UpsertPosition(ctx context.Context, pos models.DriverPosition) error {
	e := m.entry(pos.DriverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasPosition && !pos.CapturedAt.After(e.position.CapturedAt) {
		return ErrStaleFix
	}
	if pos.ReceivedAt.IsZero() {
		pos.ReceivedAt = time.Now()
	}
	e.position = pos
	e.hasPosition = true
	return nil
}

func (m *MemoryStore) Position(ctx context.Context, driverID string) (models.DriverPosition, error) {
	m.mu.RLock()
	e, ok := m.drivers[driverID]
	m.mu.RUnlock()
	if !ok {
		return models.DriverPosition{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasPosition {
		return models.DriverPosition{}, ErrNotFound
	}
	return e.position, nil
}

func (m *MemoryStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	e := m.entry(d.ID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.driver = d
	if e.availability.VehicleType == "" {
		e.availability.VehicleType = d.VehicleType
	}
	return nil
}

func (m *MemoryStore) Availability(ctx context.Context, driverID string) (models.DriverAvailability, error) {
	m.mu.RLock()
	e, ok := m.drivers[driverID]
	m.mu.RUnlock()
	if !ok {
		return models.DriverAvailability{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availability, nil
}

func (m *MemoryStore) SetAvailability(ctx context.Context, driverID string, status models.AvailabilityStatus) error {
	e := m.entry(driverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.availability.Status != status {
		e.availability.Status = status
		e.availability.LastStatusChangeAt = time.Now()
	}
	return nil
}

// Nearby scans all online drivers and returns up to f.Limit candidates
// within radiusMeters ordered by raw distance. The scan is linear; the
// candidate cap keeps scoring cost bounded regardless of fleet size.
func (m *MemoryStore) Nearby(ctx context.Context, origin models.Coord, radiusMeters float64, f NearbyFilter) ([]Candidate, error) {
	m.mu.RLock()
	entries := make([]*driverEntry, 0, len(m.drivers))
	for _, e := range m.drivers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	cands := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		c := Candidate{Driver: e.driver, Position: e.position, Availability: e.availability}
		has := e.hasPosition
		e.mu.Unlock()
		if !has || c.Availability.Status != models.StatusOnline {
			continue
		}
		if f.VehicleType != "" && c.Availability.VehicleType != f.VehicleType {
			continue
		}
		if f.MinRating > 0 && c.Driver.Rating < f.MinRating {
			continue
		}
		c.DistanceMeters = geo.Haversine(origin, c.Position.Coord)
		if radiusMeters > 0 && c.DistanceMeters > radiusMeters {
			continue
		}
		cands = append(cands, c)
	}

	// partial selection sort for top-N by distance
	n := f.Limit
	if n <= 0 || n > len(cands) {
		n = len(cands)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(cands); j++ {
			if cands[j].DistanceMeters < cands[minIdx].DistanceMeters {
				minIdx = j
			}
		}
		cands[i], cands[minIdx] = cands[minIdx], cands[i]
	}
	return cands[:n], nil
}
