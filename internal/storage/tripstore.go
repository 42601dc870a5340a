package storage

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// TripStore defines persistence operations for rides and dispatch offers.
type TripStore interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	SaveOffer(o *models.DispatchOffer) error
	UpdateOffer(o *models.DispatchOffer) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	rides  map[string]*models.Ride
	offers map[string]*models.DispatchOffer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[string]*models.Ride),
		offers: make(map[string]*models.DispatchOffer),
	}
}

func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryStore) SaveOffer(o *models.DispatchOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.OfferID] = &cp
	return nil
}

func (m *MemoryStore) UpdateOffer(o *models.DispatchOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.OfferID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(id string) (*models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}

func (m *MemoryStore) GetOffer(id string) (*models.DispatchOffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	return o, ok
}

// OffersByRequest returns all offers recorded for a request, in no
// particular order.
func (m *MemoryStore) OffersByRequest(requestID string) []*models.DispatchOffer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.DispatchOffer
	for _, o := range m.offers {
		if o.RequestID == requestID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}
