package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/store"
	"github.com/example/ride-dispatch/internal/transport"
)

type fakeMessenger struct {
	mu      sync.Mutex
	pushes  []transport.RideRequestPush
	cancels []transport.RideCancel
	// respond decides the driver's reaction to each push; nil means no
	// answer (timeout). Runs on a separate goroutine like a real driver.
	respond func(push transport.RideRequestPush) *DriverResponse
	submit  func(DriverResponse) bool
	onPush  func(push transport.RideRequestPush)
}

func (m *fakeMessenger) PushOffer(driverID string, push transport.RideRequestPush) error {
	m.mu.Lock()
	m.pushes = append(m.pushes, push)
	m.mu.Unlock()
	if m.onPush != nil {
		m.onPush(push)
	}
	if m.respond != nil {
		if resp := m.respond(push); resp != nil {
			go func() {
				time.Sleep(time.Millisecond)
				m.submit(*resp)
			}()
		}
	}
	return nil
}

func (m *fakeMessenger) CancelRide(driverID string, cancel transport.RideCancel) error {
	m.mu.Lock()
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()
	return nil
}

func (m *fakeMessenger) pushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pushes)
}

func rankedResult(ids ...string) matching.Result {
	res := matching.Result{RequestID: "req-1", RadiusMeters: 10000}
	for _, id := range ids {
		res.Candidates = append(res.Candidates, matching.RankedCandidate{
			Driver: models.Driver{ID: id, Rating: 4.5},
		})
	}
	return res
}

func newTestCoordinator(t *testing.T, m *fakeMessenger, timeout time.Duration) (*Coordinator, *store.MemoryStore, *storage.MemoryStore) {
	t.Helper()
	drivers := store.NewMemoryStore()
	trips := storage.NewMemoryStore()
	c := NewCoordinator(m, drivers, trips, Config{OfferTimeout: timeout}, nil)
	m.submit = c.Submit
	return c, drivers, trips
}

func accept(push transport.RideRequestPush) *DriverResponse {
	return &DriverResponse{
		DriverID:  push.Offer.DriverID,
		OfferID:   push.Offer.OfferID,
		RequestID: push.Offer.RequestID,
		Accept:    true,
	}
}

func reject(push transport.RideRequestPush) *DriverResponse {
	r := accept(push)
	r.Accept = false
	r.Reason = "too far"
	return r
}

func TestAcceptFirstCandidateStopsSession(t *testing.T) {
	m := &fakeMessenger{respond: accept}
	c, drivers, trips := newTestCoordinator(t, m, time.Second)

	req := models.TripRequest{RequestID: "req-1", RiderID: "rider-1"}
	out, err := c.Dispatch(context.Background(), req, rankedResult("d1", "d2", "d3"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !out.Matched || out.Offer.DriverID != "d1" {
		t.Fatalf("expected d1 matched, got %+v", out)
	}
	if m.pushCount() != 1 {
		t.Fatalf("candidates 2 and 3 must never be offered, got %d pushes", m.pushCount())
	}
	av, err := drivers.Availability(context.Background(), "d1")
	if err != nil || av.Status != models.StatusBusy {
		t.Fatalf("accepting driver must become busy, got %+v err=%v", av, err)
	}
	stored, ok := trips.GetOffer(out.Offer.OfferID)
	if !ok || stored.State != models.OfferAccepted {
		t.Fatalf("offer not recorded accepted: %+v", stored)
	}
}

func TestRejectAdvancesToNextCandidate(t *testing.T) {
	m := &fakeMessenger{}
	m.respond = func(push transport.RideRequestPush) *DriverResponse {
		if push.Offer.DriverID == "d1" {
			return reject(push)
		}
		return accept(push)
	}
	c, _, trips := newTestCoordinator(t, m, time.Second)

	out, err := c.Dispatch(context.Background(), models.TripRequest{RequestID: "req-1"}, rankedResult("d1", "d2"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !out.Matched || out.Offer.DriverID != "d2" {
		t.Fatalf("expected d2 after d1 rejection, got %+v", out)
	}
	for _, o := range trips.OffersByRequest("req-1") {
		switch o.DriverID {
		case "d1":
			if o.State != models.OfferRejected {
				t.Fatalf("d1 offer should be rejected, got %s", o.State)
			}
		case "d2":
			if o.State != models.OfferAccepted {
				t.Fatalf("d2 offer should be accepted, got %s", o.State)
			}
		}
	}
}

func TestTimeoutExpiresOfferAndAdvances(t *testing.T) {
	m := &fakeMessenger{}
	m.respond = func(push transport.RideRequestPush) *DriverResponse {
		if push.Offer.DriverID == "d1" {
			return nil // never answers
		}
		return accept(push)
	}
	c, _, trips := newTestCoordinator(t, m, 30*time.Millisecond)

	out, err := c.Dispatch(context.Background(), models.TripRequest{RequestID: "req-1"}, rankedResult("d1", "d2"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !out.Matched || out.Offer.DriverID != "d2" {
		t.Fatalf("expected d2 after d1 timeout, got %+v", out)
	}
	for _, o := range trips.OffersByRequest("req-1") {
		if o.DriverID == "d1" && o.State != models.OfferExpired {
			t.Fatalf("timed-out offer should be expired, got %s", o.State)
		}
	}
}

func TestExhaustedCandidatesReturnUnmatchedWithRadius(t *testing.T) {
	m := &fakeMessenger{respond: reject}
	c, _, _ := newTestCoordinator(t, m, time.Second)

	out, err := c.Dispatch(context.Background(), models.TripRequest{RequestID: "req-1"}, rankedResult("d1", "d2", "d3"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Matched || out.Cancelled {
		t.Fatalf("expected unmatched outcome, got %+v", out)
	}
	if out.RadiusMeters != 10000 {
		t.Fatalf("unmatched outcome must carry the searched radius, got %f", out.RadiusMeters)
	}
	if m.pushCount() != 3 {
		t.Fatalf("every candidate should have been tried once, got %d", m.pushCount())
	}
}

func TestCancelInvalidatesPendingOfferAndNotifiesDriver(t *testing.T) {
	m := &fakeMessenger{} // no responses: the offer stays pending
	pushed := make(chan struct{}, 1)
	m.onPush = func(transport.RideRequestPush) {
		select {
		case pushed <- struct{}{}:
		default:
		}
	}
	c, _, trips := newTestCoordinator(t, m, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		out, _ := c.Dispatch(ctx, models.TripRequest{RequestID: "req-1"}, rankedResult("d1", "d2"))
		done <- out
	}()
	<-pushed
	cancel()

	out := <-done
	if !out.Cancelled {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
	m.mu.Lock()
	cancels := len(m.cancels)
	m.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("offered driver must be notified of the cancel, got %d notifications", cancels)
	}
	for _, o := range trips.OffersByRequest("req-1") {
		if o.State == models.OfferPending {
			t.Fatalf("no offer may remain pending after cancel: %+v", o)
		}
	}
	if m.pushCount() != 1 {
		t.Fatalf("no further candidates may be offered after cancel, got %d", m.pushCount())
	}
}

func TestAtMostOnePendingOfferPerRequest(t *testing.T) {
	m := &fakeMessenger{respond: reject}
	var c *Coordinator
	var trips *storage.MemoryStore
	m.onPush = func(push transport.RideRequestPush) {
		pending := 0
		for _, o := range trips.OffersByRequest(push.Offer.RequestID) {
			if o.State == models.OfferPending {
				pending++
			}
		}
		if pending > 1 {
			t.Errorf("observed %d pending offers at once", pending)
		}
	}
	c, _, trips = newTestCoordinator(t, m, 20*time.Millisecond)

	if _, err := c.Dispatch(context.Background(), models.TripRequest{RequestID: "req-1"}, rankedResult("d1", "d2", "d3", "d4")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}

func TestConcurrentDispatchForSameRequestRejected(t *testing.T) {
	m := &fakeMessenger{}
	pushed := make(chan struct{}, 1)
	m.onPush = func(transport.RideRequestPush) {
		select {
		case pushed <- struct{}{}:
		default:
		}
	}
	c, _, _ := newTestCoordinator(t, m, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Dispatch(ctx, models.TripRequest{RequestID: "req-1"}, rankedResult("d1"))
	<-pushed

	_, err := c.Dispatch(context.Background(), models.TripRequest{RequestID: "req-1"}, rankedResult("d2"))
	if !errors.Is(err, ErrDispatchInProgress) {
		t.Fatalf("expected ErrDispatchInProgress, got %v", err)
	}
}

func TestNoMatchResultPassesThrough(t *testing.T) {
	m := &fakeMessenger{}
	c, _, _ := newTestCoordinator(t, m, time.Second)
	out, err := c.Dispatch(context.Background(), models.TripRequest{RequestID: "req-1"},
		matching.Result{RequestID: "req-1", NoMatch: true, RadiusMeters: 5000})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Matched || out.Cancelled || out.RadiusMeters != 5000 {
		t.Fatalf("expected unmatched with radius 5000, got %+v", out)
	}
	if m.pushCount() != 0 {
		t.Fatal("no offers may be pushed for a no-match result")
	}
}

func TestFareAttachedToPushedOffer(t *testing.T) {
	m := &fakeMessenger{respond: accept}
	c, _, _ := newTestCoordinator(t, m, time.Second)
	c.WithFares(pricing.NewCalculator(), routing.StraightLine{SpeedMps: 10})

	req := models.TripRequest{
		RequestID:   "req-1",
		Pickup:      models.Coord{Lat: 6.5244, Lng: 3.3792},
		Destination: models.Coord{Lat: 6.4500, Lng: 3.4000},
	}
	out, err := c.Dispatch(context.Background(), req, rankedResult("d1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Offer.Fare == nil || out.Offer.Fare.Total <= 0 {
		t.Fatalf("expected fare on offer, got %+v", out.Offer.Fare)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushes[0].Offer.Fare == nil {
		t.Fatal("pushed offer must carry the fare estimate")
	}
}
