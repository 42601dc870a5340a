package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/models"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	if cfg.OfferTimeout == 0 {
		cfg.OfferTimeout = 50 * time.Millisecond
	}
	return NewServer(cfg, nil)
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestIngestLocationAcceptsAndDropsOutOfOrder(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	now := time.Now()

	first := models.DriverPosition{
		DriverID:   "d1",
		Coord:      models.Coord{Lat: 6.5244, Lng: 3.3792},
		CapturedAt: now,
	}
	if rec := postJSON(t, s, "/internal/driver/locations", first); rec.Code != http.StatusNoContent {
		t.Fatalf("first fix: got %d", rec.Code)
	}

	older := first
	older.CapturedAt = now.Add(-time.Second)
	if rec := postJSON(t, s, "/internal/driver/locations", older); rec.Code != http.StatusNoContent {
		t.Fatalf("out-of-order fix must be silently dropped, got %d", rec.Code)
	}

	pos, err := s.store.Position(context.Background(), "d1")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !pos.CapturedAt.Equal(first.CapturedAt) {
		t.Fatalf("stored fix regressed to %v", pos.CapturedAt)
	}
}

func TestIngestLocationRequiresDriverID(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	rec := postJSON(t, s, "/internal/driver/locations", models.DriverPosition{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestDriverPositionIncludesPrediction(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	fix := models.DriverPosition{
		DriverID:       "d1",
		Coord:          models.Coord{Lat: 6.5244, Lng: 3.3792},
		SpeedMps:       10,
		HeadingDegrees: 0,
		CapturedAt:     time.Now().Add(-5 * time.Second),
	}
	postJSON(t, s, "/internal/driver/locations", fix)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/drivers/d1/position", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Position  models.DriverPosition `json:"position"`
		Predicted *models.Coord         `json:"predicted"`
		Stale     bool                  `json:"stale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stale {
		t.Fatal("5s-old fix must not be stale")
	}
	if resp.Predicted == nil {
		t.Fatal("expected a predicted coordinate")
	}
	if resp.Predicted.Lat <= fix.Coord.Lat {
		t.Fatalf("northbound driver should be projected north, got %+v", resp.Predicted)
	}
}

func TestDriverPositionStaleFix(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	fix := models.DriverPosition{
		DriverID:   "d1",
		Coord:      models.Coord{Lat: 6.5244, Lng: 3.3792},
		SpeedMps:   10,
		CapturedAt: time.Now().Add(-2 * time.Minute),
	}
	postJSON(t, s, "/internal/driver/locations", fix)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/drivers/d1/position", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["stale"] != true {
		t.Fatalf("2-minute-old fix must be reported stale: %v", resp)
	}
	if _, ok := resp["predicted"]; ok {
		t.Fatal("stale fix must not carry a prediction")
	}
}

func TestDriverPositionUnknownDriver(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/drivers/nobody/position", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestRideRequestWithEmptyPoolReturnsUnmatchedOutcome(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	rec := postJSON(t, s, "/api/v1/rides/request", rideRequestBody{
		RiderID: "rider-1",
		Pickup:  models.Coord{Lat: 6.5244, Lng: 3.3792},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("an empty pool is a result, not a failure: got %d", rec.Code)
	}
	var resp struct {
		RequestID string `json:"request_id"`
		Outcome   struct {
			Matched      bool    `json:"matched"`
			RadiusMeters float64 `json:"radius_meters"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome.Matched {
		t.Fatal("no drivers registered, nothing should match")
	}
	if resp.Outcome.RadiusMeters != 10000 {
		t.Fatalf("outcome must carry the searched radius, got %f", resp.Outcome.RadiusMeters)
	}
	if resp.RequestID == "" {
		t.Fatal("response must carry the assigned request id")
	}
}

func TestDriverWSRejectsBadToken(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{DriverAuthToken: "secret"})
	srv := httptest.NewServer(s)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ws/driver/d1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token must be refused before upgrade, got %d", resp.StatusCode)
	}
}

func TestUpsertDriverValidation(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})
	if rec := postJSON(t, s, "/internal/drivers", models.Driver{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id: got %d", rec.Code)
	}
	if rec := postJSON(t, s, "/internal/drivers", models.Driver{ID: "d1", Rating: 4.9}); rec.Code != http.StatusNoContent {
		t.Fatalf("valid driver: got %d", rec.Code)
	}
}
