package broadcast

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Fix is one raw device position sample.
type Fix struct {
	Coord          models.Coord
	AccuracyMeters float64
	HeadingDegrees float64
	SpeedMps       float64
	CapturedAt     time.Time
}

// Filter decides which sampled fixes are worth forwarding. It owns the
// single authoritative last-forwarded fix; decision and record happen
// under one lock so out-of-order async completions can never race the
// threshold check against a stale snapshot.
type Filter struct {
	mu             sync.Mutex
	interval       time.Duration
	distanceMeters float64
	last           *Fix
}

func NewFilter(interval time.Duration, distanceMeters float64) *Filter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if distanceMeters <= 0 {
		distanceMeters = 10
	}
	return &Filter{interval: interval, distanceMeters: distanceMeters}
}

// ShouldForward reports whether the fix passes the dual threshold: the
// very first fix always passes; after that a fix passes when the time
// since the last forwarded fix exceeds the interval or the great-circle
// distance exceeds the distance threshold. A passing fix becomes the
// new reference.
func (f *Filter) ShouldForward(fix Fix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		f.last = &fix
		return true
	}
	elapsed := fix.CapturedAt.Sub(f.last.CapturedAt)
	if elapsed > f.interval || geo.Haversine(f.last.Coord, fix.Coord) > f.distanceMeters {
		f.last = &fix
		return true
	}
	return false
}

// Reset forgets the reference fix, so the next sample is forwarded
// unconditionally. Called after a reconnect so the server gets a fresh
// fix immediately.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.last = nil
	f.mu.Unlock()
}

// Last returns a copy of the reference fix, if any.
func (f *Filter) Last() (Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Fix{}, false
	}
	return *f.last, true
}
