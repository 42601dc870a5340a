package predict

import (
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// ErrStale means the last fix is too old to extrapolate from. Not a
// fault: callers fall back to displaying the last confirmed fix.
var ErrStale = errors.New("last fix too old to extrapolate")

// Predictor interpolates a driver's position between real broadcasts
// for smoother ETA and map display.
type Predictor struct {
	// MaxWindow bounds how far past the capture time extrapolation is
	// trusted. Default 30s.
	MaxWindow time.Duration
}

func New(maxWindow time.Duration) Predictor {
	if maxWindow <= 0 {
		maxWindow = 30 * time.Second
	}
	return Predictor{MaxWindow: maxWindow}
}

// At projects the position to time t: displacement = speed × (t −
// capturedAt) along the heading, flat-Earth. Beyond MaxWindow it
// returns ErrStale instead of a guess. A t before the capture time
// yields the fix itself.
func (p Predictor) At(pos models.DriverPosition, t time.Time) (models.Coord, error) {
	dt := t.Sub(pos.CapturedAt)
	if dt > p.MaxWindow {
		return models.Coord{}, ErrStale
	}
	if dt <= 0 || pos.SpeedMps <= 0 {
		return pos.Coord, nil
	}
	return geo.Project(pos.Coord, pos.HeadingDegrees, pos.SpeedMps*dt.Seconds()), nil
}
