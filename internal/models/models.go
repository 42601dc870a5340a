package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DriverPosition is the latest accepted fix for one driver. It is
// overwritten on every accepted broadcast; only the newest fix is kept.
type DriverPosition struct {
	DriverID       string    `json:"driver_id"`
	Coord          Coord     `json:"coord"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	HeadingDegrees float64   `json:"heading_degrees"`
	SpeedMps       float64   `json:"speed_mps"`
	BatteryPct     *float64  `json:"battery_pct,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
	ReceivedAt     time.Time `json:"received_at"`
}

type AvailabilityStatus string

const (
	StatusOnline  AvailabilityStatus = "online"
	StatusOffline AvailabilityStatus = "offline"
	StatusBusy    AvailabilityStatus = "busy"
	StatusEnRoute AvailabilityStatus = "en_route"
)

type DriverAvailability struct {
	DriverID           string             `json:"driver_id"`
	Status             AvailabilityStatus `json:"status"`
	VehicleType        string             `json:"vehicle_type"`
	LastStatusChangeAt time.Time          `json:"last_status_change_at"`
}

// Driver carries the profile fields the matcher scores on. Rating is
// the 0..5 average; LastTripAt is zero when the driver has no history.
type Driver struct {
	ID             string    `json:"id"`
	VehicleType    string    `json:"vehicle_type"`
	Rating         float64   `json:"rating"`
	CompletedTrips int       `json:"completed_trips"`
	CancelledTrips int       `json:"cancelled_trips"`
	LastTripAt     time.Time `json:"last_trip_at"`
}

type TripRequest struct {
	RequestID         string    `json:"request_id"`
	RiderID           string    `json:"rider_id"`
	Pickup            Coord     `json:"pickup"`
	Destination       Coord     `json:"destination"`
	VehicleType       string    `json:"vehicle_type,omitempty"`
	MaxDistanceMeters float64   `json:"max_distance_meters,omitempty"`
	MinRating         float64   `json:"min_rating,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// CandidateScore is computed per matching invocation and never persisted.
type CandidateScore struct {
	DriverID        string  `json:"driver_id"`
	DistanceMeters  float64 `json:"distance_meters"`
	ProximityScore  float64 `json:"proximity_score"`
	RatingScore     float64 `json:"rating_score"`
	ActivityScore   float64 `json:"activity_score"`
	CompletionScore float64 `json:"completion_score"`
	CompositeScore  float64 `json:"composite_score"`
}

type OfferState string

const (
	OfferPending  OfferState = "pending"
	OfferAccepted OfferState = "accepted"
	OfferRejected OfferState = "rejected"
	OfferExpired  OfferState = "expired"
)

type DispatchOffer struct {
	OfferID   string     `json:"offer_id"`
	RequestID string     `json:"request_id"`
	DriverID  string     `json:"driver_id"`
	Fare      *Fare      `json:"fare,omitempty"`
	State     OfferState `json:"state"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Fare struct {
	Currency    string  `json:"currency"`
	Base        float64 `json:"base"`
	DistanceFee float64 `json:"distance_fee"`
	TimeFee     float64 `json:"time_fee"`
	Multiplier  float64 `json:"multiplier"`
	Total       float64 `json:"total"`
}

type Ride struct {
	ID          string
	RiderID     string
	DriverID    string
	Pickup      Coord
	Destination Coord
	Status      string // requested, matched, accepted, ongoing, completed, canceled
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
