package transport

import (
	"encoding/json"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MessageType discriminates wire envelopes on the driver channel.
type MessageType string

const (
	TypeLocationUpdate     MessageType = "location:update"
	TypeAvailabilityUpdate MessageType = "availability:update"
	TypeRideRequest        MessageType = "ride:request"
	TypeRideAccept         MessageType = "ride:accept"
	TypeRideReject         MessageType = "ride:reject"
	TypeRideCancel         MessageType = "ride:cancel"
	TypeRideStatusUpdated  MessageType = "ride:status_updated"
)

// Envelope is the single frame format on the channel, both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Timestamp: time.Now(), Data: b}, nil
}

type LocationUpdate struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	HeadingDegrees float64   `json:"heading"`
	SpeedMps       float64   `json:"speed"`
	AccuracyMeters float64   `json:"accuracy"`
	BatteryPct     *float64  `json:"battery_pct,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	RideID         string    `json:"ride_id,omitempty"`
}

type AvailabilityUpdate struct {
	Status models.AvailabilityStatus `json:"status"`
}

// RideRequestPush is the server→driver offer frame.
type RideRequestPush struct {
	Offer       models.DispatchOffer `json:"offer"`
	Pickup      models.Coord         `json:"pickup"`
	Destination models.Coord         `json:"destination"`
	ETASeconds  float64              `json:"eta_seconds,omitempty"`
}

// RideResponse is the driver→server accept/reject frame.
type RideResponse struct {
	OfferID   string `json:"offer_id"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

type RideCancel struct {
	OfferID   string `json:"offer_id,omitempty"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

type RideStatusUpdated struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}
