package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
)

// FareBreakdown mirrors the fare the backend attached to the ride request.
type FareBreakdown struct {
	BaseFare       float64 `json:"base_fare"`
	DistanceFare   float64 `json:"distance_fare"`
	TotalFare      float64 `json:"total_fare"`
	DriverEarnings float64 `json:"driver_earnings"`
	Currency       string  `json:"currency,omitempty"`
}

// RideRequestMessage — inbound payload of a rideRequest envelope.
type RideRequestMessage struct {
	RequestKey    string        `json:"request_key"`
	RiderID       string        `json:"rider_id"`
	RiderName     string        `json:"rider_name,omitempty"`
	Pickup        Location      `json:"pickup_location"`
	Destination   Location      `json:"destination_location"`
	Fare          FareBreakdown `json:"fare"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// RideOffer is one concurrently visible offer on the driver's screen.
// Countdown and phase are owned by the admission controller; the payload
// is immutable after creation.
type RideOffer struct {
	// ID локально сгенерирован, уникален для каждого инстанса оффера.
	ID string

	Request RideRequestMessage

	// Computed once at creation from the driver's last known position.
	KmToPickup     float64
	KmPickupToDrop float64

	Phase            types.OfferPhase
	CountdownSeconds int
	CreatedAt        time.Time
}

// NewOfferID builds a locally unique offer id: creation time plus a
// random suffix, so two offers arriving in the same millisecond differ.
func NewOfferID(now time.Time) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(suffix[:]))
}

// OfferResultMessage — outbound payload of rideAccepted / rideRejected.
type OfferResultMessage struct {
	RequestKey string `json:"request_key"`
	RiderID    string `json:"rider_id,omitempty"`
	RideID     string `json:"ride_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
