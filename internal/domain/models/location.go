package models

import "time"

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// PositionSample is one raw GPS fix as delivered by the device.
type PositionSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationUpdateMessage — outbound payload of a locationUpdate envelope.
type LocationUpdateMessage struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	HeadingDegrees float64 `json:"heading_degrees,omitempty"`
	District       string  `json:"district,omitempty"`
}
