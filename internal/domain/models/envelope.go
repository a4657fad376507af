package models

import (
	"encoding/json"

	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
)

const RoleDriver = "driver"

// Envelope is the wire frame for every message on the dispatch channel.
// Inbound frames keep their payload raw until a subscriber decodes it.
type Envelope struct {
	Type     types.MessageType `json:"type"`
	Role     string            `json:"role,omitempty"`
	DriverID string            `json:"driverId,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
}

// NewDriverEnvelope builds an outbound envelope stamped with role:"driver".
func NewDriverEnvelope(t types.MessageType, driverID string, payload any) (Envelope, error) {
	env := Envelope{
		Type:     t,
		Role:     RoleDriver,
		DriverID: driverID,
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = data
	}

	return env, nil
}
