package models

import "time"

// DriverIdentity is the cached identity snapshot persisted by the storage
// collaborator. The core never inspects it beyond these fields.
type DriverIdentity struct {
	DriverID string `json:"driver_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// TokenInfo is what the client can read out of its access token without
// the signing secret: subject and expiry.
type TokenInfo struct {
	DriverID  string
	ExpiresAt time.Time
}

// RefreshResponse is the renewal endpoint's reply.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	GraceToken  bool   `json:"grace_token,omitempty"`
}
