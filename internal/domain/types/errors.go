package types

import "errors"

var (
	ErrOperationInFlight = errors.New("another offer operation is in flight")
	ErrOfferNotFound     = errors.New("offer not found")
	ErrDriverUnknown     = errors.New("driver identity is not loaded")

	// Ride-creation failure reasons distinguished by the backend.
	ErrRideTaken           = errors.New("ride already assigned to another driver")
	ErrRideLocked          = errors.New("ride temporarily locked by a concurrent attempt")
	ErrInsufficientBalance = errors.New("insufficient driver balance")

	ErrSessionInvalidated = errors.New("session invalidated by the backend")
	ErrTokenRefreshFailed = errors.New("token refresh failed")
)
