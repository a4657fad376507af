package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
)

// Failure codes the ride-creation endpoint distinguishes. Anything else
// is a generic, retryable failure.
const (
	codeRideTaken           = "ride_already_assigned"
	codeRideLocked          = "ride_locked"
	codeInsufficientBalance = "insufficient_balance"
)

type CreateRideRequest struct {
	RequestKey  string               `json:"request_key"`
	RiderID     string               `json:"rider_id"`
	Fare        models.FareBreakdown `json:"fare"`
	Pickup      models.Location      `json:"pickup_location"`
	Destination models.Location      `json:"destination_location"`
}

type CreateRideResponse struct {
	RideID string `json:"ride_id"`
}

// CreateRide commits the driver to a ride. The backend may refuse when a
// competing driver got there first; those refusals come back as the
// typed errors in domain/types so the admission controller can branch.
func (c *Client) CreateRide(ctx context.Context, req CreateRideRequest) (*CreateRideResponse, error) {
	ctx = wrap.WithAction(ctx, "create_ride")

	var resp CreateRideResponse
	err := c.Do(ctx, http.MethodPost, "/v1/rides", req, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case codeRideTaken:
				return nil, wrap.Error(ctx, types.ErrRideTaken)
			case codeRideLocked:
				return nil, wrap.Error(ctx, types.ErrRideLocked)
			case codeInsufficientBalance:
				return nil, wrap.Error(ctx, types.ErrInsufficientBalance)
			}
		}
		return nil, wrap.Error(ctx, err)
	}

	return &resp, nil
}
