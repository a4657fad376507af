package dispatch

import (
	"context"

	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/api"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
)

// Transport is the slice of the dispatch channel the controller needs.
type Transport interface {
	Send(env models.Envelope) error
	OnMessage(handler func(models.Envelope)) func()
}

// RideCreator issues the ride-creation call through the authenticated
// request pipeline.
type RideCreator interface {
	CreateRide(ctx context.Context, req api.CreateRideRequest) (*api.CreateRideResponse, error)
}

// Alerter emits the audible/voice alert for a newly arrived offer.
type Alerter interface {
	NewOffer(ctx context.Context, offer models.RideOffer)
}

// PositionSource exposes the driver's last accepted position for the
// distance annotation of incoming offers.
type PositionSource interface {
	Current() (models.PositionSample, bool)
}
