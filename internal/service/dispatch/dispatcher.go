package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/api"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	"github.com/Temutjin2k/ride-hail-driver/pkg/geo"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
	"github.com/Temutjin2k/ride-hail-driver/pkg/metrics"
)

const (
	DefaultCountdownSeconds = 60
	DefaultTickInterval     = time.Second
)

type Config struct {
	DriverID string

	// Zero values fall back to the defaults above.
	CountdownSeconds int
	TickInterval     time.Duration
}

// Dispatcher arbitrates which of several concurrently visible ride
// offers the driver commits to. One operation lock spans ALL offers:
// while any accept or reject is in flight, both calls are no-ops for
// every offer id, so two ride-commit calls can never race even for
// different offers.
type Dispatcher struct {
	cfg       Config
	transport Transport
	rides     RideCreator
	alerter   Alerter
	position  PositionSource
	log       logger.Logger

	// OnRideCreated signals the caller to navigate to the created ride.
	OnRideCreated func(ctx context.Context, rideID string)
	// OnNotice surfaces transient, toast-style failure notices.
	OnNotice func(ctx context.Context, text string)
	// OnStatusUpdate receives inbound rideStatusUpdate envelopes as-is.
	OnStatusUpdate func(ctx context.Context, env models.Envelope)

	mu         sync.Mutex
	offers     []*offerEntry // insertion order
	opInFlight bool
}

// offerEntry pairs an offer with its owned countdown timer handle.
// The timer is disposed exactly once on any path that removes the
// offer; dispose is the single disposal routine.
type offerEntry struct {
	offer    *models.RideOffer
	stop     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg Config, transport Transport, rides RideCreator, alerter Alerter, position PositionSource, log logger.Logger) *Dispatcher {
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = DefaultCountdownSeconds
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	return &Dispatcher{
		cfg:       cfg,
		transport: transport,
		rides:     rides,
		alerter:   alerter,
		position:  position,
		log:       log,
	}
}

// Start subscribes the dispatcher to inbound envelopes. The returned
// func unsubscribes.
func (d *Dispatcher) Start(ctx context.Context) func() {
	return d.transport.OnMessage(func(env models.Envelope) {
		switch env.Type {
		case types.MsgRideRequest:
			var req models.RideRequestMessage
			if err := json.Unmarshal(env.Data, &req); err != nil {
				d.log.Warn(ctx, "malformed ride request payload", "err", err.Error())
				return
			}
			d.AddOffer(ctx, req)

		case types.MsgRideStatusUpdate:
			if d.OnStatusUpdate != nil {
				d.OnStatusUpdate(ctx, env)
			}
		}
	})
}

// AddOffer creates a RideOffer from the inbound request, annotates it
// with distances from the driver's last known position, and starts its
// countdown.
func (d *Dispatcher) AddOffer(ctx context.Context, req models.RideRequestMessage) models.RideOffer {
	now := time.Now()

	offer := &models.RideOffer{
		ID:               models.NewOfferID(now),
		Request:          req,
		Phase:            types.OfferPending,
		CountdownSeconds: d.cfg.CountdownSeconds,
		CreatedAt:        now,
	}

	if pos, ok := d.position.Current(); ok {
		offer.KmToPickup = geo.HaversineKm(pos.Latitude, pos.Longitude, req.Pickup.Latitude, req.Pickup.Longitude)
	}
	offer.KmPickupToDrop = geo.HaversineKm(
		req.Pickup.Latitude, req.Pickup.Longitude,
		req.Destination.Latitude, req.Destination.Longitude,
	)

	entry := &offerEntry{
		offer: offer,
		stop:  make(chan struct{}),
	}

	d.mu.Lock()
	d.offers = append(d.offers, entry)
	count := len(d.offers)
	d.mu.Unlock()

	metrics.OffersActiveGauge.Set(float64(count))

	go d.runCountdown(ctx, entry)

	ctx = wrap.WithOfferID(ctx, offer.ID)
	d.log.Info(ctx, "offer received",
		"km_to_pickup", offer.KmToPickup,
		"km_pickup_to_drop", offer.KmPickupToDrop,
	)

	if d.alerter != nil {
		d.alerter.NewOffer(ctx, *offer)
	}

	return *offer
}

func (d *Dispatcher) runCountdown(ctx context.Context, e *offerEntry) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			d.tick(ctx, e)
		}
	}
}

// tick advances one offer's countdown. Frozen offers (Accepting) skip;
// an exhausted countdown goes through the shared reject path instead of
// decrementing further, re-firing on later ticks if the operation lock
// is currently held.
func (d *Dispatcher) tick(ctx context.Context, e *offerEntry) {
	d.mu.Lock()
	if e.offer.Phase == types.OfferRemoved {
		d.mu.Unlock()
		return
	}
	if e.offer.Phase == types.OfferAccepting {
		d.mu.Unlock()
		return
	}
	if e.offer.CountdownSeconds > 1 {
		e.offer.CountdownSeconds--
		d.mu.Unlock()
		return
	}
	e.offer.CountdownSeconds = 0
	d.mu.Unlock()

	_ = d.RejectOffer(ctx, e.offer.ID, types.RejectExpired)
}

// RejectOffer removes the offer and notifies the backend. Shared by
// explicit user rejection and countdown expiry. No-op while another
// offer operation is in flight or when the offer no longer exists.
func (d *Dispatcher) RejectOffer(ctx context.Context, id string, reason types.RejectReason) error {
	ctx = wrap.WithLogCtx(ctx, wrap.LogCtx{Action: "reject_offer", OfferID: id})

	d.mu.Lock()
	if d.opInFlight {
		d.mu.Unlock()
		return types.ErrOperationInFlight
	}
	e := d.removeLocked(id)
	if e == nil {
		d.mu.Unlock()
		return types.ErrOfferNotFound
	}
	d.opInFlight = true
	count := len(d.offers)
	d.mu.Unlock()

	metrics.OffersActiveGauge.Set(float64(count))
	if reason == types.RejectExpired {
		metrics.OffersTotal.WithLabelValues(metrics.OutcomeExpired).Inc()
	} else {
		metrics.OffersTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
	}

	d.notifyResult(ctx, types.MsgRideRejected, models.OfferResultMessage{
		RequestKey: e.offer.Request.RequestKey,
		Reason:     string(reason),
	})

	d.log.Info(ctx, "offer rejected", "reason", string(reason))

	d.mu.Lock()
	d.opInFlight = false
	d.mu.Unlock()

	return nil
}

// AcceptOffer freezes the offer's countdown and issues the ride-creation
// call. Success clears every visible offer; failures branch by the
// backend's reason (see domain/types errors).
func (d *Dispatcher) AcceptOffer(ctx context.Context, id string) error {
	ctx = wrap.WithLogCtx(ctx, wrap.LogCtx{Action: "accept_offer", OfferID: id})

	d.mu.Lock()
	if d.opInFlight {
		d.mu.Unlock()
		return types.ErrOperationInFlight
	}
	if d.cfg.DriverID == "" {
		d.mu.Unlock()
		return types.ErrDriverUnknown
	}
	e := d.findLocked(id)
	if e == nil {
		d.mu.Unlock()
		return types.ErrOfferNotFound
	}
	d.opInFlight = true
	e.offer.Phase = types.OfferAccepting // freeze the countdown, keep the timer

	req := api.CreateRideRequest{
		RequestKey:  e.offer.Request.RequestKey,
		RiderID:     e.offer.Request.RiderID,
		Fare:        e.offer.Request.Fare,
		Pickup:      e.offer.Request.Pickup,
		Destination: e.offer.Request.Destination,
	}
	d.mu.Unlock()

	resp, err := d.rides.CreateRide(ctx, req)

	d.mu.Lock()
	// the lock clears last, after all state mutation
	defer func() {
		d.opInFlight = false
		d.mu.Unlock()
	}()

	switch {
	case err == nil:
		// Success is terminal: every sibling offer is discarded
		// client-side without notifying the backend.
		for _, o := range d.offers {
			d.disposeLocked(o)
		}
		d.offers = nil
		metrics.OffersActiveGauge.Set(0)
		metrics.OffersTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()

		d.notifyResult(ctx, types.MsgRideAccepted, models.OfferResultMessage{
			RequestKey: e.offer.Request.RequestKey,
			RiderID:    e.offer.Request.RiderID,
			RideID:     resp.RideID,
		})

		d.log.Info(wrap.WithRideID(ctx, resp.RideID), "ride accepted")

		if d.OnRideCreated != nil {
			go d.OnRideCreated(ctx, resp.RideID)
		}
		return nil

	case errors.Is(err, types.ErrRideTaken):
		// Hard loss: the offer is gone for good.
		d.removeEntryLocked(e)
		metrics.OffersActiveGauge.Set(float64(len(d.offers)))
		metrics.OffersTotal.WithLabelValues(metrics.OutcomeLost).Inc()
		d.log.Info(ctx, "offer lost to another driver")
		return err

	case errors.Is(err, types.ErrRideLocked), errors.Is(err, types.ErrInsufficientBalance):
		// Soft loss: countdown resumes from its frozen value.
		e.offer.Phase = types.OfferPending
		d.log.Info(ctx, "accept refused, offer kept", "err", err.Error())
		return err

	default:
		e.offer.Phase = types.OfferPending
		d.log.Warn(ctx, "accept failed", "err", err.Error())
		if d.OnNotice != nil {
			go d.OnNotice(ctx, "Could not accept the ride, please try again")
		}
		return err
	}
}

// Offers returns a snapshot of the visible offers in insertion order.
func (d *Dispatcher) Offers() []models.RideOffer {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.RideOffer, 0, len(d.offers))
	for _, e := range d.offers {
		out = append(out, *e.offer)
	}
	return out
}

// Offer returns a snapshot of one offer.
func (d *Dispatcher) Offer(id string) (models.RideOffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e := d.findLocked(id); e != nil {
		return *e.offer, true
	}
	return models.RideOffer{}, false
}

// notifyResult is the fire-and-forget event on every admission outcome;
// a transport failure is logged and otherwise absorbed.
func (d *Dispatcher) notifyResult(ctx context.Context, t types.MessageType, msg models.OfferResultMessage) {
	env, err := models.NewDriverEnvelope(t, d.cfg.DriverID, msg)
	if err != nil {
		d.log.Warn(ctx, "failed to build result envelope", "err", err.Error())
		return
	}
	if err := d.transport.Send(env); err != nil {
		d.log.Warn(ctx, "failed to send result envelope", "err", err.Error())
	}
}

func (d *Dispatcher) findLocked(id string) *offerEntry {
	for _, e := range d.offers {
		if e.offer.ID == id {
			return e
		}
	}
	return nil
}

// removeLocked disposes and unlinks the offer, preserving order.
func (d *Dispatcher) removeLocked(id string) *offerEntry {
	for i, e := range d.offers {
		if e.offer.ID == id {
			d.disposeLocked(e)
			d.offers = append(d.offers[:i], d.offers[i+1:]...)
			return e
		}
	}
	return nil
}

func (d *Dispatcher) removeEntryLocked(target *offerEntry) {
	for i, e := range d.offers {
		if e == target {
			d.disposeLocked(e)
			d.offers = append(d.offers[:i], d.offers[i+1:]...)
			return
		}
	}
}

// disposeLocked stops the offer's timer exactly once and marks the
// offer Removed. Every removal path goes through here.
func (d *Dispatcher) disposeLocked(e *offerEntry) {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	e.offer.Phase = types.OfferRemoved
}
