package location

import (
	"context"
	"sync"

	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	"github.com/Temutjin2k/ride-hail-driver/pkg/geo"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
	"github.com/Temutjin2k/ride-hail-driver/pkg/metrics"
)

// MinMovementMeters — fixes closer than this to the last accepted fix
// are discarded without touching state or the transport.
const MinMovementMeters = 5.0

// Sender is the slice of the transport channel the gate needs.
type Sender interface {
	Send(env models.Envelope) error
}

// StatusSource re-fetches the driver's authoritative backend status.
type StatusSource interface {
	GetDriverStatus(ctx context.Context) (types.DriverStatus, error)
}

// DistrictResolver reverse-geocodes a coordinate to a district name.
type DistrictResolver interface {
	District(ctx context.Context, latitude, longitude float64) (string, error)
}

// Gate filters raw position fixes down to significant movements and
// maintains the derived heading. It forwards accepted fixes over the
// transport only after re-validating the driver's status against the
// backend's authoritative record; the locally cached online flag is not
// trusted for that side effect.
type Gate struct {
	driverID  string
	transport Sender
	status    StatusSource
	districts DistrictResolver // optional
	log       logger.Logger

	mu         sync.Mutex
	last       *models.PositionSample
	heading    float64
	hasHeading bool
	district   string
}

func NewGate(driverID string, transport Sender, status StatusSource, districts DistrictResolver, log logger.Logger) *Gate {
	return &Gate{
		driverID:  driverID,
		transport: transport,
		status:    status,
		districts: districts,
		log:       log,
	}
}

// ConsiderFix decides whether the fix is worth propagating. The first
// fix is accepted unconditionally; later fixes must move at least
// MinMovementMeters from the last accepted one. Returns whether the fix
// was accepted into state; forwarding errors are reported but do not
// undo the acceptance.
func (g *Gate) ConsiderFix(ctx context.Context, fix models.PositionSample) (bool, error) {
	ctx = wrap.WithAction(ctx, "consider_fix")

	g.mu.Lock()
	if g.last != nil {
		d := geo.HaversineMeters(g.last.Latitude, g.last.Longitude, fix.Latitude, fix.Longitude)
		if d < MinMovementMeters {
			g.mu.Unlock()
			metrics.LocationFixesTotal.WithLabelValues(metrics.DecisionDiscarded).Inc()
			return false, nil
		}
		g.heading = geo.InitialBearing(g.last.Latitude, g.last.Longitude, fix.Latitude, fix.Longitude)
		g.hasHeading = true
	}
	g.last = &fix
	heading := g.heading
	hasHeading := g.hasHeading
	district := g.district
	g.mu.Unlock()

	metrics.LocationFixesTotal.WithLabelValues(metrics.DecisionAccepted).Inc()

	if g.districts != nil {
		go g.resolveDistrict(ctx, fix)
	}

	return true, g.forward(ctx, fix, heading, hasHeading, district)
}

// forward re-validates the driver status and, only if the authoritative
// record says ACTIVE, pushes a locationUpdate envelope.
func (g *Gate) forward(ctx context.Context, fix models.PositionSample, heading float64, hasHeading bool, district string) error {
	status, err := g.status.GetDriverStatus(ctx)
	if err != nil {
		g.log.Warn(ctx, "status re-validation failed, suppressing location send", "err", err.Error())
		return wrap.Error(ctx, err)
	}
	if status != types.StatusActive {
		g.log.Debug(ctx, "driver not active on the backend, suppressing location send",
			"status", status.String(),
		)
		return nil
	}

	payload := models.LocationUpdateMessage{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		District:  district,
	}
	if hasHeading {
		payload.HeadingDegrees = heading
	}

	env, err := models.NewDriverEnvelope(types.MsgLocationUpdate, g.driverID, payload)
	if err != nil {
		return wrap.Error(ctx, err)
	}
	if err := g.transport.Send(env); err != nil {
		return wrap.Error(ctx, err)
	}

	return nil
}

func (g *Gate) resolveDistrict(ctx context.Context, fix models.PositionSample) {
	district, err := g.districts.District(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		g.log.Debug(ctx, "district lookup failed", "err", err.Error())
		return
	}

	g.mu.Lock()
	g.district = district
	g.mu.Unlock()
}

// Current returns the last accepted fix.
func (g *Gate) Current() (models.PositionSample, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last == nil {
		return models.PositionSample{}, false
	}
	return *g.last, true
}

// Heading returns the derived heading in [0,360), valid once two fixes
// have been accepted.
func (g *Gate) Heading() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heading, g.hasHeading
}

// District returns the last resolved district name, possibly empty.
func (g *Gate) District() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.district
}
