package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/api"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []models.Envelope

	handlers []func(models.Envelope)
}

func (f *fakeTransport) Send(env models.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) OnMessage(h func(models.Envelope)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
	return func() {}
}

func (f *fakeTransport) envelopes(t types.MessageType) []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Envelope
	for _, e := range f.sent {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeRides scripts the ride-creation outcome. When blocked is non-nil
// the call parks until the channel is closed.
type fakeRides struct {
	mu      sync.Mutex
	err     error
	rideID  string
	blocked chan struct{}
	calls   int
}

func (f *fakeRides) CreateRide(ctx context.Context, req api.CreateRideRequest) (*api.CreateRideResponse, error) {
	f.mu.Lock()
	f.calls++
	blocked := f.blocked
	err := f.err
	rideID := f.rideID
	f.mu.Unlock()

	if blocked != nil {
		<-blocked
	}
	if err != nil {
		return nil, err
	}
	return &api.CreateRideResponse{RideID: rideID}, nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	count int
}

func (f *fakeAlerter) NewOffer(ctx context.Context, offer models.RideOffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

type fixedPosition struct{}

func (fixedPosition) Current() (models.PositionSample, bool) {
	return models.PositionSample{Latitude: 51.1694, Longitude: 71.4491}, true
}

func testDispatcher(t *testing.T, cfg Config, rides *fakeRides) (*Dispatcher, *fakeTransport, *fakeAlerter) {
	tr := &fakeTransport{}
	al := &fakeAlerter{}
	if cfg.DriverID == "" {
		cfg.DriverID = "driver-1"
	}
	d := NewDispatcher(cfg, tr, rides, al, fixedPosition{}, logger.InitLogger("test", logger.LevelError))
	return d, tr, al
}

func request(key string) models.RideRequestMessage {
	return models.RideRequestMessage{
		RequestKey: key,
		RiderID:    "rider-1",
		Pickup:     models.Location{Latitude: 51.17, Longitude: 71.45},
		Destination: models.Location{
			Latitude: 51.20, Longitude: 71.50,
		},
		Fare: models.FareBreakdown{TotalFare: 1800, DriverEarnings: 1440},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestAddOffer_AnnotatesDistancesAndAlerts(t *testing.T) {
	d, _, al := testDispatcher(t, Config{TickInterval: time.Hour}, &fakeRides{})

	offer := d.AddOffer(context.Background(), request("rk-1"))

	if offer.Phase != types.OfferPending {
		t.Errorf("phase: got %s", offer.Phase)
	}
	if offer.CountdownSeconds != DefaultCountdownSeconds {
		t.Errorf("countdown: got %d", offer.CountdownSeconds)
	}
	if offer.KmToPickup <= 0 || offer.KmPickupToDrop <= 0 {
		t.Errorf("distances must be computed, got %f / %f", offer.KmToPickup, offer.KmPickupToDrop)
	}
	if offer.ID == "" {
		t.Errorf("offer id must be generated")
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if al.count != 1 {
		t.Errorf("voice alert count: got %d", al.count)
	}
}

func TestCountdown_ExpiryRejectsExactlyOnce(t *testing.T) {
	d, tr, _ := testDispatcher(t, Config{CountdownSeconds: 3, TickInterval: 10 * time.Millisecond}, &fakeRides{})

	d.AddOffer(context.Background(), request("rk-expire"))

	waitFor(t, 2*time.Second, func() bool { return len(d.Offers()) == 0 })
	// allow any stray ticks to fire
	time.Sleep(50 * time.Millisecond)

	rejected := tr.envelopes(types.MsgRideRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected exactly one reject notification, got %d", len(rejected))
	}
	if rejected[0].Role != models.RoleDriver || rejected[0].DriverID != "driver-1" {
		t.Errorf("reject envelope must carry driver role and id: %+v", rejected[0])
	}
}

func TestCountdown_Monotonic(t *testing.T) {
	d, _, _ := testDispatcher(t, Config{CountdownSeconds: 30, TickInterval: 10 * time.Millisecond}, &fakeRides{})

	offer := d.AddOffer(context.Background(), request("rk-tick"))

	var prev = offer.CountdownSeconds
	waitFor(t, 2*time.Second, func() bool {
		cur, ok := d.Offer(offer.ID)
		if !ok {
			t.Fatalf("offer disappeared mid-test")
		}
		if cur.CountdownSeconds > prev {
			t.Fatalf("countdown increased: %d -> %d", prev, cur.CountdownSeconds)
		}
		prev = cur.CountdownSeconds
		return cur.CountdownSeconds <= 25
	})
}

func TestRejectOffer_RemovesAndNotifies(t *testing.T) {
	d, tr, _ := testDispatcher(t, Config{TickInterval: time.Hour}, &fakeRides{})

	offer := d.AddOffer(context.Background(), request("rk-2"))
	if err := d.RejectOffer(context.Background(), offer.ID, types.RejectByDriver); err != nil {
		t.Fatalf("RejectOffer: %v", err)
	}

	if len(d.Offers()) != 0 {
		t.Fatalf("offer must be removed")
	}

	rejected := tr.envelopes(types.MsgRideRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected one reject notification, got %d", len(rejected))
	}

	// rejecting again is a no-op on a missing offer
	if err := d.RejectOffer(context.Background(), offer.ID, types.RejectByDriver); !errors.Is(err, types.ErrOfferNotFound) {
		t.Fatalf("second reject: got %v", err)
	}
}

func TestAcceptOffer_SuccessClearsAllOffers(t *testing.T) {
	rides := &fakeRides{rideID: "ride-77"}
	d, tr, _ := testDispatcher(t, Config{TickInterval: time.Hour}, rides)

	a := d.AddOffer(context.Background(), request("rk-a"))
	d.AddOffer(context.Background(), request("rk-b"))
	d.AddOffer(context.Background(), request("rk-c"))

	var navigated string
	done := make(chan struct{})
	d.OnRideCreated = func(ctx context.Context, rideID string) {
		navigated = rideID
		close(done)
	}

	if err := d.AcceptOffer(context.Background(), a.ID); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}

	if len(d.Offers()) != 0 {
		t.Fatalf("accept success must clear every offer, %d left", len(d.Offers()))
	}

	accepted := tr.envelopes(types.MsgRideAccepted)
	if len(accepted) != 1 {
		t.Fatalf("expected one accept notification, got %d", len(accepted))
	}
	// siblings are discarded silently, without telling the backend
	if got := tr.envelopes(types.MsgRideRejected); len(got) != 0 {
		t.Fatalf("sibling offers must not produce reject notifications, got %d", len(got))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("caller was not signalled to navigate")
	}
	if navigated != "ride-77" {
		t.Fatalf("navigate target: got %q", navigated)
	}
}

func TestAcceptOffer_GlobalMutualExclusion(t *testing.T) {
	rides := &fakeRides{rideID: "ride-1", blocked: make(chan struct{})}
	d, _, _ := testDispatcher(t, Config{TickInterval: time.Hour}, rides)

	a := d.AddOffer(context.Background(), request("rk-a"))
	b := d.AddOffer(context.Background(), request("rk-b"))

	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- d.AcceptOffer(context.Background(), a.ID)
	}()

	// wait until the accept is parked inside the ride-creation call
	waitFor(t, time.Second, func() bool {
		rides.mu.Lock()
		defer rides.mu.Unlock()
		return rides.calls == 1
	})

	if err := d.AcceptOffer(context.Background(), b.ID); !errors.Is(err, types.ErrOperationInFlight) {
		t.Fatalf("concurrent accept of B: got %v, want ErrOperationInFlight", err)
	}
	if err := d.RejectOffer(context.Background(), b.ID, types.RejectByDriver); !errors.Is(err, types.ErrOperationInFlight) {
		t.Fatalf("concurrent reject of B: got %v, want ErrOperationInFlight", err)
	}

	close(rides.blocked)
	if err := <-acceptDone; err != nil {
		t.Fatalf("accept of A: %v", err)
	}

	// the lock is released once A's operation completed
	if err := d.RejectOffer(context.Background(), b.ID, types.RejectByDriver); !errors.Is(err, types.ErrOfferNotFound) {
		// B was cleared by A's successful accept
		t.Fatalf("reject after completion: got %v, want ErrOfferNotFound", err)
	}
}

func TestAcceptOffer_HardLossRemovesOffer(t *testing.T) {
	rides := &fakeRides{err: types.ErrRideTaken}
	d, _, _ := testDispatcher(t, Config{TickInterval: time.Hour}, rides)

	a := d.AddOffer(context.Background(), request("rk-a"))
	b := d.AddOffer(context.Background(), request("rk-b"))

	if err := d.AcceptOffer(context.Background(), a.ID); !errors.Is(err, types.ErrRideTaken) {
		t.Fatalf("AcceptOffer: got %v, want ErrRideTaken", err)
	}

	if _, ok := d.Offer(a.ID); ok {
		t.Fatalf("hard loss must remove the offer permanently")
	}
	if _, ok := d.Offer(b.ID); !ok {
		t.Fatalf("sibling offer must survive a hard loss")
	}
}

func TestAcceptOffer_SoftFailResumesCountdown(t *testing.T) {
	for _, softErr := range []error{types.ErrRideLocked, types.ErrInsufficientBalance} {
		t.Run(softErr.Error(), func(t *testing.T) {
			rides := &fakeRides{err: softErr}
			d, _, _ := testDispatcher(t, Config{CountdownSeconds: 42, TickInterval: time.Hour}, rides)

			a := d.AddOffer(context.Background(), request("rk-a"))

			if err := d.AcceptOffer(context.Background(), a.ID); !errors.Is(err, softErr) {
				t.Fatalf("AcceptOffer: got %v, want %v", err, softErr)
			}

			got, ok := d.Offer(a.ID)
			if !ok {
				t.Fatalf("soft failure must keep the offer visible")
			}
			if got.Phase != types.OfferPending {
				t.Fatalf("phase after soft failure: got %s, want PENDING", got.Phase)
			}
			if got.CountdownSeconds != 42 {
				t.Fatalf("countdown must resume from its frozen value: got %d, want 42", got.CountdownSeconds)
			}

			// the lock is free again: a reject now succeeds
			if err := d.RejectOffer(context.Background(), a.ID, types.RejectByDriver); err != nil {
				t.Fatalf("reject after soft failure: %v", err)
			}
		})
	}
}

func TestAcceptOffer_UnknownDriverIsNoOp(t *testing.T) {
	d, _, _ := testDispatcher(t, Config{DriverID: "driver-1", TickInterval: time.Hour}, &fakeRides{})
	d.cfg.DriverID = ""

	a := d.AddOffer(context.Background(), request("rk-a"))
	if err := d.AcceptOffer(context.Background(), a.ID); !errors.Is(err, types.ErrDriverUnknown) {
		t.Fatalf("got %v, want ErrDriverUnknown", err)
	}
}

func TestStart_FeedsInboundRideRequests(t *testing.T) {
	d, tr, _ := testDispatcher(t, Config{TickInterval: time.Hour}, &fakeRides{})
	d.Start(context.Background())

	env, err := models.NewDriverEnvelope(types.MsgRideRequest, "", request("rk-in"))
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	tr.mu.Lock()
	handlers := append([]func(models.Envelope){}, tr.handlers...)
	tr.mu.Unlock()
	if len(handlers) != 1 {
		t.Fatalf("Start must subscribe exactly once, got %d", len(handlers))
	}
	handlers[0](env)

	offers := d.Offers()
	if len(offers) != 1 {
		t.Fatalf("inbound ride request must create an offer, got %d", len(offers))
	}
	if offers[0].Request.RequestKey != "rk-in" {
		t.Fatalf("request key: got %q", offers[0].Request.RequestKey)
	}
}
