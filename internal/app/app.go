package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Temutjin2k/ride-hail-driver/config"
	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/api"
	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/geocode"
	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/storage"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	"github.com/Temutjin2k/ride-hail-driver/internal/service/dispatch"
	"github.com/Temutjin2k/ride-hail-driver/internal/service/location"
	"github.com/Temutjin2k/ride-hail-driver/internal/transport"
	"github.com/Temutjin2k/ride-hail-driver/pkg/fingerprint"
	"github.com/Temutjin2k/ride-hail-driver/pkg/logger"
)

var ErrNoStoredSession = errors.New("no stored session: sign in from the app first")

// FixSource is the device geolocation collaborator. A permission denial
// surfaces as an error from Watch; the gate then simply never gets fixes.
type FixSource interface {
	Watch(ctx context.Context) (<-chan models.PositionSample, error)
}

type App struct {
	cfg config.Config
	log logger.Logger

	identity   *models.DriverIdentity
	channel    *transport.Channel
	gate       *location.Gate
	dispatcher *dispatch.Dispatcher

	fixes FixSource // optional

	signedOut context.CancelCauseFunc
}

// NewApplication wires the dispatch client: storage, authenticated API
// client, transport channel, movement gate and admission controller.
// fixes may be nil when the platform has no geolocation integration.
func NewApplication(ctx context.Context, cfg config.Config, fixes FixSource, log logger.Logger) (*App, error) {
	a := &App{
		cfg:   cfg,
		log:   log,
		fixes: fixes,
	}

	store, err := storage.NewFileStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	client := api.NewClient(
		cfg.API.BaseURL,
		fingerprint.FromHost(),
		store,
		a.onForcedSignOut,
		log,
	)

	identity, err := client.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, api.ErrNoSession) {
			return nil, ErrNoStoredSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	a.identity = identity

	a.channel = transport.NewChannel(transport.Config{
		Endpoint:          cfg.Dispatch.Endpoint,
		DriverID:          identity.DriverID,
		HeartbeatInterval: cfg.Dispatch.HeartbeatInterval,
		ReconnectDelay:    cfg.Dispatch.ReconnectDelay,
	}, log)

	var districts location.DistrictResolver
	if cfg.ExternalAPIConfig.LocationIQapiKey != "" {
		districts = geocode.New(cfg.ExternalAPIConfig.LocationIQapiKey)
	}

	a.gate = location.NewGate(identity.DriverID, a.channel, client, districts, log)

	a.dispatcher = dispatch.NewDispatcher(dispatch.Config{
		DriverID:         identity.DriverID,
		CountdownSeconds: cfg.Dispatch.OfferCountdownSeconds,
	}, a.channel, client, voiceAlerter{log: log}, a.gate, log)

	a.dispatcher.OnRideCreated = func(ctx context.Context, rideID string) {
		log.Info(ctx, "navigating to created ride", "ride_id", rideID)
	}
	a.dispatcher.OnNotice = func(ctx context.Context, text string) {
		log.Warn(ctx, "notice", "text", text)
	}

	return a, nil
}

// Dispatcher exposes the admission controller to the UI layer.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Gate exposes the movement gate to the UI layer.
func (a *App) Gate() *location.Gate {
	return a.gate
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	a.signedOut = cancel

	unsubscribe := a.dispatcher.Start(ctx)
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)

	// Debug listener: /healthz and /metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","transport":"%s"}`, a.channel.State())
	})
	srv := &http.Server{Addr: a.cfg.Debug.Addr, Handler: mux}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	// Dispatch transport. Connect errors are absorbed by the reconnect
	// policy; the first attempt's error is only logged.
	g.Go(func() error {
		if err := a.channel.Connect(); err != nil {
			a.log.Warn(ctx, "initial connect failed, reconnect scheduled", "err", err.Error())
		}
		<-ctx.Done()
		a.channel.Disconnect()
		return nil
	})

	// Geolocation pump into the movement gate.
	if a.fixes != nil {
		g.Go(func() error {
			fixes, err := a.fixes.Watch(ctx)
			if err != nil {
				// permission denial: keep running, no fixes will flow
				a.log.Error(ctx, "geolocation unavailable", err)
				return nil
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case fix, ok := <-fixes:
					if !ok {
						return nil
					}
					if _, err := a.gate.ConsiderFix(ctx, fix); err != nil {
						a.log.Debug(ctx, "fix not propagated", "err", err.Error())
					}
				}
			}
		})
	}

	a.log.Info(ctx, "driver client started",
		"driver_id", a.identity.DriverID,
		"endpoint", a.cfg.Dispatch.Endpoint,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return context.Cause(ctx)
}

// onForcedSignOut is invoked by the request pipeline on session or
// device invalidation and on failed credential renewal.
func (a *App) onForcedSignOut(ctx context.Context, message string) {
	a.log.Warn(ctx, "session terminated", "reason", message)
	if a.signedOut != nil {
		a.signedOut(fmt.Errorf("signed out: %s", message))
	}
}

// voiceAlerter stands in for the platform voice/sound collaborator.
type voiceAlerter struct {
	log logger.Logger
}

func (v voiceAlerter) NewOffer(ctx context.Context, offer models.RideOffer) {
	v.log.Info(ctx, "new ride offer",
		"pickup", offer.Request.Pickup.Address,
		"fare", offer.Request.Fare.TotalFare,
	)
}
