package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
)

// App runs the huefx daemon: the bridge client, the effect orchestrator and
// the optional HTTP and MQTT surfaces.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New wires every service without touching the network.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start connects to the bridge, resumes the persisted effect and starts the
// outer surfaces. Cancelling ctx begins shutdown.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	ev := log.Info().Str("timezone", a.cfg.Geo.Timezone)
	if a.cfg.HTTP.IsEnabled() {
		ev = ev.Str("http", a.cfg.HTTP.Addr())
	}
	if a.cfg.MQTT.Enabled {
		ev = ev.Str("mqtt", a.cfg.MQTT.Broker)
	}
	ev.Msg("huefx started")
	return nil
}

// Stop cancels the run context, gives the active effect time to restore its
// lights and releases every resource.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until shutdown begins.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ResetEffects marks every stored effect inactive so nothing resumes.
// Used by the --reset-effects flag.
func (a *App) ResetEffects() error {
	if a.services != nil {
		return a.services.Effects.Orchestrator.Deactivate()
	}
	return nil
}

// SignalContext returns a context cancelled by SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
