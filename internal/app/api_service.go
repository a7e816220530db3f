package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/api"
	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/geo"
	"github.com/dokzlo13/huefx/internal/hue"
	"github.com/dokzlo13/huefx/internal/ledger"
	"github.com/dokzlo13/huefx/internal/orchestrator"
)

// APIService runs the HTTP API and the websocket hub.
type APIService struct {
	cfg     *config.Config
	enabled bool

	Hub    *api.Hub
	Server *api.Server
}

// NewAPIService wires the handlers. A nil history disables /api/history.
func NewAPIService(
	cfg *config.Config,
	orch *orchestrator.Orchestrator,
	groups *hue.Client,
	sun *geo.Calculator,
	history *ledger.Ledger,
	tz *time.Location,
	bus *eventbus.Bus,
) *APIService {
	if !cfg.HTTP.IsEnabled() {
		return &APIService{cfg: cfg}
	}

	hub := api.NewHub(cfg.HTTP.AllowedOrigins, func() any { return orch.Active() })
	hub.Subscribe(bus)

	opts := api.Options{
		Addr:     cfg.HTTP.Addr(),
		Effects:  orch,
		Groups:   groups,
		Sun:      sun,
		Hub:      hub,
		Timezone: tz,
	}
	if history != nil {
		opts.History = history
	}

	return &APIService{
		cfg:     cfg,
		enabled: true,
		Hub:     hub,
		Server:  api.NewServer(opts),
	}
}

// Start serves in the background until ctx is cancelled.
func (s *APIService) Start(ctx context.Context) {
	if !s.enabled {
		log.Info().Msg("HTTP API is disabled")
		return
	}

	s.Server.SetReady(true)
	go func() {
		if err := s.Server.Run(ctx, shutdownTimeout(s.cfg)); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()
}
