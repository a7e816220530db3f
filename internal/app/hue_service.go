package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/hue"
)

// HueService owns the bridge client.
type HueService struct {
	cfg *config.Config

	Client *hue.Client
}

// NewHueService creates the client without connecting.
func NewHueService(cfg *config.Config) *HueService {
	client := hue.NewClient(cfg.Hue.Bridge, cfg.Hue.Token, cfg.Hue.Timeout.Duration(), cfg.Hue.RateLimitRPS)
	return &HueService{cfg: cfg, Client: client}
}

// Start connects to the Hue bridge.
func (s *HueService) Start(ctx context.Context) error {
	return s.Client.Connect(ctx)
}

// Close releases the client.
func (s *HueService) Close() {
	if err := s.Client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Hue client")
	}
}
