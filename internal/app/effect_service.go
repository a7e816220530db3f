package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/orchestrator"
	"github.com/dokzlo13/huefx/internal/scheduler"
	"github.com/dokzlo13/huefx/internal/storage"
)

// EffectService wires schedule resolution, executor construction and the
// orchestrator.
type EffectService struct {
	Resolver     *scheduler.Resolver
	Factory      *effect.Factory
	Orchestrator *orchestrator.Orchestrator
}

// NewEffectService creates the orchestrator over store.
func NewEffectService(
	store *storage.FileStore,
	gw effect.Gateway,
	sun scheduler.SunTimesProvider,
	tz *time.Location,
	bus *eventbus.Bus,
) *EffectService {
	resolver := scheduler.NewResolver(sun, tz)
	factory := &effect.Factory{
		Gateway:  gw,
		Resolver: resolver,
		Clock:    effect.RealClock{},
	}

	return &EffectService{
		Resolver:     resolver,
		Factory:      factory,
		Orchestrator: orchestrator.New(store, factory, bus),
	}
}

// Start resumes the persisted effect and supervises it until ctx ends.
func (s *EffectService) Start(ctx context.Context) {
	if err := s.Orchestrator.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resume effect")
	}

	go s.Orchestrator.Run(ctx)
}
