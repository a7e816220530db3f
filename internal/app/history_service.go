package app

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/ledger"
)

// HistoryService records effect lifecycle events and prunes old ones.
type HistoryService struct {
	Ledger  *ledger.Ledger
	cleaner *ledger.Cleaner
	enabled bool
}

// NewHistoryService subscribes the ledger to bus when history is enabled.
func NewHistoryService(cfg *config.Config, db *sql.DB, bus *eventbus.Bus) (*HistoryService, error) {
	if !cfg.Ledger.IsEnabled() {
		return &HistoryService{}, nil
	}

	l := ledger.New(db)
	cleaner, err := ledger.NewCleaner(l, cfg.Ledger.Retention.Duration(), cfg.Ledger.CleanupSchedule)
	if err != nil {
		return nil, err
	}
	l.Subscribe(bus)

	return &HistoryService{Ledger: l, cleaner: cleaner, enabled: true}, nil
}

// IsEnabled returns whether history is recorded.
func (s *HistoryService) IsEnabled() bool {
	return s.enabled
}

// Start prunes once and schedules the periodic cleanup.
func (s *HistoryService) Start(ctx context.Context) {
	if !s.enabled {
		log.Info().Msg("Effect history is disabled")
		return
	}
	s.cleaner.RunOnce()
	s.cleaner.Start()
}

// Close stops the cleanup schedule.
func (s *HistoryService) Close() {
	if s.cleaner != nil {
		s.cleaner.Stop()
	}
}
