package ledger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultCleanupSchedule runs retention once a day shortly after midnight.
const DefaultCleanupSchedule = "@daily"

// Cleaner prunes old history on a cron schedule.
type Cleaner struct {
	ledger    *Ledger
	retention time.Duration
	cron      *cron.Cron
}

// NewCleaner registers a retention job. schedule uses the standard five
// field cron syntax or descriptors such as "@daily".
func NewCleaner(l *Ledger, retention time.Duration, schedule string) (*Cleaner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	c := &Cleaner{
		ledger:    l,
		retention: retention,
		cron:      cron.New(),
	}
	if _, err := c.cron.AddFunc(schedule, c.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return c, nil
}

// Start begins the cron ticker.
func (c *Cleaner) Start() {
	c.cron.Start()
	log.Debug().Dur("retention", c.retention).Msg("History cleanup scheduled")
}

// Stop halts the ticker and waits for a running cleanup.
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
}

// RunOnce deletes entries past the retention period.
func (c *Cleaner) RunOnce() {
	deleted, err := c.ledger.DeleteOlderThan(c.retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old history entries")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", c.retention).Msg("Cleaned up old history entries")
	}
}
