package backup

import (
	"context"
	"log"
	"time"

	"github.com/omnira-ai/analogic/internal/tasks"
	"github.com/omnira-ai/analogic/pkg/types"
)

// Cadence decides which tiers are due on each scheduler tick. It is a
// modular counter, not wall-clock cron: every tick runs primary, every 6th
// tick adds secondary, every 24th adds archive and resets the counter.
type Cadence struct {
	ticks int
}

// Next advances the counter and returns the tiers due this tick.
func (c *Cadence) Next() []types.BackupTier {
	c.ticks++
	tiers := []types.BackupTier{types.TierPrimary}
	if c.ticks%6 == 0 {
		tiers = append(tiers, types.TierSecondary)
	}
	if c.ticks%24 == 0 {
		tiers = append(tiers, types.TierArchive)
		c.ticks = 0
	}
	return tiers
}

// Scheduler drives full (unscoped) backups on a fixed interval.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	cadence  Cadence
	notify   func(tier types.BackupTier, record *types.BackupRecord, err error)
}

// NewScheduler wires the scheduler to its engine. A non-positive interval
// falls back to hourly.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{engine: engine, interval: interval}
}

// OnResult registers a callback fired after every scheduled run, successful
// or failed. The server uses it to broadcast backup events.
func (s *Scheduler) OnResult(fn func(tier types.BackupTier, record *types.BackupRecord, err error)) {
	s.notify = fn
}

// Tick runs every tier due at this point in the cadence. One tier's failure
// is logged and never blocks the remaining tiers or later ticks.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, tier := range s.cadence.Next() {
		record, err := s.engine.Run(ctx, string(tier), "")
		if err != nil {
			log.Printf("backup: scheduled %s backup failed: %v", tier, err)
		}
		if s.notify != nil {
			s.notify(tier, record, err)
		}
	}
}

// Run ticks the cadence until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	tasks.Every(ctx, "backup scheduler", s.interval, s.Tick)
}
