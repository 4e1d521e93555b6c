package bot

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs the pruner twice an hour.
const DefaultPruneSchedule = "@every 30m"

// Pruner removes idle sessions on a cron schedule.
type Pruner struct {
	store    *SessionStore
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewPruner validates schedule and returns a stopped pruner.
func NewPruner(store *SessionStore, schedule string, logger *slog.Logger) (*Pruner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	p := &Pruner{
		store:    store,
		schedule: schedule,
		cron:     c,
		logger:   logger.With("component", "pruner"),
	}
	if _, err := c.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("pruner: invalid schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins running the schedule in the background.
func (p *Pruner) Start() {
	p.cron.Start()
	p.logger.Info("session pruner started", "schedule", p.schedule, "ttl", p.store.ttl)
}

// Stop halts the schedule and waits up to 5s for a running prune.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		p.logger.Warn("pruner stop timed out")
	}
}

func (p *Pruner) run() {
	n := p.store.Prune()
	p.logger.Debug("prune run", "pruned", n, "remaining", p.store.Count())
}
