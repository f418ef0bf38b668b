package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/gatekeeper-be/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const runTimeout = 30 * time.Second

// Pruner periodically removes expired blacklist entries and old events.
type Pruner struct {
	cron      *cron.Cron
	blacklist services.Blacklist
	events    services.EventServiceProvider
	retention time.Duration
	now       func() time.Time
}

// NewPruner creates a pruner running on the given cron schedule
// (standard five-field syntax or descriptors such as "@every 10m").
func NewPruner(schedule string, blacklist services.Blacklist, events services.EventServiceProvider, retention time.Duration) (*Pruner, error) {
	p := &Pruner{
		cron:      cron.New(),
		blacklist: blacklist,
		events:    events,
		retention: retention,
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start runs the schedule in the background.
func (p *Pruner) Start() {
	log.Info().Msg("Starting background pruner...")
	p.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
	log.Info().Msg("Stopped background pruner.")
}

// RunOnce performs a single pruning pass.
func (p *Pruner) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	now := p.now()

	tokens, err := p.blacklist.Prune(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Pruner: failed to prune revoked tokens")
	}

	var events int64
	if p.retention > 0 {
		events, err = p.events.DeleteEventsBefore(ctx, now.Add(-p.retention))
		if err != nil {
			log.Error().Err(err).Msg("Pruner: failed to prune events")
		}
	}

	log.Debug().Int64("revoked_tokens", tokens).Int64("events", events).Msg("Pruner: pass complete")
}
