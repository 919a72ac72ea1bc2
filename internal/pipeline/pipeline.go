// Package pipeline drives collection cycles and hands newly stored events to
// the alert runner in cycle order.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/alert"
	"headless-sentinel/internal/collect"
	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/types"
)

// CycleRunner runs one collection cycle over a set of targets
type CycleRunner interface {
	RunCycle(ctx context.Context, targets []types.Target, override *time.Duration) collect.CycleReport
}

// Fleet supplies targets and records their latest status
type Fleet interface {
	Targets() []types.Target
	SetStatus(host, status, errMsg string, at time.Time)
}

// Evaluator queues event batches for alert evaluation in ticket order
type Evaluator interface {
	Reserve() alert.Ticket
	Deliver(t alert.Ticket, events []types.Event) error
	Submit(events []types.Event) error
}

type Pipeline struct {
	collector  CycleRunner
	fleet      Fleet
	alerts     Evaluator
	observers  []func(*collect.CycleReport)
	storeRetry retry.Policy
	logger     zerolog.Logger
}

// New builds a pipeline. alerts may be nil when alerting is disabled.
func New(collector CycleRunner, fleet Fleet, alerts Evaluator) *Pipeline {
	return &Pipeline{
		collector:  collector,
		fleet:      fleet,
		alerts:     alerts,
		storeRetry: retry.DefaultPolicy(),
		logger:     log.With().Str("component", "pipeline").Logger(),
	}
}

// SetStoreRetry sets the policy for spool batch writes.
func (p *Pipeline) SetStoreRetry(policy retry.Policy) {
	p.storeRetry = policy
}

// OnCycle registers fn to receive every finished cycle report.
func (p *Pipeline) OnCycle(fn func(*collect.CycleReport)) {
	p.observers = append(p.observers, fn)
}

// RunOnce runs a single cycle. The alert ticket is taken before collection
// starts so evaluation order follows cycle start order.
func (p *Pipeline) RunOnce(ctx context.Context, override *time.Duration) collect.CycleReport {
	var ticket alert.Ticket
	if p.alerts != nil {
		ticket = p.alerts.Reserve()
	}

	report := p.collector.RunCycle(ctx, p.fleet.Targets(), override)

	for _, h := range report.Hosts {
		p.fleet.SetStatus(h.Host, string(h.Status), h.Error, report.Finished)
	}
	for _, fn := range p.observers {
		fn(&report)
	}

	if p.alerts != nil {
		if err := p.alerts.Deliver(ticket, report.Events); err != nil {
			p.logger.Error().Err(err).Int("events", len(report.Events)).Msg("Events not queued for alerting")
		}
	}

	p.logger.Debug().Int("events", len(report.Events)).Msg("Cycle handed to alerting")
	return report
}

// Run collects every interval until ctx is done. The first cycle starts
// immediately; a cycle that overruns the interval delays the next one.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", interval).Msg("Continuous collection started")
	for {
		p.RunOnce(ctx, nil)

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Continuous collection stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
