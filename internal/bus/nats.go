// Package bus publishes cycle reports and alert outcomes to NATS.
package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/collect"
	"headless-sentinel/internal/types"
)

const (
	SubjectCycle        = "cycle"
	SubjectFiring       = "firing"
	SubjectActionResult = "action_result"
)

type Publisher struct {
	Conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

func NewPublisher(url, prefix string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("headless-sentinel"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn, prefix: prefix, logger: log.With().Str("component", "bus").Logger()}, nil
}

// Close flushes pending publishes, then closes the connection.
func (p *Publisher) Close() {
	if p.Conn == nil {
		return
	}
	if err := p.Conn.FlushTimeout(5 * time.Second); err != nil {
		p.logger.Warn().Err(err).Msg("NATS flush before close failed")
	}
	p.Conn.Close()
}

// Subject joins the configured prefix and name
func Subject(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (p *Publisher) Publish(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(Subject(p.prefix, name), data)
}

func (p *Publisher) PublishCycle(r *collect.CycleReport) {
	if err := p.Publish(SubjectCycle, r); err != nil {
		p.logger.Warn().Err(err).Msg("Publish cycle report failed")
	}
}

func (p *Publisher) RecordFiring(f *types.Firing) {
	if err := p.Publish(SubjectFiring, f); err != nil {
		p.logger.Warn().Err(err).Str("rule", f.Rule).Msg("Publish firing failed")
	}
}

func (p *Publisher) RecordResult(r types.ActionResult) {
	if err := p.Publish(SubjectActionResult, r); err != nil {
		p.logger.Warn().Err(err).Str("rule", r.Rule).Msg("Publish action result failed")
	}
}
