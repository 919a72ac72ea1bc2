package pipeline

import (
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/alert"
	"headless-sentinel/internal/audit"
	"headless-sentinel/internal/types"
)

// Sinks fans firings and results out to several sinks
type Sinks []alert.Sink

func (s Sinks) RecordFiring(f *types.Firing) {
	for _, sink := range s {
		sink.RecordFiring(f)
	}
}

func (s Sinks) RecordResult(r types.ActionResult) {
	for _, sink := range s {
		sink.RecordResult(r)
	}
}

// AuditSink writes to the audit log, logging write failures
type AuditSink struct {
	Log *audit.Logger
}

func (a AuditSink) RecordFiring(f *types.Firing) {
	if err := a.Log.LogFiring(f); err != nil {
		log.Error().Err(err).Str("firing_id", f.ID).Msg("Audit write failed")
	}
}

func (a AuditSink) RecordResult(r types.ActionResult) {
	if err := a.Log.LogResult(r); err != nil {
		log.Error().Err(err).Str("firing_id", r.FiringID).Msg("Audit write failed")
	}
}
