package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/types"
)

// Submitter accepts remediation jobs
type Submitter interface {
	Submit(job Job) error
}

// Dispatcher executes one action of a firing and reports the outcome.
type Dispatcher struct {
	webhooks           *WebhookSender
	executor           Submitter
	remediationEnabled bool
	protected          map[string]bool
	logger             zerolog.Logger
}

// NewDispatcher builds a dispatcher. With remediationEnabled false every
// remediation is a dry run. Protected hosts are never remediated.
func NewDispatcher(webhooks *WebhookSender, executor Submitter, remediationEnabled bool, protected []string) *Dispatcher {
	p := make(map[string]bool, len(protected))
	for _, h := range protected {
		p[strings.ToLower(h)] = true
	}
	return &Dispatcher{
		webhooks:           webhooks,
		executor:           executor,
		remediationEnabled: remediationEnabled,
		protected:          p,
		logger:             log.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, f *types.Firing, a types.Action) types.ActionResult {
	start := time.Now()
	res := types.ActionResult{
		FiringID: f.ID,
		Rule:     f.Rule,
		GroupKey: f.GroupKey,
		Action:   a.Kind(),
	}

	switch act := a.(type) {
	case types.WebhookAction:
		d.webhook(ctx, f, act, &res)
	case types.RemediationAction:
		d.remediate(f, act, &res)
	default:
		res.Error = fmt.Sprintf("unsupported action %T", a)
	}

	res.Latency = time.Since(start)
	res.At = time.Now().UTC()
	return res
}

func (d *Dispatcher) webhook(ctx context.Context, f *types.Firing, act types.WebhookAction, res *types.ActionResult) {
	res.Target = act.URL
	logger := d.logger.With().Str("rule", f.Rule).Str("action", "webhook").Str("hint", string(act.Hint)).Logger()

	body, err := RenderPayload(act.Hint, f)
	if err != nil {
		res.Error = err.Error()
		return
	}

	attempts, err := d.webhooks.Send(ctx, act.URL, body)
	res.Attempts = attempts
	if err != nil {
		res.Error = (&types.ActionDispatchError{Action: types.ActionWebhook, Target: act.URL, Err: err}).Error()
		logger.Error().Err(err).Int("attempts", attempts).Msg("Webhook failed")
		return
	}
	res.Success = true
	logger.Info().Int("attempts", attempts).Msg("Webhook sent")
}

func (d *Dispatcher) remediate(f *types.Firing, act types.RemediationAction, res *types.ActionResult) {
	host := f.Trigger.Host
	res.Target = host
	logger := d.logger.With().Str("rule", f.Rule).Str("action", "remediation").Str("host", host).Logger()

	if d.protected[strings.ToLower(host)] {
		res.Error = "host is protected"
		logger.Warn().Msg("Remediation blocked for protected host")
		return
	}

	script := ExpandTemplate(act.ScriptTemplate, f)

	if !d.remediationEnabled || d.executor == nil {
		res.Success = true
		res.Detail = "dry-run"
		logger.Info().Str("script", script).Msg("Safe mode: would execute remediation")
		return
	}

	res.Attempts = 1
	err := d.executor.Submit(Job{FiringID: f.ID, Rule: f.Rule, GroupKey: f.GroupKey, Host: host, Script: script})
	if err != nil {
		res.Error = (&types.ActionDispatchError{Action: types.ActionRemediation, Target: host, Err: err}).Error()
		logger.Error().Err(err).Msg("Remediation not queued")
		return
	}
	res.Success = true
	res.Detail = "queued"
	logger.Warn().Msg("Remediation queued")
}
