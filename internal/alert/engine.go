// Package alert evaluates sliding-window threshold rules over newly stored
// events and dispatches the rule's actions once per threshold crossing.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/explain"
	"headless-sentinel/internal/types"
)

// Dispatcher executes one action of a firing
type Dispatcher interface {
	Dispatch(ctx context.Context, f *types.Firing, a types.Action) types.ActionResult
}

// Sink receives every firing and every action result
type Sink interface {
	RecordFiring(f *types.Firing)
	RecordResult(r types.ActionResult)
}

type Options struct {
	MaxTrackedKeys int
	Explainer      explain.Explainer
	Sink           Sink
	NewID          func() string
}

// Engine owns all window state. Evaluate may be called from several
// goroutines; state updates are serialized by mu, dispatch happens outside it.
type Engine struct {
	mu     sync.Mutex
	rules  map[string]types.AlertRule
	order  []string
	states map[stateKey]*windowState
	clock  time.Time // newest event time observed; the clock for every window

	maxKeys    int
	dispatcher Dispatcher
	explainer  explain.Explainer
	sink       Sink
	newID      func() string
	logger     zerolog.Logger
}

func NewEngine(rules []types.AlertRule, d Dispatcher, opts Options) *Engine {
	e := &Engine{
		rules:      make(map[string]types.AlertRule, len(rules)),
		states:     make(map[stateKey]*windowState),
		maxKeys:    opts.MaxTrackedKeys,
		dispatcher: d,
		explainer:  opts.Explainer,
		sink:       opts.Sink,
		newID:      opts.NewID,
		logger:     log.With().Str("component", "alert").Logger(),
	}
	if e.maxKeys <= 0 {
		e.maxKeys = MaxTrackedKeys
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	for _, r := range rules {
		if r.GroupBy == "" {
			r.GroupBy = types.GroupByHost
		}
		e.rules[r.Name] = r
		e.order = append(e.order, r.Name)
	}
	return e
}

// Evaluate feeds events (in order) through every rule and dispatches the
// actions of each firing. Actions of one firing run in rule order and do not
// affect each other.
func (e *Engine) Evaluate(ctx context.Context, events []types.Event) []types.ActionResult {
	firings := e.observe(events)

	var results []types.ActionResult
	for _, f := range firings {
		logger := e.logger.With().Str("rule", f.Rule).Str("group_key", f.GroupKey).Logger()
		if e.explainer != nil {
			if err := e.explainer.Explain(ctx, f); err != nil {
				logger.Warn().Err(err).Msg("Explain failed")
			}
		}
		logger.Warn().Int("count", f.Count).Time("fired_at", f.FiredAt).Str("firing_id", f.ID).Msg("Rule fired")
		if e.sink != nil {
			e.sink.RecordFiring(f)
		}

		for _, a := range e.rules[f.Rule].Actions {
			res := e.dispatcher.Dispatch(ctx, f, a)
			if e.sink != nil {
				e.sink.RecordResult(res)
			}
			results = append(results, res)
		}
	}
	return results
}

func (e *Engine) observe(events []types.Event) []*types.Firing {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firings []*types.Firing
	for i := range events {
		ev := &events[i]
		if ev.Timestamp.After(e.clock) {
			e.clock = ev.Timestamp
		}
		now := e.clock

		for _, name := range e.order {
			rule := e.rules[name]
			if !rule.Matches(ev) {
				continue
			}

			k := stateKey{Rule: name, GroupKey: rule.GroupBy.Key(ev)}
			st, ok := e.states[k]
			if !ok {
				if len(e.states) >= e.maxKeys && e.sweep() == 0 {
					e.evictLowPriority()
				}
				st = &windowState{}
				e.states[k] = st
			}

			count := st.observe(ev.Timestamp, now, rule.Window)
			if !st.shouldFire(now, count, rule.Threshold, rule.Window) {
				continue
			}
			st.lastFired = now

			trigger := *ev
			trigger.Raw = ""
			firings = append(firings, &types.Firing{
				ID:       e.newID(),
				Rule:     name,
				GroupKey: k.GroupKey,
				Count:    count,
				Window:   rule.Window,
				FiredAt:  now,
				Trigger:  trigger,
			})
		}
	}
	e.sweep()
	return firings
}

// TrackedKeys returns the number of live (rule, group key) states.
func (e *Engine) TrackedKeys() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// StateSnapshot is the persisted form of one window state
type StateSnapshot struct {
	Rule      string      `json:"rule"`
	GroupKey  string      `json:"group_key"`
	Times     []time.Time `json:"times"`
	Latest    time.Time   `json:"latest"`
	LastFired time.Time   `json:"last_fired"`
}

// Snapshot copies every live state.
func (e *Engine) Snapshot() []StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]StateSnapshot, 0, len(e.states))
	for k, st := range e.states {
		out = append(out, StateSnapshot{
			Rule:      k.Rule,
			GroupKey:  k.GroupKey,
			Times:     append([]time.Time(nil), st.times...),
			Latest:    st.latest,
			LastFired: st.lastFired,
		})
	}
	return out
}

// Restore loads snapshots, skipping rules that no longer exist. It returns
// the number of states restored.
func (e *Engine) Restore(snaps []StateSnapshot) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, s := range snaps {
		if _, ok := e.rules[s.Rule]; !ok {
			continue
		}
		if len(e.states) >= e.maxKeys {
			break
		}
		e.states[stateKey{Rule: s.Rule, GroupKey: s.GroupKey}] = &windowState{
			times:     append([]time.Time(nil), s.Times...),
			latest:    s.Latest,
			lastFired: s.LastFired,
		}
		if s.Latest.After(e.clock) {
			e.clock = s.Latest
		}
		n++
	}
	return n
}
