package alert

import (
	"sort"
	"time"
)

// MaxTrackedKeys bounds the (rule, group key) table
const MaxTrackedKeys = 5000

type stateKey struct {
	Rule     string
	GroupKey string
}

// windowState is the sliding window of one (rule, group key).
// times is ascending; latest is the newest event time seen for this key.
type windowState struct {
	times     []time.Time
	latest    time.Time
	lastFired time.Time
}

// observe records ts and reports the count inside (now-window, now]. now is
// the engine clock, so a late event at or before now-window never counts.
func (s *windowState) observe(ts, now time.Time, window time.Duration) int {
	if ts.After(s.latest) {
		s.latest = ts
	}
	cutoff := now.Add(-window)

	if ts.After(cutoff) {
		i := sort.Search(len(s.times), func(i int) bool { return s.times[i].After(ts) })
		s.times = append(s.times, time.Time{})
		copy(s.times[i+1:], s.times[i:])
		s.times[i] = ts
	}
	s.prune(cutoff)
	return len(s.times)
}

// prune drops timestamps at or before cutoff
func (s *windowState) prune(cutoff time.Time) {
	i := sort.Search(len(s.times), func(i int) bool { return s.times[i].After(cutoff) })
	if i > 0 {
		s.times = append(s.times[:0], s.times[i:]...)
	}
}

// shouldFire applies the edge trigger: at or over threshold, and the last
// firing (if any) is at least one window old.
func (s *windowState) shouldFire(now time.Time, count, threshold int, window time.Duration) bool {
	if count < threshold {
		return false
	}
	return s.lastFired.IsZero() || now.Sub(s.lastFired) >= window
}

// idle reports whether the state is indistinguishable from a fresh one at
// clock: nothing left to count and no firing that could still block one.
func (s *windowState) idle(clock time.Time, window time.Duration) bool {
	cutoff := clock.Add(-window)
	if len(s.times) > 0 && s.times[len(s.times)-1].After(cutoff) {
		return false
	}
	return s.lastFired.IsZero() || clock.Sub(s.lastFired) >= window
}

// evictLowPriority removes one entry. States whose last firing still blocks a
// re-fire go last; otherwise the fewest timestamps, then the stalest key.
// Caller must hold the engine lock.
func (e *Engine) evictLowPriority() {
	var (
		best     stateKey
		found    bool
		blocking bool
		fewest   int
		oldest   time.Time
	)
	for k, st := range e.states {
		b := !st.lastFired.IsZero() && e.clock.Sub(st.lastFired) < e.rules[k.Rule].Window
		n := len(st.times)
		better := !found ||
			(!b && blocking) ||
			(b == blocking && (n < fewest || (n == fewest && st.latest.Before(oldest))))
		if better {
			best, blocking, fewest, oldest, found = k, b, n, st.latest, true
		}
	}
	if found {
		delete(e.states, best)
		e.logger.Warn().Str("rule", best.Rule).Str("group_key", best.GroupKey).Bool("recently_fired", blocking).Msg("Window table full, evicted state")
	}
}

// sweep drops idle states. Caller must hold the engine lock.
func (e *Engine) sweep() int {
	removed := 0
	for k, st := range e.states {
		rule, ok := e.rules[k.Rule]
		if !ok || st.idle(e.clock, rule.Window) {
			delete(e.states, k)
			removed++
		}
	}
	return removed
}
