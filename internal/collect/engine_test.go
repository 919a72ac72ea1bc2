package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/store"
	"headless-sentinel/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func payload(code int, ts time.Time, user string) string {
	return fmt.Sprintf(`<Event xmlns='http://schemas.microsoft.com/win/2004/08/events/event'><System>`+
		`<Provider Name='Microsoft-Windows-Security-Auditing'/><EventID>%d</EventID><Level>0</Level>`+
		`<TimeCreated SystemTime='%s'/></System><EventData><Data Name='TargetUserName'>%s</Data></EventData></Event>`,
		code, ts.UTC().Format(time.RFC3339Nano), user)
}

type fetchCall struct {
	host     string
	category string
	window   types.Window
}

type fakeSource struct {
	mu    sync.Mutex
	calls []fetchCall
	fn    func(host, category string, call int) ([]types.RawRecord, error)
	count map[string]int
}

func (f *fakeSource) Fetch(ctx context.Context, t types.Target, category string, w types.Window) ([]types.RawRecord, error) {
	f.mu.Lock()
	if f.count == nil {
		f.count = make(map[string]int)
	}
	f.count[t.Name]++
	n := f.count[t.Name]
	f.calls = append(f.calls, fetchCall{host: t.Name, category: category, window: w})
	f.mu.Unlock()
	return f.fn(t.Name, category, n)
}

func (f *fakeSource) callsFor(host string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.host == host {
			out = append(out, c)
		}
	}
	return out
}

type fakeStore struct {
	mu         sync.Mutex
	events     map[string]types.Event
	watermarks map[string]time.Time
	failWrites int // remaining BulkInsert calls that fail; -1 fails forever
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]types.Event), watermarks: make(map[string]time.Time)}
}

func (s *fakeStore) BulkInsert(ctx context.Context, events []types.Event) (store.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != 0 {
		if s.failWrites > 0 {
			s.failWrites--
		}
		return store.Ack{}, errors.New("database is locked")
	}
	var ack store.Ack
	for _, e := range events {
		k := e.DedupeKey()
		if _, ok := s.events[k]; ok {
			ack.Duplicates++
			continue
		}
		s.events[k] = e
		ack.Inserted = append(ack.Inserted, e)
	}
	return ack, nil
}

func (s *fakeStore) WatermarkFor(ctx context.Context, host, category string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.watermarks[host+"/"+category]
	return ts, ok, nil
}

func (s *fakeStore) AdvanceWatermark(ctx context.Context, host, category string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.watermarks[host+"/"+category]; !ok || ts.After(cur) {
		s.watermarks[host+"/"+category] = ts
	}
	return nil
}

func (s *fakeStore) watermark(host, category string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.watermarks[host+"/"+category]
	return ts, ok
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func fastRetry(n int) retry.Policy {
	return retry.Policy{MaxAttempts: n, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
}

func newTestEngine(t *testing.T, src *fakeSource, st *fakeStore, categories ...string) *Engine {
	t.Helper()
	if len(categories) == 0 {
		categories = []string{"Security"}
	}
	e, err := NewEngine(src, st, Options{
		Concurrency:     3,
		Categories:      categories,
		DefaultLookback: time.Hour,
		Overlap:         2 * time.Minute,
		CallTimeout:     time.Second,
		TransportRetry:  fastRetry(3),
		StoreRetry:      fastRetry(2),
		Clock:           func() time.Time { return t0.Add(10 * time.Minute) },
	})
	require.NoError(t, err)
	return e
}

func records(host, cat string, payloads ...string) []types.RawRecord {
	out := make([]types.RawRecord, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, types.RawRecord{Host: host, Category: cat, Payload: p})
	}
	return out
}

func TestWindowStartsAtWatermarkMinusOverlap(t *testing.T) {
	st := newFakeStore()
	st.watermarks["dc01/Security"] = t0
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) { return nil, nil }}

	e := newTestEngine(t, src, st)
	rep := e.RunCycle(context.Background(), []types.Target{{Name: "dc01"}}, nil)

	calls := src.callsFor("dc01")
	require.Len(t, calls, 1)
	assert.Equal(t, t0.Add(-2*time.Minute), calls[0].window.Start)
	assert.Equal(t, t0.Add(10*time.Minute), calls[0].window.End)
	assert.Equal(t, StatusOK, rep.Hosts[0].Status)
}

func TestWindowWithoutWatermarkUsesLookback(t *testing.T) {
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) { return nil, nil }}
	e := newTestEngine(t, src, newFakeStore())
	now := t0.Add(10 * time.Minute)

	targets := []types.Target{{Name: "default"}, {Name: "own", Lookback: 3 * time.Hour}}
	e.RunCycle(context.Background(), targets, nil)
	assert.Equal(t, now.Add(-time.Hour), src.callsFor("default")[0].window.Start)
	assert.Equal(t, now.Add(-3*time.Hour), src.callsFor("own")[0].window.Start)

	override := 24 * time.Hour
	e.RunCycle(context.Background(), []types.Target{{Name: "over", Lookback: 3 * time.Hour}}, &override)
	assert.Equal(t, now.Add(-24*time.Hour), src.callsFor("over")[0].window.Start)
}

func TestWatermarkAdvancesToMaxTimestamp(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		// newest record is not the last one received
		return records(host, cat,
			payload(4625, t0.Add(1*time.Minute), "a"),
			payload(4625, t0.Add(5*time.Minute), "b"),
			payload(4625, t0.Add(3*time.Minute), "c"),
		), nil
	}}

	e := newTestEngine(t, src, st)
	rep := e.RunCycle(context.Background(), []types.Target{{Name: "dc01"}}, nil)

	wm, ok := st.watermark("dc01", "Security")
	require.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Minute), wm)
	assert.Equal(t, t0.Add(5*time.Minute), rep.Hosts[0].Watermarks["Security"])
	assert.Equal(t, 3, rep.Ingested)

	require.Len(t, rep.Events, 3)
	assert.True(t, rep.Events[0].Timestamp.Before(rep.Events[1].Timestamp))
	assert.True(t, rep.Events[1].Timestamp.Before(rep.Events[2].Timestamp))
}

func TestRecordsAtOrBeforeWindowStartAreDiscarded(t *testing.T) {
	st := newFakeStore()
	st.watermarks["dc01/Security"] = t0
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		return records(host, cat,
			payload(4625, t0.Add(-2*time.Minute), "at-start"),
			payload(4625, t0.Add(-5*time.Minute), "before"),
			payload(4625, t0.Add(time.Minute), "inside"),
		), nil
	}}

	rep := newTestEngine(t, src, st).RunCycle(context.Background(), []types.Target{{Name: "dc01"}}, nil)
	require.Len(t, rep.Events, 1)
	assert.Equal(t, "inside", rep.Events[0].User)
}

func TestReingestIsIdempotent(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		return records(host, cat,
			payload(4625, t0.Add(1*time.Minute), "a"),
			payload(4625, t0.Add(2*time.Minute), "b"),
			payload(4625, t0.Add(2*time.Minute), "b"), // same record twice in one batch
		), nil
	}}
	targets := []types.Target{{Name: "dc01"}}

	e := newTestEngine(t, src, st)
	first := e.RunCycle(context.Background(), targets, nil)
	assert.Equal(t, 2, first.Ingested)
	assert.Equal(t, 1, first.Duplicates)

	second := e.RunCycle(context.Background(), targets, nil)
	assert.Equal(t, 0, second.Ingested)
	assert.Empty(t, second.Events)
	assert.Equal(t, 2, st.len())

	// A fresh engine has an empty key cache; the store still rejects repeats.
	third := newTestEngine(t, src, st).RunCycle(context.Background(), targets, nil)
	assert.Equal(t, 0, third.Ingested)
	assert.Equal(t, 3, third.Duplicates)
	assert.Equal(t, 2, st.len())
}

func TestUnreachableHostIsIsolated(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		if host == "down" {
			return nil, &types.TransportError{Kind: types.TransportUnreachable, Host: host, Err: errors.New("connection refused")}
		}
		return records(host, cat, payload(7036, t0.Add(time.Minute), "svc")), nil
	}}

	e := newTestEngine(t, src, st, "System", "Security")
	rep := e.RunCycle(context.Background(), []types.Target{{Name: "down"}, {Name: "up"}}, nil)

	down, _ := rep.Host("down")
	up, _ := rep.Host("up")

	assert.Equal(t, StatusUnreachable, down.Status)
	assert.Equal(t, 3, down.Attempts)
	assert.Contains(t, down.Error, "connection refused")
	assert.Len(t, src.callsFor("down"), 3, "remaining categories are skipped")
	_, ok := st.watermark("down", "System")
	assert.False(t, ok)

	assert.Equal(t, StatusOK, up.Status)
	assert.Equal(t, 2, up.Ingested)
	assert.Equal(t, 1, rep.Unreachable)
	_, ok = st.watermark("up", "Security")
	assert.True(t, ok)
}

func TestPermanentFetchErrorIsNotRetried(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		return nil, retry.Permanent(&types.TransportError{Kind: types.TransportAuth, Host: host, Err: errors.New("no credentials")})
	}}

	rep := newTestEngine(t, src, st).RunCycle(context.Background(), []types.Target{{Name: "ghost"}}, nil)
	assert.Equal(t, StatusUnreachable, rep.Hosts[0].Status)
	assert.Equal(t, 1, rep.Hosts[0].Attempts)
	assert.Len(t, src.callsFor("ghost"), 1)
	assert.Contains(t, rep.Hosts[0].Error, "no credentials")
}

func TestFailFailSucceedIsRetriedThenOK(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{fn: func(host, cat string, call int) ([]types.RawRecord, error) {
		if call < 3 {
			return nil, &types.TransportError{Kind: types.TransportTimeout, Host: host, Err: context.DeadlineExceeded}
		}
		return records(host, cat, payload(4625, t0.Add(time.Minute), "a")), nil
	}}

	rep := newTestEngine(t, src, st).RunCycle(context.Background(), []types.Target{{Name: "flaky"}}, nil)
	assert.Equal(t, StatusRetriedThenOK, rep.Hosts[0].Status)
	assert.Equal(t, 3, rep.Hosts[0].Attempts)
	assert.Equal(t, 1, rep.Ingested)
}

func TestStoreFailureLeavesWatermark(t *testing.T) {
	st := newFakeStore()
	st.failWrites = -1
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		return records(host, cat, payload(4625, t0.Add(time.Minute), "a")), nil
	}}

	rep := newTestEngine(t, src, st).RunCycle(context.Background(), []types.Target{{Name: "dc01"}}, nil)

	assert.Equal(t, StatusWriteFailed, rep.Hosts[0].Status)
	assert.Empty(t, rep.Events)
	_, ok := st.watermark("dc01", "Security")
	assert.False(t, ok)
}

func TestStoreWriteRetriedThenSucceeds(t *testing.T) {
	st := newFakeStore()
	st.failWrites = 1
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		return records(host, cat, payload(4625, t0.Add(time.Minute), "a")), nil
	}}

	rep := newTestEngine(t, src, st).RunCycle(context.Background(), []types.Target{{Name: "dc01"}}, nil)
	assert.Equal(t, StatusOK, rep.Hosts[0].Status)
	assert.Equal(t, 1, rep.Ingested)
}

func TestParseErrorsAreCounted(t *testing.T) {
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		return records(host, cat, "garbage", payload(4625, t0.Add(time.Minute), "a"), "<Event/>"), nil
	}}

	rep := newTestEngine(t, src, newFakeStore()).RunCycle(context.Background(), []types.Target{{Name: "dc01"}}, nil)
	assert.Equal(t, StatusOK, rep.Hosts[0].Status)
	assert.Equal(t, 2, rep.ParseErrors)
	assert.Equal(t, 3, rep.Hosts[0].Fetched)
	assert.Equal(t, 1, rep.Ingested)
}

func TestConcurrencyIsBounded(t *testing.T) {
	var inFlight, peak int32
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}}

	var targets []types.Target
	for i := 0; i < 12; i++ {
		targets = append(targets, types.Target{Name: fmt.Sprintf("h%02d", i)})
	}

	rep := newTestEngine(t, src, newFakeStore()).RunCycle(context.Background(), targets, nil)
	assert.Len(t, rep.Hosts, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestCancelledCycleAdvancesNothing(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{fn: func(host, cat string, _ int) ([]types.RawRecord, error) {
		return records(host, cat, payload(4625, t0.Add(time.Minute), "a")), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := newTestEngine(t, src, st).RunCycle(ctx, []types.Target{{Name: "dc01"}}, nil)
	assert.Equal(t, StatusCancelled, rep.Hosts[0].Status)
	assert.Empty(t, rep.Events)
	_, ok := st.watermark("dc01", "Security")
	assert.False(t, ok)
}
