// Package collect runs collection cycles across the fleet: bounded worker
// pool, per-call retry, dedupe, durable write, then watermark advance.
package collect

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"headless-sentinel/internal/ingest"
	"headless-sentinel/internal/parser"
	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/store"
	"headless-sentinel/internal/types"
)

// Store is the subset of the event store the engine writes through
type Store interface {
	BulkInsert(ctx context.Context, events []types.Event) (store.Ack, error)
	WatermarkFor(ctx context.Context, host, category string) (time.Time, bool, error)
	AdvanceWatermark(ctx context.Context, host, category string, ts time.Time) error
}

// Options tune the engine. Zero values take the defaults below.
type Options struct {
	Concurrency     int
	Categories      []string
	DefaultLookback time.Duration
	Overlap         time.Duration
	CallTimeout     time.Duration
	CycleTimeout    time.Duration
	TransportRetry  retry.Policy
	StoreRetry      retry.Policy
	DedupeCacheSize int
	Clock           func() time.Time
}

const (
	DefaultConcurrency = 10
	DefaultLookback    = time.Hour
	DefaultOverlap     = 2 * time.Minute
	DefaultCallTimeout = 2 * time.Minute
)

func (o *Options) setDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}
	if len(o.Categories) == 0 {
		o.Categories = []string{"System", "Security", "Application"}
	}
	if o.DefaultLookback <= 0 {
		o.DefaultLookback = DefaultLookback
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.DedupeCacheSize <= 0 {
		o.DedupeCacheSize = 50000
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
}

// Engine is safe for overlapping RunCycle calls; the store keeps writes idempotent.
type Engine struct {
	source ingest.Source
	store  Store
	opts   Options
	recent *lru.Cache[string, struct{}]
	logger zerolog.Logger
}

func NewEngine(source ingest.Source, st Store, opts Options) (*Engine, error) {
	opts.setDefaults()
	recent, err := lru.New[string, struct{}](opts.DedupeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		source: source,
		store:  st,
		opts:   opts,
		recent: recent,
		logger: log.With().Str("component", "collect").Logger(),
	}, nil
}

// RunCycle collects every target once. override, when set, replaces every
// lookback for hosts that have no watermark yet.
func (e *Engine) RunCycle(ctx context.Context, targets []types.Target, override *time.Duration) CycleReport {
	report := CycleReport{Started: e.opts.Clock()}

	if e.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.CycleTimeout)
		defer cancel()
	}

	hosts := make([]HostReport, len(targets))
	batches := make([][]types.Event, len(targets))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			hosts[i], batches[i] = e.collectHost(ctx, t, override)
			return nil
		})
	}
	g.Wait()

	for i, h := range hosts {
		report.Ingested += h.Ingested
		report.Duplicates += h.Duplicates
		report.ParseErrors += h.ParseErrors
		if h.Status == StatusUnreachable {
			report.Unreachable++
		}
		report.Events = append(report.Events, batches[i]...)
	}
	sort.SliceStable(report.Events, func(a, b int) bool {
		return report.Events[a].Timestamp.Before(report.Events[b].Timestamp)
	})

	report.Hosts = hosts
	report.Finished = e.opts.Clock()

	e.logger.Info().
		Int("hosts", len(targets)).
		Int("ingested", report.Ingested).
		Int("duplicates", report.Duplicates).
		Int("parse_errors", report.ParseErrors).
		Int("unreachable", report.Unreachable).
		Dur("duration", report.Duration()).
		Msg("Collection cycle finished")

	return report
}

func (e *Engine) collectHost(ctx context.Context, t types.Target, override *time.Duration) (HostReport, []types.Event) {
	rep := HostReport{Host: t.Name, Status: StatusOK, Watermarks: make(map[string]time.Time)}
	logger := e.logger.With().Str("host", t.Name).Logger()

	var (
		inserted []types.Event
		retried  bool
	)
	for _, cat := range e.opts.Categories {
		if err := ctx.Err(); err != nil {
			rep.Status, rep.Error = StatusCancelled, err.Error()
			break
		}

		res := e.collectCategory(ctx, t, cat, override, logger.With().Str("category", cat).Logger())

		rep.Attempts += res.attempts
		rep.Fetched += res.fetched
		rep.ParseErrors += res.parseErrors
		rep.Duplicates += res.duplicates
		rep.Ingested += len(res.inserted)
		inserted = append(inserted, res.inserted...)
		if res.attempts > 1 {
			retried = true
		}
		if !res.watermark.IsZero() {
			rep.Watermarks[cat] = res.watermark
		}
		if res.status != "" {
			rep.Status = res.status
			if res.err != nil {
				rep.Error = res.err.Error()
			}
			break
		}
	}

	if rep.Status == StatusOK && retried {
		rep.Status = StatusRetriedThenOK
	}
	return rep, inserted
}

type categoryResult struct {
	attempts    int
	fetched     int
	parseErrors int
	duplicates  int
	inserted    []types.Event
	watermark   time.Time
	status      Status // set only when the host must stop
	err         error
}

func (e *Engine) lookbackFor(t types.Target, override *time.Duration) time.Duration {
	switch {
	case override != nil && *override > 0:
		return *override
	case t.Lookback > 0:
		return t.Lookback
	default:
		return e.opts.DefaultLookback
	}
}

func (e *Engine) callTimeout(t types.Target) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return e.opts.CallTimeout
}

func (e *Engine) stopStatus(ctx context.Context, fallback Status) Status {
	if ctx.Err() != nil {
		return StatusCancelled
	}
	return fallback
}

func (e *Engine) collectCategory(ctx context.Context, t types.Target, cat string, override *time.Duration, logger zerolog.Logger) categoryResult {
	var res categoryResult
	now := e.opts.Clock()

	var (
		wm    time.Time
		hasWM bool
	)
	_, err := retry.Do(ctx, e.opts.StoreRetry, func(ctx context.Context, _ int) error {
		var err error
		wm, hasWM, err = e.store.WatermarkFor(ctx, t.Name, cat)
		return err
	})
	if err != nil {
		res.status, res.err = e.stopStatus(ctx, StatusWriteFailed), err
		logger.Error().Err(err).Msg("Watermark read failed")
		return res
	}

	window := types.Window{Start: now.Add(-e.lookbackFor(t, override)), End: now}
	if hasWM {
		window.Start = wm.Add(-e.opts.Overlap)
	}
	if !window.Start.Before(window.End) {
		return res
	}

	var records []types.RawRecord
	res.attempts, err = retry.Do(ctx, e.opts.TransportRetry, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout(t))
		defer cancel()

		recs, err := e.source.Fetch(callCtx, t, cat, window)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Fetch failed")
			return err
		}
		records = recs
		return nil
	})
	if err != nil {
		res.status, res.err = e.stopStatus(ctx, StatusUnreachable), err
		logger.Error().Err(err).Int("attempts", res.attempts).Msg("Host unreachable for this cycle")
		return res
	}
	res.fetched = len(records)

	batch := make([]types.Event, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	var maxTS time.Time
	for _, rec := range records {
		evt, err := parser.ParseEventXML(t.Name, cat, rec.Payload, now)
		if err != nil {
			res.parseErrors++
			logger.Debug().Err(err).Msg("Skipping malformed record")
			continue
		}
		if !evt.Timestamp.After(window.Start) {
			continue
		}
		if evt.Timestamp.After(maxTS) {
			maxTS = evt.Timestamp
		}

		key := evt.DedupeKey()
		if _, dup := seen[key]; dup {
			res.duplicates++
			continue
		}
		seen[key] = struct{}{}
		if e.recent.Contains(key) {
			res.duplicates++
			continue
		}
		batch = append(batch, *evt)
	}

	if maxTS.IsZero() {
		return res
	}

	if len(batch) > 0 {
		var ack store.Ack
		_, err = retry.Do(ctx, e.opts.StoreRetry, func(ctx context.Context, attempt int) error {
			var err error
			ack, err = e.store.BulkInsert(ctx, batch)
			if err != nil {
				logger.Warn().Err(err).Int("attempt", attempt).Msg("Batch write failed")
			}
			return err
		})
		if err != nil {
			res.status = e.stopStatus(ctx, StatusWriteFailed)
			res.err = &types.StoreWriteError{Host: t.Name, Err: err}
			logger.Error().Err(err).Int("batch", len(batch)).Msg("Batch not stored, watermark unchanged")
			return res
		}
		for i := range batch {
			e.recent.Add(batch[i].DedupeKey(), struct{}{})
		}
		res.inserted = ack.Inserted
		res.duplicates += ack.Duplicates
	}

	// The batch is durable; a cancelled ctx must not skip recording that.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.AdvanceWatermark(wctx, t.Name, cat, maxTS); err != nil {
		res.status, res.err = StatusWriteFailed, err
		logger.Error().Err(err).Msg("Watermark advance failed")
		return res
	}
	res.watermark = maxTS

	logger.Debug().
		Int("fetched", res.fetched).
		Int("ingested", len(res.inserted)).
		Int("duplicates", res.duplicates).
		Time("watermark", maxTS).
		Msg("Category collected")
	return res
}
