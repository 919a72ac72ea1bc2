package pipeline

import (
	"context"
	"time"

	"headless-sentinel/internal/ingest"
	"headless-sentinel/internal/parser"
	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/store"
	"headless-sentinel/internal/types"
)

// EventWriter stores a batch and reports which events were new
type EventWriter interface {
	BulkInsert(ctx context.Context, events []types.Event) (store.Ack, error)
}

// SpoolStats counts what IngestSpool did
type SpoolStats struct {
	Lines       int
	Ingested    int
	Duplicates  int
	ParseErrors int
	WriteErrors int
}

const (
	spoolBatchSize  = 200
	spoolFlushEvery = time.Second
	// failed batches are kept for the next flush up to this many events
	spoolMaxPending = 10 * spoolBatchSize
)

// IngestSpool parses forwarded records from items, stores them in batches and
// queues new events for alerting. It returns when items closes or ctx is done.
func (p *Pipeline) IngestSpool(ctx context.Context, items <-chan ingest.SpoolItem, w EventWriter) SpoolStats {
	var (
		stats SpoolStats
		buf   []types.Event
	)
	ticker := time.NewTicker(spoolFlushEvery)
	defer ticker.Stop()

	// flush writes buf under the store retry policy. A failed batch stays
	// buffered unless this is the last flush or the buffer is over its cap.
	flush := func(final bool) {
		if len(buf) == 0 {
			return
		}
		var ack store.Ack
		attempts, err := retry.Do(context.WithoutCancel(ctx), p.storeRetry, func(ctx context.Context, _ int) error {
			var err error
			ack, err = w.BulkInsert(ctx, buf)
			return err
		})
		if err != nil {
			if !final && len(buf) < spoolMaxPending {
				p.logger.Warn().Err(err).Int("attempts", attempts).Int("pending", len(buf)).Msg("Spool batch write failed, keeping batch")
				return
			}
			stats.WriteErrors += len(buf)
			p.logger.Error().Err(err).Int("attempts", attempts).Int("events", len(buf)).Bool("final", final).Msg("Spool batch write failed, events lost")
			buf = buf[:0]
			return
		}
		stats.Ingested += len(ack.Inserted)
		stats.Duplicates += ack.Duplicates
		if p.alerts != nil && len(ack.Inserted) > 0 {
			if err := p.alerts.Submit(ack.Inserted); err != nil {
				p.logger.Error().Err(err).Msg("Spool events not queued for alerting")
			}
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(true)
			return stats
		case <-ticker.C:
			flush(false)
		case item, ok := <-items:
			if !ok {
				flush(true)
				return stats
			}
			stats.Lines++
			if item.Err != nil {
				stats.ParseErrors++
				p.logger.Warn().Err(item.Err).Int("line", item.Line).Msg("Skipping spool line")
				continue
			}
			ev, err := parser.ParseEventXML(item.Record.Host, item.Record.Category, item.Record.Payload, time.Now().UTC())
			if err != nil {
				stats.ParseErrors++
				p.logger.Warn().Err(err).Str("host", item.Record.Host).Int("line", item.Line).Msg("Skipping malformed spooled event")
				continue
			}
			buf = append(buf, *ev)
			// a kept batch is retried once per further full batch, not per line
			if len(buf)%spoolBatchSize == 0 {
				flush(false)
			}
		}
	}
}
