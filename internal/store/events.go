package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"headless-sentinel/internal/types"
)

// Ack confirms a durable batch write. Inserted holds the events that were new
// to the store, in input order; Duplicates counts the ones already present.
type Ack struct {
	Inserted   []types.Event
	Duplicates int
}

// BulkInsert writes the batch in one transaction. Re-inserting an event with
// the same dedupe key is a no-op, so the call is idempotent.
func (s *Store) BulkInsert(ctx context.Context, events []types.Event) (Ack, error) {
	var ack Ack
	if len(events) == 0 {
		return ack, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ack, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events
		(dedupe_key, ts, host, category, event_code, severity, source, principal, message, raw, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return ack, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := make([]types.Event, 0, len(events))
	for _, e := range events {
		res, err := stmt.ExecContext(ctx,
			e.DedupeKey(),
			e.Timestamp.UTC().UnixNano(),
			e.Host,
			e.Category,
			e.EventCode,
			string(e.Severity),
			e.Source,
			e.User,
			e.Message,
			compress(e.Raw),
			e.IngestedAt.UTC().UnixNano(),
		)
		if err != nil {
			return Ack{}, fmt.Errorf("insert %s/%s: %w", e.Host, e.Category, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Ack{}, err
		}
		if n == 0 {
			ack.Duplicates++
			continue
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
		inserted = append(inserted, e)
	}

	if err := tx.Commit(); err != nil {
		return Ack{}, fmt.Errorf("commit: %w", err)
	}
	ack.Inserted = inserted
	return ack, nil
}

// Filter narrows a Query. Zero values mean "any".
type Filter struct {
	Host      string
	Category  string
	EventCode int
	Severity  types.Severity
	Since     time.Time
	Until     time.Time
	Limit     int
	Ascending bool
	WithRaw   bool
}

const defaultQueryLimit = 100

// Query returns events matching f, newest first unless f.Ascending.
func (s *Store) Query(ctx context.Context, f Filter) ([]types.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Host != "" {
		where = append(where, "host = ?")
		args = append(args, f.Host)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.EventCode != 0 {
		where = append(where, "event_code = ?")
		args = append(args, f.EventCode)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UTC().UnixNano())
	}

	rawCol := "NULL"
	if f.WithRaw {
		rawCol = "raw"
	}
	q := "SELECT id, ts, host, category, event_code, severity, source, principal, message, " + rawCol + ", ingested_at FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Ascending {
		q += " ORDER BY ts ASC, id ASC"
	} else {
		q += " ORDER BY ts DESC, id DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			e          types.Event
			ts, ingest int64
			sev        string
			raw        []byte
		)
		if err := rows.Scan(&e.ID, &ts, &e.Host, &e.Category, &e.EventCode, &sev, &e.Source, &e.User, &e.Message, &raw, &ingest); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.IngestedAt = time.Unix(0, ingest).UTC()
		e.Severity = types.Severity(sev)
		if len(raw) > 0 {
			if e.Raw, err = decompress(raw); err != nil {
				s.logger.Warn().Err(err).Int64("id", e.ID).Msg("Corrupt raw payload")
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
