package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WatermarkFor returns the max ingested timestamp for (host, category).
// ok is false when nothing was ingested yet.
func (s *Store) WatermarkFor(ctx context.Context, host, category string) (time.Time, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		"SELECT ts FROM watermarks WHERE host = ? AND category = ?", host, category).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("watermark %s/%s: %w", host, category, err)
	}
	return time.Unix(0, ts).UTC(), true, nil
}

// AdvanceWatermark moves the watermark forward to ts. A ts at or before the
// stored value leaves it unchanged.
func (s *Store) AdvanceWatermark(ctx context.Context, host, category string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (host, category, ts, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(host, category) DO UPDATE SET
			ts = excluded.ts,
			updated_at = excluded.updated_at
		WHERE excluded.ts > watermarks.ts
	`, host, category, ts.UTC().UnixNano(), time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("advance watermark %s/%s: %w", host, category, err)
	}
	return nil
}

// Watermark is one row of the watermarks table
type Watermark struct {
	Host     string    `json:"host"`
	Category string    `json:"category"`
	TS       time.Time `json:"ts"`
}

// Watermarks lists every stored watermark.
func (s *Store) Watermarks(ctx context.Context) ([]Watermark, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT host, category, ts FROM watermarks ORDER BY host, category")
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	var out []Watermark
	for rows.Next() {
		var w Watermark
		var ts int64
		if err := rows.Scan(&w.Host, &w.Category, &ts); err != nil {
			return nil, err
		}
		w.TS = time.Unix(0, ts).UTC()
		out = append(out, w)
	}
	return out, rows.Err()
}
