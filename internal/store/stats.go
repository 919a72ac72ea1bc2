package store

import (
	"context"
	"fmt"
	"time"
)

// Stats summarizes the events table
type Stats struct {
	TotalEvents   int            `json:"total_events"`
	UniqueHosts   int            `json:"unique_hosts"`
	BySeverity    map[string]int `json:"by_severity"`
	Oldest        time.Time      `json:"oldest,omitempty"`
	Newest        time.Time      `json:"newest,omitempty"`
	TopEventCodes []CodeCount    `json:"top_event_codes"`
}

// CodeCount pairs an event code with its frequency
type CodeCount struct {
	EventCode int `json:"event_code"`
	Count     int `json:"count"`
}

// Stats computes table statistics, including the topN most frequent codes.
func (s *Store) Stats(ctx context.Context, topN int) (*Stats, error) {
	st := &Stats{BySeverity: make(map[string]int)}

	var oldest, newest *int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT host), MIN(ts), MAX(ts) FROM events").
		Scan(&st.TotalEvents, &st.UniqueHosts, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}
	if oldest != nil {
		st.Oldest = time.Unix(0, *oldest).UTC()
	}
	if newest != nil {
		st.Newest = time.Unix(0, *newest).UTC()
	}

	rows, err := s.db.QueryContext(ctx, "SELECT severity, COUNT(*) FROM events GROUP BY severity")
	if err != nil {
		return nil, fmt.Errorf("stats severity: %w", err)
	}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.BySeverity[sev] = n
	}
	rows.Close()

	if topN <= 0 {
		topN = 10
	}
	rows, err = s.db.QueryContext(ctx,
		"SELECT event_code, COUNT(*) AS c FROM events GROUP BY event_code ORDER BY c DESC, event_code ASC LIMIT ?", topN)
	if err != nil {
		return nil, fmt.Errorf("stats codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc CodeCount
		if err := rows.Scan(&cc.EventCode, &cc.Count); err != nil {
			return nil, err
		}
		st.TopEventCodes = append(st.TopEventCodes, cc)
	}
	return st, rows.Err()
}

// Purge deletes events older than cutoff and returns how many were removed.
// Watermarks are kept so collection does not re-fetch purged history.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Purged old events")
	return n, nil
}

// Vacuum reclaims free pages.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
