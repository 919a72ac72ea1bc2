// Package state persists alert window state across restarts.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/alert"
)

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore shares an already opened database handle.
func NewStore(db *sql.DB) (*Store, error) {
	query := `
	CREATE TABLE IF NOT EXISTS rule_windows (
		rule TEXT NOT NULL,
		group_key TEXT NOT NULL,
		times TEXT NOT NULL,
		latest INTEGER NOT NULL,
		last_fired INTEGER NOT NULL,
		PRIMARY KEY (rule, group_key)
	);`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("init rule_windows: %w", err)
	}
	return &Store{db: db, logger: log.With().Str("component", "state").Logger()}, nil
}

// SaveAll replaces the stored snapshot.
func (s *Store) SaveAll(ctx context.Context, snaps []alert.StateSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_windows`); err != nil {
		return fmt.Errorf("clear rule_windows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_windows (rule, group_key, times, latest, last_fired)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		timesJSON, err := json.Marshal(snap.Times)
		if err != nil {
			return fmt.Errorf("encode times for %s/%s: %w", snap.Rule, snap.GroupKey, err)
		}
		if _, err := stmt.ExecContext(ctx, snap.Rule, snap.GroupKey, string(timesJSON), unixNano(snap.Latest), unixNano(snap.LastFired)); err != nil {
			return fmt.Errorf("save %s/%s: %w", snap.Rule, snap.GroupKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug().Int("states", len(snaps)).Msg("Alert state saved")
	return nil
}

// LoadAll reads the stored snapshot. Unreadable rows are skipped.
func (s *Store) LoadAll(ctx context.Context) ([]alert.StateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rule, group_key, times, latest, last_fired FROM rule_windows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.StateSnapshot
	for rows.Next() {
		var (
			snap              alert.StateSnapshot
			timesJSON         string
			latest, lastFired int64
		)
		if err := rows.Scan(&snap.Rule, &snap.GroupKey, &timesJSON, &latest, &lastFired); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping unreadable alert state row")
			continue
		}
		if err := json.Unmarshal([]byte(timesJSON), &snap.Times); err != nil {
			s.logger.Warn().Err(err).Str("rule", snap.Rule).Msg("Skipping alert state with bad times")
			continue
		}
		snap.Latest = fromUnixNano(latest)
		snap.LastFired = fromUnixNano(lastFired)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
