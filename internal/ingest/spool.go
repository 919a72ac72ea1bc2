package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/types"
)

// SpoolItem is one decoded spool line, or the reason it could not be decoded
type SpoolItem struct {
	Record types.RawRecord
	Line   int
	Err    error
}

// SpoolTailer follows a JSON-lines file of forwarded events
// ({"host","category","payload"} per line), surviving rotation.
type SpoolTailer struct {
	path   string
	poll   bool
	t      *tail.Tail
	logger zerolog.Logger
}

func NewSpoolTailer(path string, poll bool) *SpoolTailer {
	return &SpoolTailer{
		path:   path,
		poll:   poll,
		logger: log.With().Str("component", "spool").Str("path", path).Logger(),
	}
}

// Start begins tailing. The channel closes when ctx is done or Stop is called.
func (s *SpoolTailer) Start(ctx context.Context) (<-chan SpoolItem, error) {
	config := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      s.poll,
		Logger:    tail.DiscardingLogger,
	}

	s.logger.Info().Msg("Starting spool tailer (waiting if not present)")

	t, err := tail.TailFile(s.path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to tail file %s: %w", s.path, err)
	}
	s.t = t

	out := make(chan SpoolItem)

	go func() {
		defer close(out)
		n := 0
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case line, ok := <-t.Lines:
				if !ok {
					return
				}
				if line.Err != nil {
					continue
				}
				n++
				if line.Text == "" {
					continue
				}
				rec, err := DecodeSpoolLine(line.Text)
				select {
				case out <- SpoolItem{Record: rec, Line: n, Err: err}:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *SpoolTailer) Stop() error {
	if s.t != nil {
		return s.t.Stop()
	}
	return nil
}

// DecodeSpoolLine parses one spool line into a RawRecord.
func DecodeSpoolLine(text string) (types.RawRecord, error) {
	var rec types.RawRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return rec, &types.ParseError{Reason: "malformed spool line", Err: err}
	}
	if rec.Host == "" || rec.Category == "" || rec.Payload == "" {
		return rec, &types.ParseError{Reason: "spool line missing host, category or payload", Err: errors.New("incomplete record")}
	}
	return rec, nil
}
