// Package audit appends firings and action results to a JSON-lines file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"headless-sentinel/internal/types"
)

// Record is one audit line
type Record struct {
	Kind   string              `json:"kind"` // "firing" or "action_result"
	At     time.Time           `json:"at"`
	Firing *types.Firing       `json:"firing,omitempty"`
	Result *types.ActionResult `json:"result,omitempty"`
}

// Logger handles appending records to the audit log
type Logger struct {
	mu       sync.Mutex
	filePath string
	now      func() time.Time
}

func NewLogger(filePath string) *Logger {
	return &Logger{
		filePath: filePath,
		now:      time.Now,
	}
}

func (l *Logger) LogFiring(f *types.Firing) error {
	return l.write(Record{Kind: "firing", At: l.now().UTC(), Firing: f})
}

func (l *Logger) LogResult(r types.ActionResult) error {
	return l.write(Record{Kind: "action_result", At: l.now().UTC(), Result: &r})
}

// write appends one record in a thread-safe manner
func (l *Logger) write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	return nil
}
