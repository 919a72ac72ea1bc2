package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Severity defines the normalized level of an event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SeverityFromLevel maps a Windows event level to a Severity.
// Level 0 (LogAlways, used by security auditing) and 5 (Verbose) are info.
func SeverityFromLevel(level int) Severity {
	switch level {
	case 1:
		return SeverityCritical
	case 2:
		return SeverityError
	case 3:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ParseSeverity accepts both the normalized names and the Windows display names
// ("Information", "Critical", ...).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "information", "verbose":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Target is one remote host as configured for collection
type Target struct {
	Name          string        `json:"name"` // host identifier stored on events
	Address       string        `json:"address"`
	Port          int           `json:"port"`
	TLS           bool          `json:"tls"`
	Insecure      bool          `json:"insecure"` // skip certificate validation
	Auth          string        `json:"auth"`     // "ntlm" or "basic"
	CredentialRef string        `json:"credential_ref"`
	Lookback      time.Duration `json:"lookback"` // zero means use the engine default
	Timeout       time.Duration `json:"timeout"`  // per-call timeout, zero means engine default
}

// Event is the canonical, normalized unit stored and evaluated
type Event struct {
	ID         int64     `json:"id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Host       string    `json:"host"`
	Category   string    `json:"category"` // "System", "Security", "Application", ...
	EventCode  int       `json:"event_code"`
	Severity   Severity  `json:"severity"`
	Source     string    `json:"source"`
	User       string    `json:"user,omitempty"`
	Message    string    `json:"message"`
	Raw        string    `json:"raw,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// DedupeKey returns the natural key of the event:
// host, category, event code, timestamp and a hash of the raw payload.
func (e *Event) DedupeKey() string {
	raw := sha256.Sum256([]byte(e.Raw))
	h := sha256.New()
	h.Write([]byte(e.Host))
	h.Write([]byte{0})
	h.Write([]byte(e.Category))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(e.EventCode)))
	h.Write([]byte{0})
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write(raw[:])
	return hex.EncodeToString(h.Sum(nil))
}

// RawRecord is a single undecoded record returned by a source
type RawRecord struct {
	Host     string `json:"host"`
	Category string `json:"category"`
	Payload  string `json:"payload"`
}

// Window is the half-open fetch interval (Start, End]
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside (Start, End]
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}

// GroupBy selects the dimension threshold counting is scoped to
type GroupBy string

const (
	GroupByHost      GroupBy = "host"
	GroupByUser      GroupBy = "user"
	GroupByHostUser  GroupBy = "host_user"
	GroupBySource    GroupBy = "source"
	GroupByEventCode GroupBy = "event_code"
)

// ParseGroupBy validates a grouping expression. Empty means host.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return GroupByHost, nil
	case GroupByHost, GroupByUser, GroupByHostUser, GroupBySource, GroupByEventCode:
		return g, nil
	}
	return "", fmt.Errorf("unknown group_by %q", s)
}

// Key computes the grouping key value for an event
func (g GroupBy) Key(e *Event) string {
	switch g {
	case GroupByUser:
		return e.User
	case GroupByHostUser:
		return e.Host + "/" + e.User
	case GroupBySource:
		return e.Source
	case GroupByEventCode:
		return strconv.Itoa(e.EventCode)
	default:
		return e.Host
	}
}

// AlertRule defines a threshold rule over matching events
type AlertRule struct {
	Name       string
	EventCodes []int
	Severity   Severity // optional filter
	Categories []string // optional filter
	GroupBy    GroupBy
	Threshold  int
	Window     time.Duration
	Actions    []Action
}

// Matches reports whether the event is counted by this rule
func (r *AlertRule) Matches(e *Event) bool {
	if len(r.EventCodes) > 0 {
		found := false
		for _, c := range r.EventCodes {
			if c == e.EventCode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.Severity != "" && r.Severity != e.Severity {
		return false
	}
	if len(r.Categories) > 0 {
		found := false
		for _, c := range r.Categories {
			if strings.EqualFold(c, e.Category) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Firing is one threshold crossing of a rule for a grouping key
type Firing struct {
	ID          string        `json:"id"`
	Rule        string        `json:"rule"`
	GroupKey    string        `json:"group_key"`
	Count       int           `json:"count"`
	Window      time.Duration `json:"window"`
	FiredAt     time.Time     `json:"fired_at"`
	Trigger     Event         `json:"trigger"`
	Summary     string        `json:"summary"`
	Explanation string        `json:"explanation"`
}

// ActionResult is the outcome of dispatching one action for a firing
type ActionResult struct {
	FiringID string        `json:"firing_id"`
	Rule     string        `json:"rule"`
	GroupKey string        `json:"group_key"`
	Action   ActionKind    `json:"action"`
	Target   string        `json:"target"` // URL or host
	Success  bool          `json:"success"`
	Attempts int           `json:"attempts"`
	Latency  time.Duration `json:"latency"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}
