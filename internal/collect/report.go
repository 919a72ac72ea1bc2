package collect

import (
	"time"

	"headless-sentinel/internal/types"
)

// Status is the per-host outcome of one cycle
type Status string

const (
	StatusOK            Status = "ok"
	StatusRetriedThenOK Status = "retried-then-ok"
	StatusUnreachable   Status = "unreachable"
	StatusWriteFailed   Status = "write-failed"
	StatusCancelled     Status = "cancelled"
)

// HostReport summarizes one host in a cycle
type HostReport struct {
	Host        string               `json:"host"`
	Status      Status               `json:"status"`
	Attempts    int                  `json:"attempts"`
	Fetched     int                  `json:"fetched"`
	Ingested    int                  `json:"ingested"`
	Duplicates  int                  `json:"duplicates"`
	ParseErrors int                  `json:"parse_errors"`
	Watermarks  map[string]time.Time `json:"watermarks,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// CycleReport aggregates every host of one RunCycle call.
// Events holds the newly stored events ordered by timestamp.
type CycleReport struct {
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
	Hosts       []HostReport  `json:"hosts"`
	Events      []types.Event `json:"-"`
	Ingested    int           `json:"ingested"`
	Duplicates  int           `json:"duplicates"`
	ParseErrors int           `json:"parse_errors"`
	Unreachable int           `json:"unreachable"`
}

// Duration is the wall time of the cycle
func (r *CycleReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Host returns the report for name, if present.
func (r *CycleReport) Host(name string) (HostReport, bool) {
	for _, h := range r.Hosts {
		if h.Host == name {
			return h, true
		}
	}
	return HostReport{}, false
}
