// Package ingest fetches raw event records from remote hosts and spool files.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"headless-sentinel/internal/registry"
	"headless-sentinel/internal/remote"
	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/types"
)

// EventSeparator delimits records in the PowerShell output
const EventSeparator = "---EVENT_SEPARATOR---"

// Source fetches the raw records of one category on one target within window.
type Source interface {
	Fetch(ctx context.Context, target types.Target, category string, window types.Window) ([]types.RawRecord, error)
}

// CredentialStore hands out credentials per host
type CredentialStore interface {
	Credentials(host string) (registry.Credentials, error)
}

// WinRMSource runs Get-WinEvent on the target through a remote.Runner.
type WinRMSource struct {
	runner    remote.Runner
	creds     CredentialStore
	maxEvents int
}

func NewWinRMSource(runner remote.Runner, creds CredentialStore, maxEvents int) *WinRMSource {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &WinRMSource{runner: runner, creds: creds, maxEvents: maxEvents}
}

func (s *WinRMSource) Fetch(ctx context.Context, target types.Target, category string, window types.Window) ([]types.RawRecord, error) {
	creds, err := s.creds.Credentials(target.Name)
	if err != nil {
		// retrying will not produce credentials
		return nil, retry.Permanent(&types.TransportError{Kind: types.TransportAuth, Host: target.Name, Err: err})
	}

	out, err := s.runner.RunPowerShell(ctx, target, creds, BuildEventQuery(category, window, s.maxEvents))
	if err != nil {
		return nil, err
	}
	return SplitRecords(target.Name, category, out), nil
}

// BuildEventQuery renders the Get-WinEvent script for one log and window.
// -Oldest makes a capped result the oldest slice of the window, so the next
// cycle continues where this one stopped.
func BuildEventQuery(category string, window types.Window, maxEvents int) string {
	const layout = "2006-01-02T15:04:05.000Z"
	return fmt.Sprintf(`
$startTime = [DateTime]::Parse('%s')
$endTime = [DateTime]::Parse('%s')
$events = Get-WinEvent -FilterHashtable @{
    LogName='%s'
    StartTime=$startTime
    EndTime=$endTime
} -Oldest -ErrorAction SilentlyContinue -MaxEvents %d

if ($events) {
    $events | ForEach-Object {
        $_.ToXml()
        Write-Output "%s"
    }
}
`,
		window.Start.UTC().Format(layout),
		window.End.UTC().Format(layout),
		strings.ReplaceAll(category, "'", "''"),
		maxEvents,
		EventSeparator,
	)
}

// SplitRecords cuts separator-delimited output into raw records.
func SplitRecords(host, category, output string) []types.RawRecord {
	var recs []types.RawRecord
	for _, chunk := range strings.Split(output, EventSeparator) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		recs = append(recs, types.RawRecord{Host: host, Category: category, Payload: chunk})
	}
	return recs
}
