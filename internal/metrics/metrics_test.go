package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headless-sentinel/internal/collect"
	"headless-sentinel/internal/types"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordCycle(t *testing.T) {
	m := NewMetrics()
	start := time.Now()
	m.RecordCycle(&collect.CycleReport{
		Started:  start,
		Finished: start.Add(3 * time.Second),
		Hosts: []collect.HostReport{
			{Host: "DC01", Status: collect.StatusOK, Ingested: 4},
			{Host: "WS02", Status: collect.StatusUnreachable},
		},
		Duplicates:  2,
		ParseErrors: 1,
	})

	out := scrape(t, m)
	assert.Contains(t, out, "sentinel_cycles_total 1")
	assert.Contains(t, out, `sentinel_events_ingested_total{host="DC01"} 4`)
	assert.Contains(t, out, `sentinel_host_cycles_total{host="WS02",status="unreachable"} 1`)
	assert.Contains(t, out, "sentinel_events_duplicate_total 2")
	assert.Contains(t, out, "sentinel_parse_errors_total 1")
	assert.Contains(t, out, "sentinel_cycle_duration_seconds_count 1")
}

func TestRecordAlerting(t *testing.T) {
	m := NewMetrics()
	m.RecordFiring(&types.Firing{Rule: "brute-force"})
	m.RecordResult(types.ActionResult{Action: types.ActionWebhook, Success: false})
	m.SetTrackedKeys(7)

	out := scrape(t, m)
	assert.Contains(t, out, `sentinel_alert_firings_total{rule="brute-force"} 1`)
	assert.Contains(t, out, `sentinel_action_results_total{action="webhook",success="false"} 1`)
	assert.Contains(t, out, "sentinel_alert_tracked_keys 7")
}
