package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"headless-sentinel/internal/registry"
	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunPowerShell(ctx context.Context, target types.Target, creds registry.Credentials, script string) (string, error) {
	args := m.Called(target.Name, creds.Username, script)
	return args.String(0), args.Error(1)
}

type staticCreds map[string]registry.Credentials

func (s staticCreds) Credentials(host string) (registry.Credentials, error) {
	c, ok := s[host]
	if !ok {
		return registry.Credentials{}, errors.New("unknown host")
	}
	return c, nil
}

var window = types.Window{
	Start: time.Date(2024, 3, 1, 9, 58, 0, 0, time.UTC),
	End:   time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
}

func TestBuildEventQuery(t *testing.T) {
	script := BuildEventQuery("Security", window, 500)

	assert.Contains(t, script, "LogName='Security'")
	assert.Contains(t, script, "[DateTime]::Parse('2024-03-01T09:58:00.000Z')")
	assert.Contains(t, script, "[DateTime]::Parse('2024-03-01T10:05:00.000Z')")
	assert.Contains(t, script, "-MaxEvents 500")
	assert.Contains(t, script, "-Oldest")
	assert.Contains(t, script, EventSeparator)

	assert.Contains(t, BuildEventQuery("O'Brien", window, 1), "LogName='O''Brien'")
}

func TestSplitRecords(t *testing.T) {
	out := "<Event>1</Event>\r\n" + EventSeparator + "\r\n<Event>2</Event>\n" + EventSeparator + "\n\n"

	recs := SplitRecords("dc01", "System", out)
	require.Len(t, recs, 2)
	assert.Equal(t, types.RawRecord{Host: "dc01", Category: "System", Payload: "<Event>1</Event>"}, recs[0])
	assert.Equal(t, "<Event>2</Event>", recs[1].Payload)

	assert.Empty(t, SplitRecords("dc01", "System", "   "))
}

func TestWinRMSourceFetch(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunPowerShell", "dc01", "svc", mock.AnythingOfType("string")).
		Return("<Event>a</Event>\n"+EventSeparator+"\n", nil).Once()

	src := NewWinRMSource(runner, staticCreds{"dc01": {Username: "svc", Password: "x"}}, 0)
	recs, err := src.Fetch(context.Background(), types.Target{Name: "dc01"}, "Application", window)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Application", recs[0].Category)
	runner.AssertExpectations(t)
}

func TestWinRMSourcePropagatesTransportError(t *testing.T) {
	te := &types.TransportError{Kind: types.TransportUnreachable, Host: "dc01", Err: errors.New("refused")}
	runner := &mockRunner{}
	runner.On("RunPowerShell", "dc01", "svc", mock.Anything).Return("", te)

	src := NewWinRMSource(runner, staticCreds{"dc01": {Username: "svc"}}, 10)
	_, err := src.Fetch(context.Background(), types.Target{Name: "dc01"}, "System", window)

	var got *types.TransportError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, types.TransportUnreachable, got.Kind)
}

func TestWinRMSourceMissingCredentials(t *testing.T) {
	src := NewWinRMSource(&mockRunner{}, staticCreds{}, 10)
	_, err := src.Fetch(context.Background(), types.Target{Name: "ghost"}, "System", window)

	var got *types.TransportError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, types.TransportAuth, got.Kind)
	assert.True(t, retry.IsPermanent(err))
}
