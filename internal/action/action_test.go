package action

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"headless-sentinel/internal/registry"
	"headless-sentinel/internal/retry"
	"headless-sentinel/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testFiring() *types.Firing {
	return &types.Firing{
		ID:       "f-1",
		Rule:     "Account Lockout",
		GroupKey: "dc01",
		Count:    3,
		Window:   5 * time.Minute,
		FiredAt:  time.Date(2024, 3, 1, 10, 2, 0, 0, time.UTC),
		Trigger: types.Event{
			Host:      "dc01",
			EventCode: 4740,
			User:      "o'brien",
			Message:   "locked out",
		},
	}
}

func fastPolicy(n int) retry.Policy {
	return retry.Policy{MaxAttempts: n, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
}

func TestRenderPayloadShapes(t *testing.T) {
	f := testFiring()

	var discord map[string]any
	b, err := RenderPayload(types.HintDiscord, f)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &discord))
	assert.Equal(t, "Headless Sentinel", discord["username"])
	assert.Contains(t, discord["content"], "**Alert: Account Lockout**")
	assert.Contains(t, discord["content"], "- dc01: Event 4740 (3 times in 5m0s)")

	var slack map[string]any
	b, _ = RenderPayload(types.HintSlack, f)
	require.NoError(t, json.Unmarshal(b, &slack))
	assert.Equal(t, ":shield:", slack["icon_emoji"])
	assert.Contains(t, slack["text"], "Triggered conditions:")

	var generic map[string]any
	b, _ = RenderPayload(types.ParseRenderHint("teams"), f)
	require.NoError(t, json.Unmarshal(b, &generic))
	assert.Equal(t, "Headless Sentinel", generic["source"])
	assert.Equal(t, "Account Lockout", generic["rule"])
	assert.Equal(t, "dc01", generic["group_key"])
	assert.Equal(t, float64(3), generic["count"])
	assert.Equal(t, float64(4740), generic["event_code"])
	assert.Equal(t, "2024-03-01T10:02:00Z", generic["fired_at"])
	assert.NotContains(t, generic, "content")
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(time.Second, fastPolicy(3), 0)
	attempts, err := s.Send(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewWebhookSender(time.Second, fastPolicy(5), 0)
	attempts, err := s.Send(context.Background(), srv.URL, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookRateLimitPerURL(t *testing.T) {
	s := NewWebhookSender(time.Second, fastPolicy(1), 60)
	a := s.limiter("http://a")
	assert.Same(t, a, s.limiter("http://a"))
	assert.NotSame(t, a, s.limiter("http://b"))
	assert.Nil(t, NewWebhookSender(time.Second, fastPolicy(1), 0).limiter("http://a"))
}

func TestExpandTemplate(t *testing.T) {
	f := testFiring()

	assert.Equal(t, "net user 'o''brien' /unlock", ExpandTemplate("net user $USERNAME /unlock", f))
	assert.Equal(t, "Write-Output 'dc01' '4740' 'Account Lockout'", ExpandTemplate("Write-Output ${HOST} $EVENT_ID $RULE", f))
	assert.Equal(t, "Restart-Computer -ComputerName $env:COMPUTERNAME $UNKNOWN", ExpandTemplate("Restart-Computer -ComputerName $env:COMPUTERNAME $UNKNOWN", f))

	f.Trigger.Message = "'; Remove-Item C:\\ -Recurse; '"
	assert.Equal(t, "Write-EventLog -Message '''; Remove-Item C:\\ -Recurse; '''", ExpandTemplate("Write-EventLog -Message $MESSAGE", f))
}

func TestDispatcherDryRunByDefault(t *testing.T) {
	sub := &recordingSubmitter{}
	d := NewDispatcher(NewWebhookSender(time.Second, fastPolicy(1), 0), sub, false, nil)

	res := d.Dispatch(context.Background(), testFiring(), types.RemediationAction{ScriptTemplate: "net user $USERNAME /unlock"})
	assert.True(t, res.Success)
	assert.Equal(t, "dry-run", res.Detail)
	assert.Equal(t, types.ActionRemediation, res.Action)
	assert.Equal(t, "dc01", res.Target)
	assert.Empty(t, sub.jobs)
}

func TestDispatcherProtectedHost(t *testing.T) {
	sub := &recordingSubmitter{}
	d := NewDispatcher(nil, sub, true, []string{"DC01"})

	res := d.Dispatch(context.Background(), testFiring(), types.RemediationAction{ScriptTemplate: "x"})
	assert.False(t, res.Success)
	assert.Equal(t, "host is protected", res.Error)
	assert.Empty(t, sub.jobs)
}

func TestDispatcherQueuesRemediation(t *testing.T) {
	sub := &recordingSubmitter{}
	d := NewDispatcher(nil, sub, true, nil)

	res := d.Dispatch(context.Background(), testFiring(), types.RemediationAction{ScriptTemplate: "net user $USERNAME /unlock"})
	assert.True(t, res.Success)
	assert.Equal(t, "queued", res.Detail)
	require.Len(t, sub.jobs, 1)
	assert.Equal(t, Job{FiringID: "f-1", Rule: "Account Lockout", GroupKey: "dc01", Host: "dc01", Script: "net user 'o''brien' /unlock"}, sub.jobs[0])
}

func TestDispatcherWebhookFailureIsAResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(NewWebhookSender(time.Second, fastPolicy(3), 0), nil, false, nil)
	res := d.Dispatch(context.Background(), testFiring(), types.WebhookAction{URL: srv.URL, Hint: types.HintSlack})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Error, "400")
	assert.Equal(t, srv.URL, res.Target)
}

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (r *recordingSubmitter) Submit(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunPowerShell(ctx context.Context, target types.Target, creds registry.Credentials, script string) (string, error) {
	args := m.Called(target.Name, script)
	return args.String(0), args.Error(1)
}

type fleet map[string]types.Target

func (f fleet) Lookup(host string) (types.Target, bool) {
	t, ok := f[host]
	return t, ok
}

func (f fleet) Credentials(host string) (registry.Credentials, error) {
	if _, ok := f[host]; !ok {
		return registry.Credentials{}, errors.New("no credentials")
	}
	return registry.Credentials{Username: "svc"}, nil
}

func TestRemoteExecutorRunsJobs(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunPowerShell", "dc01", "net user 'bob' /unlock").Return("", nil).Once()
	runner.On("RunPowerShell", "srv02", mock.Anything).Return("", errors.New("access denied")).Once()

	exec := NewRemoteExecutor(runner, fleet{"dc01": {Name: "dc01"}, "srv02": {Name: "srv02"}}, 2, 4, time.Second)

	var mu sync.Mutex
	results := map[string]types.ActionResult{}
	exec.OnResult = func(r types.ActionResult) {
		mu.Lock()
		results[r.Target] = r
		mu.Unlock()
	}
	exec.Start(context.Background())

	require.NoError(t, exec.Submit(Job{Host: "dc01", Script: "net user 'bob' /unlock"}))
	require.NoError(t, exec.Submit(Job{Host: "srv02", Script: "x"}))
	require.NoError(t, exec.Submit(Job{Host: "ghost", Script: "x"}))
	exec.Close()

	assert.True(t, results["dc01"].Success)
	assert.False(t, results["srv02"].Success)
	assert.Contains(t, results["srv02"].Error, "access denied")
	assert.Contains(t, results["ghost"].Error, "not a registered target")
	runner.AssertExpectations(t)
}

func TestRemoteExecutorQueueFull(t *testing.T) {
	exec := NewRemoteExecutor(&mockRunner{}, fleet{}, 1, 1, time.Second)
	require.NoError(t, exec.Submit(Job{Host: "a"}))
	assert.ErrorIs(t, exec.Submit(Job{Host: "b"}), ErrQueueFull)
}

func TestRemoteExecutorSubmitAfterClose(t *testing.T) {
	exec := NewRemoteExecutor(&mockRunner{}, fleet{}, 1, 4, time.Second)
	exec.Start(context.Background())
	exec.Close()

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, exec.Submit(Job{Host: "a"}), ErrExecutorClosed)
	})
	assert.NotPanics(t, exec.Close)
}
