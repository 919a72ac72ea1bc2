package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/registry"
	"headless-sentinel/internal/remote"
	"headless-sentinel/internal/types"
)

// ErrQueueFull is returned by Submit when every worker is busy and the queue is full.
var ErrQueueFull = errors.New("remediation queue full")

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = errors.New("remote executor closed")

// Job is one remediation script bound for one host
type Job struct {
	FiringID string
	Rule     string
	GroupKey string
	Host     string
	Script   string
}

// TargetLookup resolves a host name to its connection details
type TargetLookup interface {
	Lookup(host string) (types.Target, bool)
	Credentials(host string) (registry.Credentials, error)
}

// RemoteExecutor runs remediation jobs on a small worker pool. Outcomes are
// logged and reported through OnResult; the caller does not wait for them.
type RemoteExecutor struct {
	runner  remote.Runner
	targets TargetLookup
	timeout time.Duration
	workers int

	mu       sync.Mutex // guards closed and sends on jobs
	closed   bool
	jobs     chan Job
	wg       sync.WaitGroup
	OnResult func(types.ActionResult)
	logger   zerolog.Logger
}

func NewRemoteExecutor(runner remote.Runner, targets TargetLookup, workers, queue int, timeout time.Duration) *RemoteExecutor {
	if workers < 1 {
		workers = 2
	}
	if queue < 1 {
		queue = 64
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &RemoteExecutor{
		runner:  runner,
		targets: targets,
		timeout: timeout,
		workers: workers,
		jobs:    make(chan Job, queue),
		logger:  log.With().Str("component", "executor").Logger(),
	}
}

// Start launches the workers. They exit once Close drains the queue.
func (e *RemoteExecutor) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for job := range e.jobs {
				res := e.run(ctx, job)
				if e.OnResult != nil {
					e.OnResult(res)
				}
			}
		}()
	}
	e.logger.Info().Int("workers", e.workers).Msg("Remote executor started")
}

// Submit queues a job without blocking.
func (e *RemoteExecutor) Submit(job Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	select {
	case e.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (e *RemoteExecutor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *RemoteExecutor) run(ctx context.Context, job Job) types.ActionResult {
	start := time.Now()
	res := types.ActionResult{
		FiringID: job.FiringID,
		Rule:     job.Rule,
		GroupKey: job.GroupKey,
		Action:   types.ActionRemediation,
		Target:   job.Host,
		Attempts: 1,
	}
	logger := e.logger.With().Str("host", job.Host).Str("rule", job.Rule).Logger()

	err := e.exec(ctx, job)
	res.Latency = time.Since(start)
	res.At = time.Now().UTC()
	if err != nil {
		res.Error = (&types.ActionDispatchError{Action: types.ActionRemediation, Target: job.Host, Err: err}).Error()
		logger.Error().Err(err).Msg("Remediation failed")
		return res
	}
	res.Success = true
	res.Detail = "executed"
	logger.Info().Dur("latency", res.Latency).Msg("Remediation executed")
	return res
}

func (e *RemoteExecutor) exec(ctx context.Context, job Job) error {
	target, ok := e.targets.Lookup(job.Host)
	if !ok {
		return fmt.Errorf("host %s is not a registered target", job.Host)
	}
	creds, err := e.targets.Credentials(job.Host)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	_, err = e.runner.RunPowerShell(ctx, target, creds, job.Script)
	return err
}
