// Copyright 2025 James Ross
// Package scheduler implements the Queue Instance (C6): the per-queue
// scheduling loop that pulls jobs from storage via the priority index,
// runs up to Concurrency workers, and enforces timeout, cancellation and
// retry policy. It is grounded on the teacher's worker.Worker retry/
// backoff/circuit-breaker loop, generalized from Redis lists to the
// storage.Adapter contract.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/queueengine/internal/eventbus"
	"github.com/flyingrobots/queueengine/internal/job"
	"github.com/flyingrobots/queueengine/internal/registry"
	"github.com/flyingrobots/queueengine/internal/storage"
)

type processingState int

const (
	stateIdle processingState = iota
	stateRunning
	stateStopping
)

// Config configures one Queue Instance. DefaultMaxRetries is a *int since
// 0 is a legal "no retries" default (spec §8) that must stay distinguishable
// from "not configured" -> New fills a nil DefaultMaxRetries with
// job.DefaultMaxRetries, but leaves an explicit zero alone.
type Config struct {
	Concurrency       int
	DefaultTimeout    time.Duration
	DefaultMaxRetries *int
	DefaultPriority   int
	// ReconcileOnStart re-queues jobs left `running` from a prior process
	// with no live in-flight handle, without incrementing retries
	// (spec §4.4, marked optional).
	ReconcileOnStart bool
}

// StopOptions configures Stop.
type StopOptions struct {
	Graceful bool
	Timeout  time.Duration
}

// Instance is a per-queue scheduler. Different Instances share no state
// except through the common storage.Adapter and eventbus.Bus.
type Instance struct {
	name     string
	adapter  storage.Adapter
	registry *registry.Registry
	bus      *eventbus.Bus
	cfg      Config
	log      *zap.Logger

	mu       sync.Mutex
	state    processingState
	inFlight map[string]context.CancelFunc

	sem    chan struct{}
	wakeup chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns an Instance for queueName, idle until Start is called.
func New(queueName string, adapter storage.Adapter, reg *registry.Registry, bus *eventbus.Bus, cfg Config, log *zap.Logger) *Instance {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = job.DefaultTimeout
	}
	if cfg.DefaultMaxRetries == nil {
		d := job.DefaultMaxRetries
		cfg.DefaultMaxRetries = &d
	}
	return &Instance{
		name:     queueName,
		adapter:  adapter,
		registry: reg,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		inFlight: make(map[string]context.CancelFunc),
		sem:      make(chan struct{}, cfg.Concurrency),
		wakeup:   make(chan struct{}, 1),
	}
}

// Name returns the queue name this instance serves.
func (i *Instance) Name() string { return i.name }

// Start transitions to running and spawns the scheduling loop. Idempotent
// if already running.
func (i *Instance) Start(ctx context.Context) {
	i.mu.Lock()
	if i.state == stateRunning {
		i.mu.Unlock()
		return
	}
	i.state = stateRunning
	i.stopCh = make(chan struct{})
	i.mu.Unlock()

	if i.cfg.ReconcileOnStart {
		i.reconcile(ctx)
	}

	go i.loop(ctx)
}

// reconcile marks `running` jobs from a prior process back to `queued`
// without touching their retry counter, matching the teacher's reaper
// requeuing jobs orphaned by a dead worker.
func (i *Instance) reconcile(ctx context.Context) {
	jobs, err := i.adapter.ListJobs(ctx, i.name, storage.ListFilters{Status: job.StatusRunning})
	if err != nil {
		i.log.Warn("scheduler: reconcile list failed", zap.Error(err))
		return
	}
	for _, j := range jobs {
		if err := i.adapter.UpdateJob(ctx, j.ID, storage.Update{Status: job.StatusQueued}); err != nil {
			i.log.Warn("scheduler: reconcile requeue failed", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		i.log.Warn("scheduler: reconciled orphaned running job", zap.String("job_id", j.ID))
	}
}

// Stop transitions to stopping: rejects new work, then either aborts
// in-flight jobs immediately (Graceful=false) or waits up to Timeout for
// them to finish before aborting the remainder.
func (i *Instance) Stop(opts StopOptions) {
	i.mu.Lock()
	if i.state != stateRunning {
		i.mu.Unlock()
		return
	}
	i.state = stateStopping
	close(i.stopCh)
	handles := make([]context.CancelFunc, 0, len(i.inFlight))
	if !opts.Graceful {
		for _, cancel := range i.inFlight {
			handles = append(handles, cancel)
		}
	}
	i.mu.Unlock()

	for _, cancel := range handles {
		cancel()
	}

	if opts.Graceful {
		done := make(chan struct{})
		go func() { i.wg.Wait(); close(done) }()
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-done:
		case <-time.After(timeout):
			i.mu.Lock()
			for _, cancel := range i.inFlight {
				cancel()
			}
			i.mu.Unlock()
			<-done
		}
	} else {
		i.wg.Wait()
	}

	i.mu.Lock()
	i.state = stateIdle
	i.mu.Unlock()
}

// Add validates data via the registered handler's input validator, fills
// submission defaults, persists the job as `queued`, and publishes
// job.queued.
func (i *Instance) Add(ctx context.Context, jobType string, data any, opts job.Options) (string, error) {
	entry, ok := i.registry.Lookup(i.name, jobType)
	if !ok {
		return "", &HandlerNotFoundError{Queue: i.name, Type: jobType}
	}

	res := entry.InputValidator.Validate(data)
	if !res.OK {
		issues := make([]string, 0, len(res.Issues))
		for _, iss := range res.Issues {
			issues = append(issues, iss.Path+": "+iss.Message)
		}
		return "", &ValidationError{Queue: i.name, Type: jobType, Issues: issues}
	}

	defaults := job.Options{
		Priority:   i.cfg.DefaultPriority,
		MaxRetries: i.cfg.DefaultMaxRetries,
		Timeout:    i.cfg.DefaultTimeout,
	}
	if entry.Defaults.Priority != 0 {
		defaults.Priority = entry.Defaults.Priority
	}
	if entry.Defaults.MaxRetries != nil {
		defaults.MaxRetries = entry.Defaults.MaxRetries
	}
	if entry.Defaults.Timeout != 0 {
		defaults.Timeout = entry.Defaults.Timeout
	}

	j := job.New(i.name, jobType, res.Value, opts, defaults)
	if err := i.adapter.Enqueue(ctx, i.name, j); err != nil {
		return "", err
	}

	i.bus.Emit(eventbus.Event{Kind: eventbus.JobQueued, JobID: j.ID, QueueName: i.name, JobType: jobType, Priority: j.Priority})
	i.wake()
	return j.ID, nil
}

// Cancel triggers id's in-flight cancellation handle if running, or marks
// it cancelled directly if merely queued. Idempotent: a second call for
// an already-terminal job is a no-op and returns false.
func (i *Instance) Cancel(ctx context.Context, id string, reason string) (bool, error) {
	j, err := i.adapter.GetJob(ctx, id, i.name)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, &JobNotFoundError{JobID: id}
	}
	if j.Status != job.StatusQueued && j.Status != job.StatusRunning {
		return false, nil
	}

	i.mu.Lock()
	cancel, running := i.inFlight[id]
	i.mu.Unlock()
	if running {
		cancel()
		return true, nil
	}

	now := time.Now().UTC()
	if err := i.adapter.UpdateJob(ctx, id, storage.Update{Status: job.StatusCancelled, CompletedAt: &now}); err != nil {
		return false, err
	}
	i.bus.Emit(eventbus.Event{Kind: eventbus.JobCancelled, JobID: id, QueueName: i.name, Reason: reason})
	return true, nil
}

// Subscribe registers a listener scoped to jobID and returns a disposer.
func (i *Instance) Subscribe(jobID string, fn eventbus.Listener) func() {
	return i.bus.Subscribe(eventbus.Filter{JobID: jobID, QueueName: i.name}, fn)
}

func (i *Instance) wake() {
	select {
	case i.wakeup <- struct{}{}:
	default:
	}
}

func (i *Instance) isStopping() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == stateStopping
}

// loop is the scheduling loop described in spec §4.4.
func (i *Instance) loop(ctx context.Context) {
	backoff := 5 * time.Millisecond
	const maxBackoff = 200 * time.Millisecond

	for {
		if i.isStopping() || ctx.Err() != nil {
			return
		}

		select {
		case i.sem <- struct{}{}:
		case <-i.stopCh:
			return
		case <-ctx.Done():
			return
		}

		j, err := i.adapter.Dequeue(ctx, i.name)
		if err != nil {
			<-i.sem
			i.log.Warn("scheduler: dequeue failed, backing off", zap.String("queue", i.name), zap.Error(err))
			i.sleep(ctx, backoff)
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		if j == nil {
			<-i.sem
			i.waitForWork(ctx, backoff)
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 5 * time.Millisecond

		entry, ok := i.registry.Lookup(i.name, j.Type)
		if !ok {
			now := time.Now().UTC()
			_ = i.adapter.UpdateJob(ctx, j.ID, storage.Update{
				Status:      job.StatusFailed,
				CompletedAt: &now,
				Error:       &job.Error{Message: "no registered handler", Code: ErrCodeHandlerNotFound},
			})
			i.bus.Emit(eventbus.Event{Kind: eventbus.JobFailed, JobID: j.ID, QueueName: i.name, JobType: j.Type, WillRetry: false, Reason: ErrCodeHandlerNotFound})
			<-i.sem
			continue
		}

		now := time.Now().UTC()
		if err := i.adapter.UpdateJob(ctx, j.ID, storage.Update{Status: job.StatusRunning, StartedAt: &now, Retries: &j.Retries}); err != nil {
			i.log.Warn("scheduler: updateJob(running) failed", zap.String("job_id", j.ID), zap.Error(err))
			<-i.sem
			continue
		}
		i.bus.Emit(eventbus.Event{Kind: eventbus.JobStarted, JobID: j.ID, QueueName: i.name, JobType: j.Type, Priority: j.Priority})

		jobCtx, cancel := context.WithTimeout(ctx, j.Timeout)
		i.mu.Lock()
		i.inFlight[j.ID] = cancel
		i.mu.Unlock()

		i.wg.Add(1)
		go i.runAttempt(jobCtx, cancel, entry, *j, now)
	}
}

func (i *Instance) waitForWork(ctx context.Context, backoff time.Duration) {
	select {
	case <-i.wakeup:
	case <-time.After(backoff):
	case <-i.stopCh:
	case <-ctx.Done():
	}
}

func (i *Instance) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-i.stopCh:
	case <-ctx.Done():
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// runAttempt invokes the handler for one attempt and applies the
// success/cancel/timeout/error branching from spec §4.4 step 8.
func (i *Instance) runAttempt(ctx context.Context, cancel context.CancelFunc, entry registry.Entry, j job.Job, startedAt time.Time) {
	defer i.wg.Done()
	defer cancel()
	defer func() {
		i.mu.Lock()
		delete(i.inFlight, j.ID)
		i.mu.Unlock()
		<-i.sem
	}()

	progressFn := func(pct int, msg string) {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		_ = i.adapter.UpdateJob(context.Background(), j.ID, storage.Update{Progress: &pct, ProgressMessage: &msg})
		i.bus.Emit(eventbus.Event{Kind: eventbus.JobProgress, JobID: j.ID, QueueName: i.name, JobType: j.Type, Progress: pct, Message: msg})
	}

	hctx := registry.Context{
		JobID:    j.ID,
		Data:     j.Data,
		Logger:   i.log,
		EventBus: i.bus,
		Done:     ctx.Done(),
		Progress: progressFn,
	}

	result, handlerErr := entry.Handler(hctx)

	switch ctx.Err() {
	case context.Canceled:
		now := time.Now().UTC()
		_ = i.adapter.UpdateJob(context.Background(), j.ID, storage.Update{Status: job.StatusCancelled, CompletedAt: &now})
		i.bus.Emit(eventbus.Event{Kind: eventbus.JobCancelled, QueueName: i.name, JobID: j.ID, JobType: j.Type})
		return
	case context.DeadlineExceeded:
		i.finishFailedAttempt(j, &job.Error{Message: "job timed out", Code: ErrCodeJobTimeout})
		return
	}

	if handlerErr != nil {
		i.finishFailedAttempt(j, &job.Error{Message: handlerErr.Error()})
		return
	}

	if entry.OutputValidator != nil {
		res := entry.OutputValidator.Validate(result)
		if !res.OK {
			i.finishFailedAttempt(j, &job.Error{Message: "output validation failed"})
			return
		}
		result = res.Value
	}

	now := time.Now().UTC()
	_ = i.adapter.UpdateJob(context.Background(), j.ID, storage.Update{Status: job.StatusCompleted, CompletedAt: &now, Result: result, ResultSet: true})
	i.bus.Emit(eventbus.Event{Kind: eventbus.JobCompleted, QueueName: i.name, JobID: j.ID, JobType: j.Type, Result: result, DurationMs: time.Since(startedAt).Milliseconds()})
}

// finishFailedAttempt applies the retry-or-terminal-fail branch for one
// unsuccessful attempt (handler error or timeout both count as an
// attempt).
func (i *Instance) finishFailedAttempt(j job.Job, jobErr *job.Error) {
	ctx := context.Background()
	if j.Retries < j.MaxRetries {
		retries := j.Retries + 1
		if err := i.adapter.UpdateJob(ctx, j.ID, storage.Update{Status: job.StatusQueued, Retries: &retries}); err != nil {
			i.log.Warn("scheduler: retry requeue failed", zap.String("job_id", j.ID), zap.Error(err))
			return
		}
		i.bus.Emit(eventbus.Event{Kind: eventbus.JobFailed, QueueName: i.name, JobID: j.ID, JobType: j.Type, Error: jobErr, WillRetry: true})
		i.wake()
		return
	}

	now := time.Now().UTC()
	_ = i.adapter.UpdateJob(ctx, j.ID, storage.Update{Status: job.StatusFailed, CompletedAt: &now, Error: jobErr})
	i.bus.Emit(eventbus.Event{Kind: eventbus.JobFailed, QueueName: i.name, JobID: j.ID, JobType: j.Type, Error: jobErr, WillRetry: false})
}
