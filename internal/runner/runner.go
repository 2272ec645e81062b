package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/endarthur/holocene-sub000/internal/async"
	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/metrics"
)

const (
	// DefaultWorkers is the worker pool size when none is configured.
	DefaultWorkers = 4
	// DefaultDrainBudget bounds the shutdown wait per worker.
	DefaultDrainBudget = 5 * time.Second

	queueDepth = 64
)

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("runner: shutting down")

// Task is one unit of background work.
type Task func(ctx context.Context) (any, error)

// Handle lets a caller join a submitted task.
type Handle struct {
	name   string
	done   chan struct{}
	result any
	err    error
}

// Wait blocks until the task finishes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the task has completed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type job struct {
	handle    *Handle
	task      Task
	onSuccess func(any)
	onError   func(error)
}

// Runner is a fixed-size worker pool for short background tasks. Tasks are
// fire-and-forget from the caller's perspective; completion callbacks run on
// the worker goroutine. Shutdown drains in-flight work within a bounded
// budget and refuses new submissions.
type Runner struct {
	queue   chan *job
	workers int
	budget  time.Duration
	logger  logging.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts a pool of the given size (DefaultWorkers when size <= 0).
func New(workers int, logger logging.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:   make(chan *job, queueDepth),
		workers: workers,
		budget:  DefaultDrainBudget,
		logger:  logging.OrNop(logger),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		async.Go(r.logger, fmt.Sprintf("runner-worker-%d", i), r.worker)
	}
	return r
}

// Submit schedules task and returns a join handle. The optional callbacks run
// on the worker goroutine after the task completes.
//
// The read lock is held across the send: Shutdown closes the queue under the
// write lock, so no sender can race the close. Workers keep draining while
// senders hold the read lock, so a full queue never deadlocks Shutdown.
func (r *Runner) Submit(name string, task Task, onSuccess func(any), onError func(error)) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrShuttingDown
	}
	handle := &Handle{name: name, done: make(chan struct{})}
	r.queue <- &job{handle: handle, task: task, onSuccess: onSuccess, onError: onError}
	metrics.TasksSubmitted.Inc()
	return handle, nil
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(j)
	}
}

func (r *Runner) run(j *job) {
	defer close(j.handle.done)
	defer func() {
		if rec := recover(); rec != nil {
			j.handle.err = fmt.Errorf("task %q panicked: %v", j.handle.name, rec)
			r.logger.Error("Background task %q panicked: %v", j.handle.name, rec)
			metrics.TasksCompleted.WithLabelValues("panic").Inc()
			if j.onError != nil {
				j.onError(j.handle.err)
			}
		}
	}()

	result, err := j.task(r.baseCtx)
	j.handle.result = result
	j.handle.err = err
	if err != nil {
		r.logger.Warn("Background task %q failed: %v", j.handle.name, err)
		metrics.TasksCompleted.WithLabelValues("error").Inc()
		if j.onError != nil {
			j.onError(err)
		}
		return
	}
	metrics.TasksCompleted.WithLabelValues("ok").Inc()
	if j.onSuccess != nil {
		j.onSuccess(result)
	}
}

// Shutdown stops accepting work, drains queued and in-flight tasks within
// workers x drain budget, then abandons whatever is still running. Safe to
// call more than once.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	budget := time.Duration(r.workers) * r.budget
	if !async.JoinTimeout(done, budget) {
		r.logger.Warn("Runner drain budget (%s) exceeded, abandoning in-flight tasks", budget)
	}
	r.cancel()
}
