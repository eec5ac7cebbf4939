// Package worker polls the task queue, leases one task at a time and runs its executor under a heartbeat.
//
// A pass of [Worker.RunOnce] lists queued tasks for the worker's action, leases the oldest one and
// executes it. Success deletes the task; any failure releases it back to the queue. When nothing is
// queued and stale-lease reclaiming is enabled, running tasks whose updated timestamp is older than
// MaxNoHeartbeat are released, to be leased on a later pass.
package worker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/queue"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/desertthunder/regq/internal/tasks"
)

const (
	DefaultWait         = 60 * time.Second
	DefaultHeartbeat    = 60 * time.Second
	DefaultErrorBackoff = 60 * time.Second
	DefaultMaxAttempts  = 3
)

// Tasks is the part of the queue a worker uses.
type Tasks interface {
	List(ctx context.Context, f queue.Filter) ([]*models.Task, error)
	Get(ctx context.Context, id string) (*models.Task, error)
	TakeOwnership(ctx context.Context, id string, owner models.Owner) (*models.Task, error)
	ReleaseOwnership(ctx context.Context, id string) (*models.Task, error)
	Heartbeat(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id string, report models.ProgressReport) error
	Delete(ctx context.Context, id string) error
}

// Options control polling and leasing.
type Options struct {
	Name           string            // Worker id recorded in the owner trace; a uuid when empty
	Filter         map[string]string // Extra exact-match fields, e.g. destination
	Wait           time.Duration     // Sleep between empty polls
	Heartbeat      time.Duration     // Period of the lease heartbeat
	MaxNoHeartbeat time.Duration     // Reclaim running tasks idle for longer; 0 never reclaims
	ErrorBackoff   time.Duration     // Sleep after an unexpected error in loop mode
	MaxAttempts    int               // Lease attempts per pass when other workers win the race
	Loop           bool
	Timeout        time.Duration // Exit the process after this long; 0 disables
	DryRun         bool

	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
	OnTimeout func()
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = uuid.NewString()
	}
	if o.Wait <= 0 {
		o.Wait = DefaultWait
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// ExecutionError is returned when a leased task's executor failed and the task was released.
type ExecutionError struct {
	Task string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Worker runs tasks of a single action.
type Worker struct {
	tasks    Tasks
	executor tasks.Executor
	opts     Options
	filter   queue.Filter
	logger   *log.Logger

	// Tasks this process rejected as invalid. Only touched by the polling goroutine.
	poisoned map[string]struct{}
}

// New creates a worker for executor's action. With DryRun set every mutation of the queue is logged instead.
func New(q Tasks, executor tasks.Executor, opts Options, logger *log.Logger) *Worker {
	opts = opts.withDefaults()
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	logger = shared.WithLogger(logger, "worker", opts.Name, "action", executor.Action())

	fields := map[string]string{"action": executor.Action().String()}
	maps.Copy(fields, opts.Filter)

	if opts.DryRun {
		q = &dryRun{Tasks: q, logger: logger}
	}

	return &Worker{
		tasks:    q,
		executor: executor,
		opts:     opts,
		filter:   queue.Filter{Fields: fields, Sort: queue.SortCreated},
		logger:   logger,
		poisoned: make(map[string]struct{}),
	}
}

// Name is the id this worker leases tasks under.
func (w *Worker) Name() string { return w.opts.Name }

// ChooseTask returns the oldest queued task for this worker, or nil.
//
// When nothing is queued and MaxNoHeartbeat is set, stale running tasks are released so a later
// pass can lease them. They are never returned by the pass that released them.
func (w *Worker) ChooseTask(ctx context.Context) (*models.Task, error) {
	queued, err := w.tasks.List(ctx, w.filter.WithStatus(models.StatusQueued))
	if err != nil {
		return nil, err
	}
	for _, t := range queued {
		if _, bad := w.poisoned[t.ID]; bad {
			continue
		}
		w.logger.Info("found task", "task", t.ID)
		return t, nil
	}
	w.logger.Info("no queued tasks", "filter", w.filter.Fields)

	if w.opts.MaxNoHeartbeat <= 0 {
		return nil, nil
	}

	running, err := w.tasks.List(ctx, w.filter.WithStatus(models.StatusRunning))
	if err != nil {
		return nil, err
	}
	now := w.opts.Now()
	for _, t := range running {
		if !t.Stale(now, w.opts.MaxNoHeartbeat) {
			continue
		}
		w.logger.Warn("releasing stale task", "task", t.ID, "owner", t.Owner, "idle", now.Sub(t.Updated).Round(time.Second))
		if _, err := w.tasks.ReleaseOwnership(ctx, t.ID); err != nil {
			if shared.IsConflict(err) {
				w.logger.Debug("stale task already released", "task", t.ID)
				continue
			}
			w.logger.Error("failed to release stale task, release it with 'regq tasks disown'", "task", t.ID, "error", err)
		}
	}
	return nil, nil
}

// CheckTodo reports whether a pass would find work, without leasing or releasing anything.
// A stale running task counts as work when reclaiming is enabled.
func (w *Worker) CheckTodo(ctx context.Context) (bool, error) {
	queued, err := w.tasks.List(ctx, w.filter.WithStatus(models.StatusQueued))
	if err != nil {
		return false, err
	}
	if len(queued) > 0 {
		return true, nil
	}
	if w.opts.MaxNoHeartbeat <= 0 {
		return false, nil
	}

	running, err := w.tasks.List(ctx, w.filter.WithStatus(models.StatusRunning))
	if err != nil {
		return false, err
	}
	now := w.opts.Now()
	for _, t := range running {
		if t.Stale(now, w.opts.MaxNoHeartbeat) {
			return true, nil
		}
	}
	return false, nil
}

// RunOnce performs one polling pass and reports whether a task was executed.
//
// Losing a lease race is not an error, and neither is a task deleted between listing and leasing:
// the pass selects again, up to MaxAttempts times.
// A task whose executor failed is released and reported as an [*ExecutionError].
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		candidate, err := w.ChooseTask(ctx)
		if err != nil || candidate == nil {
			return false, err
		}

		owner := models.NewOwner(w.opts.Name, w.opts.Now())
		task, err := w.tasks.TakeOwnership(ctx, candidate.ID, owner)
		if shared.IsConflict(err) || errors.Is(err, shared.ErrNotFound) {
			w.logger.Info("task taken by another worker", "task", candidate.ID, "attempt", attempt)
			continue
		}
		if err != nil {
			return false, err
		}

		return true, w.process(ctx, task)
	}
	return false, nil
}

// process runs a leased task under a heartbeat, then deletes or releases it.
func (w *Worker) process(ctx context.Context, task *models.Task) error {
	logger := shared.WithLogger(w.logger, "task", task.ID)
	logger.Info("processing task", "fields", task.Fields)

	updates := make(chan tasks.Update, 16)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range updates {
			logger.Info(u.Message, "phase", u.Phase)
		}
	}()

	hb := w.startHeartbeat(ctx, task.ID, logger)
	err := w.executor.Execute(ctx, task, tasks.Env{
		DryRun: w.opts.DryRun,
		Progress: func(ctx context.Context, report models.ProgressReport) error {
			return w.tasks.SetProgress(ctx, task.ID, report)
		},
		Updates: updates,
		Logger:  logger,
	})
	hb.Stop()
	close(updates)
	<-drained

	// Resolve the lease even when ctx was cancelled mid-task.
	resolveCtx := context.WithoutCancel(ctx)

	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			w.poisoned[task.ID] = struct{}{}
		}
		logger.Error("task failed, releasing it", "error", err)
		if _, rerr := w.tasks.ReleaseOwnership(resolveCtx, task.ID); rerr != nil {
			logger.Error("failed to release task", "error", rerr)
		}
		return &ExecutionError{Task: task.ID, Err: err}
	}

	logger.Info("task completed")
	if err := w.tasks.Delete(resolveCtx, task.ID); err != nil {
		return fmt.Errorf("delete completed task %s: %w", task.ID, err)
	}
	logger.Info("task deleted")
	return nil
}

// Run processes one task, or polls until ctx is done when Loop is set.
//
// In loop mode only fatal errors end the loop. A single pass returns backend errors and
// transient failures, but a task that failed on its own merits was already released and is not an error.
// A dry run leaves its task queued, so the loop waits after every pass.
func (w *Worker) Run(ctx context.Context) error {
	if w.opts.Timeout > 0 {
		t := time.AfterFunc(w.opts.Timeout, w.timeout)
		defer t.Stop()
	}

	if !w.opts.Loop {
		_, err := w.RunOnce(ctx)
		var execErr *ExecutionError
		if errors.As(err, &execErr) && !shared.IsFatal(err) && !errors.Is(err, shared.ErrTransient) {
			return nil
		}
		return err
	}

	for ctx.Err() == nil {
		processed, err := w.RunOnce(ctx)
		var execErr *ExecutionError

		var pause time.Duration
		switch {
		case err == nil && processed && !w.opts.DryRun:
			continue
		case err == nil:
			pause = w.opts.Wait
		case shared.IsFatal(err):
			w.logger.Error("stopping worker", "error", err)
			return err
		case errors.As(err, &execErr):
			pause = w.opts.Wait
		case ctx.Err() != nil:
			return nil
		default:
			w.logger.Error("poll failed", "error", err, "backoff", w.opts.ErrorBackoff)
			pause = w.opts.ErrorBackoff
		}

		w.logger.Debug("waiting before next poll", "wait", pause)
		if err := w.opts.Sleep(ctx, pause); err != nil {
			return nil
		}
	}
	return nil
}

func (w *Worker) timeout() {
	w.logger.Error("timeout reached, exiting", "timeout", w.opts.Timeout)
	if w.opts.OnTimeout != nil {
		w.opts.OnTimeout()
		return
	}
	os.Exit(2)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
