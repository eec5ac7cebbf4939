package worker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/regq/internal/catalogue"
	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/queue"
	"github.com/desertthunder/regq/internal/repositories"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/desertthunder/regq/internal/tasks"
	tu "github.com/desertthunder/regq/internal/testing"
	"github.com/desertthunder/regq/internal/transfer"
)

var (
	t0    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	quiet = log.New(io.Discard)
)

type stubExecutor struct {
	action models.Action
	err    error
	run    func(ctx context.Context, task *models.Task, env tasks.Env) error

	mu    sync.Mutex
	calls []string
	envs  []tasks.Env
}

func (s *stubExecutor) Action() models.Action {
	if s.action == "" {
		return models.ActionDummy
	}
	return s.action
}

func (s *stubExecutor) Validate(*models.Task) error { return nil }

func (s *stubExecutor) Execute(ctx context.Context, task *models.Task, env tasks.Env) error {
	s.mu.Lock()
	s.calls = append(s.calls, task.ID)
	s.envs = append(s.envs, env)
	s.mu.Unlock()
	if s.run != nil {
		return s.run(ctx, task, env)
	}
	return s.err
}

func (s *stubExecutor) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// faultyTasks wraps a queue to inject failures and count heartbeats.
type faultyTasks struct {
	Tasks
	listErr      error
	heartbeatErr error
	beforeTake   func(id string)
	heartbeats   atomic.Int32
}

func (f *faultyTasks) List(ctx context.Context, filter queue.Filter) ([]*models.Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Tasks.List(ctx, filter)
}

func (f *faultyTasks) TakeOwnership(ctx context.Context, id string, owner models.Owner) (*models.Task, error) {
	if f.beforeTake != nil {
		f.beforeTake(id)
	}
	return f.Tasks.TakeOwnership(ctx, id, owner)
}

func (f *faultyTasks) Heartbeat(ctx context.Context, id string) error {
	f.heartbeats.Add(1)
	if f.heartbeatErr != nil {
		return f.heartbeatErr
	}
	return f.Tasks.Heartbeat(ctx, id)
}

type env struct {
	clock  *tu.FakeClock
	client catalogue.Client
	q      *queue.Queue
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := tu.NewFakeClock(t0)
	client := tu.MemoryClient(t, repositories.WithClock(clock.Now))
	return &env{clock: clock, client: client, q: queue.New(client, quiet)}
}

func (e *env) create(t *testing.T, action string, fields map[string]string) *models.Task {
	t.Helper()
	task, err := e.q.Create(context.Background(), action, fields)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task
}

func (e *env) get(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := e.q.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return task
}

func (e *env) assertGone(t *testing.T, id string) {
	t.Helper()
	if _, err := e.q.Get(context.Background(), id); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("Get(%s) error = %v, want ErrNotFound", id, err)
	}
}

func (e *env) assertQueued(t *testing.T, id string) {
	t.Helper()
	task := e.get(t, id)
	if task.Status != models.StatusQueued || task.Owner != nil {
		t.Errorf("task %s status = %s owner = %v, want queued without owner", id, task.Status, task.Owner)
	}
}

func (e *env) worker(tq Tasks, exec tasks.Executor, opts Options) *Worker {
	if opts.Now == nil {
		opts.Now = e.clock.Now
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = time.Hour
	}
	return New(tq, exec, opts, quiet)
}

// beforeExecute runs hook and then delegates to the wrapped executor.
type beforeExecute struct {
	tasks.Executor
	hook func()
}

func (b beforeExecute) Execute(ctx context.Context, task *models.Task, env tasks.Env) error {
	b.hook()
	return b.Executor.Execute(ctx, task, env)
}

func TestTransferScenarioWithoutReclaim(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := t.TempDir()

	src := filepath.Join(root, "atos", "ds1")
	tu.MustWriteFile(t, filepath.Join(src, "data.grib"), "grib")
	target := filepath.Join(root, "leonardo")
	tu.MustWriteFile(t, filepath.Join(target, ".keep"), "")

	datasets := catalogue.NewDatasets(e.client)
	if _, err := datasets.Create(ctx, "ds1"); err != nil {
		t.Fatal(err)
	}
	if err := datasets.AddLocation(ctx, "ds1", "atos", src); err != nil {
		t.Fatal(err)
	}

	exec, err := tasks.New(models.ActionTransferDataset, tasks.Config{
		Datasets: datasets,
		Opener:   transfer.Opener{Logger: quiet},
		Logger:   quiet,
		Transfer: shared.TransferWorkerConfig{Destination: "leonardo", TargetDir: target, AutoRegister: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	task := e.create(t, "transfer-dataset", map[string]string{"source": "atos", "destination": "leonardo", "dataset": "ds1"})
	filter := map[string]string{"destination": "leonardo"}
	b := e.worker(e.q, exec, Options{Name: "B", Filter: filter})

	checked := false
	a := e.worker(e.q, beforeExecute{Executor: exec, hook: func() {
		running := e.get(t, task.ID)
		if running.Status != models.StatusRunning || running.Owner == nil || running.Owner.Worker != "A" {
			t.Errorf("leased task = %+v, want running and owned by A", running)
		}
		chosen, err := b.ChooseTask(ctx)
		if err != nil || chosen != nil {
			t.Errorf("B.ChooseTask() = %v, %v, want nothing", chosen, err)
		}
		if again := e.get(t, task.ID); again.Status != models.StatusRunning || again.Owner.Worker != "A" {
			t.Errorf("B touched A's lease: %+v", again)
		}
		checked = true
	}}, Options{Name: "A", Filter: filter})

	processed, err := a.RunOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("A.RunOnce() = %v, %v", processed, err)
	}
	if !checked {
		t.Fatal("executor hook did not run")
	}

	e.assertGone(t, task.ID)
	tu.AssertFileExists(t, filepath.Join(target, "ds1", "data.grib"))
	ds, err := datasets.Get(ctx, "ds1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ds.LocationPath("leonardo"); !ok {
		t.Error("leonardo location not registered")
	}
}

func TestStaleLeaseReclaim(t *testing.T) {
	ctx := context.Background()

	t.Run("crashed owner is released then leased on a later pass", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		if _, err := e.q.TakeOwnership(ctx, task.ID, models.NewOwner("A", e.clock.Now())); err != nil {
			t.Fatal(err)
		}

		exec := &stubExecutor{}
		b := e.worker(e.q, exec, Options{Name: "B", MaxNoHeartbeat: 30 * time.Second})

		e.clock.Advance(31 * time.Second)
		processed, err := b.RunOnce(ctx)
		if err != nil || processed {
			t.Fatalf("first pass = %v, %v, want release only", processed, err)
		}
		e.assertQueued(t, task.ID)
		if len(exec.Calls()) != 0 {
			t.Fatal("reclaiming pass executed the task")
		}

		processed, err = b.RunOnce(ctx)
		if err != nil || !processed {
			t.Fatalf("second pass = %v, %v", processed, err)
		}
		e.assertGone(t, task.ID)
	})

	t.Run("reclaim disabled by default", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		if _, err := e.q.TakeOwnership(ctx, task.ID, models.NewOwner("A", e.clock.Now())); err != nil {
			t.Fatal(err)
		}

		b := e.worker(e.q, &stubExecutor{}, Options{Name: "B"})
		e.clock.Advance(24 * time.Hour)
		if processed, err := b.RunOnce(ctx); err != nil || processed {
			t.Fatalf("RunOnce() = %v, %v", processed, err)
		}
		if got := e.get(t, task.ID); got.Status != models.StatusRunning || got.Owner.Worker != "A" {
			t.Errorf("task = %+v, want still owned by A", got)
		}
	})

	t.Run("heartbeat inside the window keeps the lease", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		if _, err := e.q.TakeOwnership(ctx, task.ID, models.NewOwner("A", e.clock.Now())); err != nil {
			t.Fatal(err)
		}
		b := e.worker(e.q, &stubExecutor{}, Options{Name: "B", MaxNoHeartbeat: 30 * time.Second})

		for range 3 {
			e.clock.Advance(29 * time.Second)
			if err := e.q.Heartbeat(ctx, task.ID); err != nil {
				t.Fatal(err)
			}
			if _, err := b.RunOnce(ctx); err != nil {
				t.Fatal(err)
			}
			if got := e.get(t, task.ID); got.Status != models.StatusRunning {
				t.Fatalf("task reclaimed despite heartbeat: %+v", got)
			}
		}

		e.clock.Advance(30 * time.Second)
		if _, err := b.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
		if got := e.get(t, task.ID); got.Status != models.StatusRunning {
			t.Errorf("idle of exactly max_no_heartbeat must not be reclaimed: %+v", got)
		}
	})
}

func TestValidationFailureReleasesAndSkips(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := t.TempDir()

	exec, err := tasks.New(models.ActionTransferDataset, tasks.Config{
		Datasets: catalogue.NewDatasets(e.client),
		Logger:   quiet,
		Transfer: shared.TransferWorkerConfig{TargetDir: root},
	})
	if err != nil {
		t.Fatal(err)
	}
	bad := e.create(t, "transfer-dataset", map[string]string{"source": "atos", "destination": "leonardo", "dataset": "../etc"})
	w := e.worker(e.q, exec, Options{})

	processed, err := w.RunOnce(ctx)
	var execErr *ExecutionError
	if !processed || !errors.As(err, &execErr) || !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("RunOnce() = %v, %v, want validation ExecutionError", processed, err)
	}
	e.assertQueued(t, bad.ID)
	tu.AssertNotExists(t, root+"-downloading")

	if processed, err := w.RunOnce(ctx); processed || err != nil {
		t.Errorf("second pass = %v, %v, want poisoned task skipped", processed, err)
	}
	if err := w.Run(ctx); err != nil {
		t.Errorf("single-shot Run() error = %v", err)
	}
	e.assertQueued(t, bad.ID)
}

func TestExecutorFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("released and not an error in single-shot", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		w := e.worker(e.q, &stubExecutor{err: errors.New("disk full")}, Options{})

		if err := w.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
		e.assertQueued(t, task.ID)
	})

	t.Run("transient failure is returned in single-shot", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		w := e.worker(e.q, &stubExecutor{err: shared.ErrTransient}, Options{})

		if err := w.Run(ctx); !errors.Is(err, shared.ErrTransient) {
			t.Errorf("Run() error = %v, want ErrTransient", err)
		}
		e.assertQueued(t, task.ID)
	})

	t.Run("released task is picked up by another worker", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		failing := e.worker(e.q, &stubExecutor{err: errors.New("boom")}, Options{Name: "A"})
		if _, err := failing.RunOnce(ctx); err == nil {
			t.Fatal("expected failure")
		}

		other := &stubExecutor{}
		if processed, err := e.worker(e.q, other, Options{Name: "B"}).RunOnce(ctx); !processed || err != nil {
			t.Fatalf("B.RunOnce() = %v, %v", processed, err)
		}
		if calls := other.Calls(); len(calls) != 1 || calls[0] != task.ID {
			t.Errorf("B executed %v", calls)
		}
		e.assertGone(t, task.ID)
	})
}

func TestLostRaceSelectsAgain(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	first := e.create(t, "dummy", map[string]string{"n": "1"})
	e.clock.Advance(time.Second)
	second := e.create(t, "dummy", map[string]string{"n": "2"})

	stolen := false
	ft := &faultyTasks{Tasks: e.q}
	ft.beforeTake = func(id string) {
		if !stolen {
			stolen = true
			if _, err := e.q.TakeOwnership(ctx, id, models.NewOwner("thief", e.clock.Now())); err != nil {
				t.Fatal(err)
			}
		}
	}

	exec := &stubExecutor{}
	processed, err := e.worker(ft, exec, Options{}).RunOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("RunOnce() = %v, %v", processed, err)
	}
	if calls := exec.Calls(); len(calls) != 1 || calls[0] != second.ID {
		t.Errorf("executed %v, want [%s]", calls, second.ID)
	}
	if got := e.get(t, first.ID); got.Owner == nil || got.Owner.Worker != "thief" {
		t.Errorf("first task = %+v, want owned by thief", got)
	}
}

func TestConcurrentWorkersExecuteOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	task := e.create(t, "dummy", nil)

	var executions atomic.Int32
	exec := &stubExecutor{run: func(context.Context, *models.Task, tasks.Env) error {
		executions.Add(1)
		return nil
	}}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.worker(e.q, exec, Options{}).RunOnce(ctx); err != nil {
				t.Errorf("RunOnce() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := executions.Load(); n != 1 {
		t.Errorf("executions = %d, want 1", n)
	}
	e.assertGone(t, task.ID)
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	task := e.create(t, "dummy", nil)
	exec := &stubExecutor{}

	processed, err := e.worker(e.q, exec, Options{DryRun: true}).RunOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("RunOnce() = %v, %v", processed, err)
	}
	if !exec.envs[0].DryRun {
		t.Error("executor env not marked dry run")
	}
	got := e.get(t, task.ID)
	if got.Status != models.StatusQueued || got.Owner != nil || !got.Updated.Equal(task.Updated) {
		t.Errorf("dry run modified the task: %+v", got)
	}
}

func TestProgressIsWrittenToTask(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.create(t, "dummy", nil)

	var seen *models.ProgressReport
	exec := &stubExecutor{run: func(ctx context.Context, task *models.Task, env tasks.Env) error {
		if err := env.Progress(ctx, models.ProgressReport{Progress: models.Progress{Percentage: 42}}); err != nil {
			return err
		}
		got, err := e.q.Get(ctx, task.ID)
		if err != nil {
			return err
		}
		seen = got.Progress
		return nil
	}}

	if _, err := e.worker(e.q, exec, Options{}).RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if seen == nil || seen.Percentage != 42 {
		t.Errorf("progress = %+v, want 42%%", seen)
	}
}

func TestCancelledExecutionReleasesTask(t *testing.T) {
	e := newEnv(t)
	task := e.create(t, "dummy", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	exec := &stubExecutor{run: func(ctx context.Context, _ *models.Task, _ tasks.Env) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}

	done := make(chan error, 1)
	go func() {
		_, err := e.worker(e.q, exec, Options{}).RunOnce(ctx)
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunOnce() error = %v, want context.Canceled", err)
	}
	e.assertQueued(t, task.ID)
}

func TestRunLoop(t *testing.T) {
	t.Run("drains queue then waits", func(t *testing.T) {
		e := newEnv(t)
		e.create(t, "dummy", nil)
		e.create(t, "dummy", nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var pauses []time.Duration
		exec := &stubExecutor{}
		w := e.worker(e.q, exec, Options{Loop: true, Wait: 5 * time.Second, Sleep: func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			if len(pauses) == 2 {
				cancel()
			}
			return nil
		}})

		if err := w.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(exec.Calls()) != 2 {
			t.Errorf("executions = %d, want 2", len(exec.Calls()))
		}
		for _, p := range pauses {
			if p != 5*time.Second {
				t.Errorf("pause = %v, want wait", p)
			}
		}
	})

	t.Run("dry run waits after every pass", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var pauses []time.Duration
		exec := &stubExecutor{}
		w := e.worker(e.q, exec, Options{Loop: true, DryRun: true, Wait: time.Minute, Sleep: func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			if len(pauses) == 2 {
				cancel()
			}
			return nil
		}})

		if err := w.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if calls := exec.Calls(); len(calls) != 2 {
			t.Errorf("executions = %d, want one per pass", len(calls))
		}
		for _, p := range pauses {
			if p != time.Minute {
				t.Errorf("pause = %v, want wait", p)
			}
		}
		e.assertQueued(t, task.ID)
	})

	t.Run("backs off after backend errors", func(t *testing.T) {
		e := newEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var pauses []time.Duration
		ft := &faultyTasks{Tasks: e.q, listErr: shared.ErrTransient}
		w := e.worker(ft, &stubExecutor{}, Options{Loop: true, Wait: time.Second, ErrorBackoff: time.Minute,
			Sleep: func(_ context.Context, d time.Duration) error {
				pauses = append(pauses, d)
				cancel()
				return context.Canceled
			}})

		if err := w.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(pauses) != 1 || pauses[0] != time.Minute {
			t.Errorf("pauses = %v, want [1m]", pauses)
		}
	})

	t.Run("keeps going after task failures", func(t *testing.T) {
		e := newEnv(t)
		e.create(t, "dummy", nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sleeps := 0
		exec := &stubExecutor{err: errors.New("boom")}
		w := e.worker(e.q, exec, Options{Loop: true, Sleep: func(context.Context, time.Duration) error {
			sleeps++
			if sleeps == 3 {
				cancel()
			}
			return nil
		}})

		if err := w.Run(ctx); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(exec.Calls()) != 3 {
			t.Errorf("executions = %d, want 3", len(exec.Calls()))
		}
	})

	t.Run("stops on fatal errors", func(t *testing.T) {
		e := newEnv(t)
		e.create(t, "dummy", nil)
		exec := &stubExecutor{err: shared.ErrUnauthorized}
		w := e.worker(e.q, exec, Options{Loop: true, Sleep: func(context.Context, time.Duration) error { return nil }})

		if err := w.Run(context.Background()); !shared.IsFatal(err) {
			t.Errorf("Run() error = %v, want fatal", err)
		}
	})

	t.Run("timeout fires", func(t *testing.T) {
		e := newEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fired := make(chan struct{})
		w := e.worker(e.q, &stubExecutor{}, Options{Loop: true, Wait: time.Hour, Timeout: 10 * time.Millisecond, OnTimeout: func() { close(fired) }})

		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout did not fire")
		}
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestCheckTodo(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	w := e.worker(e.q, &stubExecutor{}, Options{MaxNoHeartbeat: 30 * time.Second})

	if ok, err := w.CheckTodo(ctx); ok || err != nil {
		t.Fatalf("CheckTodo(empty) = %v, %v", ok, err)
	}

	task := e.create(t, "dummy", nil)
	if ok, err := w.CheckTodo(ctx); !ok || err != nil {
		t.Fatalf("CheckTodo(queued) = %v, %v", ok, err)
	}

	if _, err := e.q.TakeOwnership(ctx, task.ID, models.NewOwner("A", e.clock.Now())); err != nil {
		t.Fatal(err)
	}
	if ok, _ := w.CheckTodo(ctx); ok {
		t.Error("fresh lease reported as work")
	}

	e.clock.Advance(time.Minute)
	if ok, _ := w.CheckTodo(ctx); !ok {
		t.Error("stale lease not reported as work")
	}
	if got := e.get(t, task.ID); got.Status != models.StatusRunning {
		t.Error("CheckTodo released a task")
	}

	other := e.worker(e.q, &stubExecutor{}, Options{Filter: map[string]string{"platform": "lumi"}})
	if ok, _ := other.CheckTodo(ctx); ok {
		t.Error("filter ignored")
	}
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()

	t.Run("beats while the executor runs", func(t *testing.T) {
		e := newEnv(t)
		e.create(t, "dummy", nil)
		ft := &faultyTasks{Tasks: e.q}
		exec := &stubExecutor{run: func(context.Context, *models.Task, tasks.Env) error {
			time.Sleep(60 * time.Millisecond)
			return nil
		}}

		if _, err := e.worker(ft, exec, Options{Heartbeat: 10 * time.Millisecond}).RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
		if n := ft.heartbeats.Load(); n < 2 {
			t.Errorf("heartbeats = %d, want at least 2", n)
		}
		after := ft.heartbeats.Load()
		time.Sleep(30 * time.Millisecond)
		if ft.heartbeats.Load() != after {
			t.Error("heartbeat continued after the task finished")
		}
	})

	t.Run("failure stops quietly and does not fail the task", func(t *testing.T) {
		e := newEnv(t)
		task := e.create(t, "dummy", nil)
		ft := &faultyTasks{Tasks: e.q, heartbeatErr: shared.ErrTransient}
		exec := &stubExecutor{run: func(context.Context, *models.Task, tasks.Env) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		}}

		if _, err := e.worker(ft, exec, Options{Heartbeat: 5 * time.Millisecond}).RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if n := ft.heartbeats.Load(); n != 1 {
			t.Errorf("heartbeats = %d, want 1", n)
		}
		e.assertGone(t, task.ID)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		e := newEnv(t)
		ft := &faultyTasks{Tasks: e.q}
		w := e.worker(ft, &stubExecutor{}, Options{})
		hb := w.startHeartbeat(ctx, "missing", quiet)
		hb.Stop()
		hb.Stop()
	})
}
