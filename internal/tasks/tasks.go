package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/desertthunder/regq/internal/transfer"
)

// Executor runs one kind of task.
type Executor interface {
	// Action is the task action this executor handles.
	Action() models.Action

	// Validate checks the task's fields before anything is resolved or moved.
	// It returns an error wrapping [shared.ErrValidation].
	Validate(task *models.Task) error

	// Execute performs the task. Implementations call Validate first.
	Execute(ctx context.Context, task *models.Task, env Env) error
}

// Env carries what a worker provides to a single execution.
type Env struct {
	DryRun   bool          // Log mutations instead of performing them
	Progress ProgressWriter // Writes to the task's progress field; nil discards
	Updates  chan<- Update  // Optional phase updates, sent without blocking
	Logger   *log.Logger    // Task-scoped logger
}

func (e Env) logger(fallback *log.Logger) *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return fallback
}

// DatasetStore is the part of the catalogue executors read and update.
type DatasetStore interface {
	Get(ctx context.Context, name string) (*models.Dataset, error)
	AddLocation(ctx context.Context, name, platform, path string) error
	RemoveLocation(ctx context.Context, name, platform string) error
}

// Opener resolves a location into a filesystem. See [transfer.Opener].
type Opener interface {
	Open(location string) (transfer.FS, string, error)
}

// Config holds the dependencies and per-action settings for [New].
type Config struct {
	Datasets DatasetStore
	Opener   Opener
	Transfer shared.TransferWorkerConfig
	Delete   shared.DeleteWorkerConfig
	Logger   *log.Logger
	Now      func() time.Time
}

// New returns the executor for action.
func New(action models.Action, cfg Config) (Executor, error) {
	switch action {
	case models.ActionTransferDataset:
		return NewTransferDataset(cfg)
	case models.ActionDeleteDataset:
		return NewDeleteDataset(cfg)
	case models.ActionDummy:
		return &Dummy{logger: cfg.withDefaults().Logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownAction, action)
	}
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Opener == nil {
		c.Opener = transfer.Opener{Logger: c.Logger}
	}
	return c
}

// TransferDataset copies a dataset to this worker's destination.
type TransferDataset struct {
	datasets DatasetStore
	opener   Opener
	cfg      shared.TransferWorkerConfig
	logger   *log.Logger
	now      func() time.Time
}

// NewTransferDataset checks the configuration. A local target directory must already exist.
func NewTransferDataset(cfg Config) (*TransferDataset, error) {
	cfg = cfg.withDefaults()
	if cfg.Datasets == nil {
		return nil, fmt.Errorf("%w: transfer-dataset needs a catalogue", shared.ErrInvalidConfig)
	}

	tc := cfg.Transfer
	if strings.TrimSpace(tc.TargetDir) == "" {
		return nil, fmt.Errorf("%w: transfer-dataset target_dir is empty", shared.ErrInvalidConfig)
	}
	if !transfer.IsRemote(tc.TargetDir) {
		info, err := os.Stat(tc.TargetDir)
		if err != nil {
			return nil, fmt.Errorf("%w: target_dir %s: %w", shared.ErrInvalidConfig, tc.TargetDir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: target_dir %s is not a directory", shared.ErrInvalidConfig, tc.TargetDir)
		}
	}
	if tc.PublishedTargetDir == "" {
		tc.PublishedTargetDir = tc.TargetDir
	}
	if tc.ProgressFrequency <= 0 {
		tc.ProgressFrequency = int(DefaultProgressFrequency / time.Second)
	}

	return &TransferDataset{
		datasets: cfg.Datasets,
		opener:   cfg.Opener,
		cfg:      tc,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

func (e *TransferDataset) Action() models.Action { return models.ActionTransferDataset }

func (e *TransferDataset) Validate(task *models.Task) error {
	if err := models.ValidateIdentifiers(task, "source", "destination", "dataset"); err != nil {
		return err
	}
	if d := e.cfg.Destination; d != "" && task.Field("destination") != d {
		return fmt.Errorf("%w: task %s: destination %q is not %q", shared.ErrValidation, task.ID, task.Field("destination"), d)
	}
	return nil
}

func (e *TransferDataset) Execute(ctx context.Context, task *models.Task, env Env) error {
	if err := e.Validate(task); err != nil {
		return err
	}
	logger := env.logger(e.logger)
	source, destination, dataset := task.Field("source"), task.Field("destination"), task.Field("dataset")

	ds, err := e.datasets.Get(ctx, dataset)
	if err != nil {
		return err
	}
	srcLocation, ok := ds.LocationPath(source)
	if !ok {
		return fmt.Errorf("%w: dataset %s has no location on %s", shared.ErrNotFound, dataset, source)
	}
	send(env.Updates, resolvedUpdate(task.ID, dataset, source, srcLocation))

	name := baseName(srcLocation)
	if name == "" {
		return fmt.Errorf("%w: dataset %s location %q has no base name", shared.ErrValidation, dataset, srcLocation)
	}

	dstFS, targetDir, err := e.opener.Open(e.cfg.TargetDir)
	if err != nil {
		return err
	}
	defer dstFS.Close()

	targetDir = trimSlash(targetDir)
	target := dstFS.Join(targetDir, name)
	published := trimSlash(e.cfg.PublishedTargetDir) + "/" + name

	exists, err := transfer.Exists(dstFS, target)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("target already exists, nothing to transfer", "target", target)
		send(env.Updates, skipUpdate(task.ID, target+" already exists"))
		return e.register(ctx, task.ID, dataset, destination, published, env)
	}

	tmpDir := targetDir + "-downloading"
	tmp := dstFS.Join(tmpDir, name)
	if env.DryRun {
		logger.Info("dry run: would transfer", "from", srcLocation, "via", tmp, "to", target)
		send(env.Updates, skipUpdate(task.ID, "dry run"))
		return nil
	}

	srcFS, srcPath, err := e.opener.Open(srcLocation)
	if err != nil {
		return err
	}
	defer srcFS.Close()

	if err := dstFS.MkdirAll(tmpDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpDir, err)
	}

	reporter := NewReporter(env.Progress, time.Duration(e.cfg.ProgressFrequency)*time.Second, e.now, logger)
	send(env.Updates, transferUpdate(task.ID, srcLocation, tmp))
	logger.Info("transferring", "from", srcLocation, "to", tmp, "threads", max(e.cfg.Threads, 1))

	err = transfer.Copy(ctx, srcFS, srcPath, dstFS, tmp, transfer.Options{
		Threads:        e.cfg.Threads,
		Resume:         e.cfg.Resume,
		BytesPerSecond: e.cfg.BandwidthLimit,
		Progress:       reporter.Func(ctx),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	if err := dstFS.Rename(tmp, target); err != nil {
		return err
	}
	send(env.Updates, publishUpdate(task.ID, target, reporter.Transferred()))
	logger.Info("transfer complete", "target", target)

	return e.register(ctx, task.ID, dataset, destination, published, env)
}

func (e *TransferDataset) register(ctx context.Context, id, dataset, platform, published string, env Env) error {
	if !e.cfg.AutoRegister {
		return nil
	}
	if env.DryRun {
		env.logger(e.logger).Info("dry run: would register location", "dataset", dataset, "platform", platform, "path", published)
		return nil
	}
	if err := e.datasets.AddLocation(ctx, dataset, platform, published); err != nil {
		return err
	}
	send(env.Updates, registerUpdate(id, dataset, platform, published))
	return nil
}

// DeleteDataset removes a dataset copy from this worker's platform.
type DeleteDataset struct {
	datasets DatasetStore
	opener   Opener
	platform string
	logger   *log.Logger
}

func NewDeleteDataset(cfg Config) (*DeleteDataset, error) {
	cfg = cfg.withDefaults()
	if cfg.Datasets == nil {
		return nil, fmt.Errorf("%w: delete-dataset needs a catalogue", shared.ErrInvalidConfig)
	}
	return &DeleteDataset{
		datasets: cfg.Datasets,
		opener:   cfg.Opener,
		platform: cfg.Delete.Platform,
		logger:   cfg.Logger,
	}, nil
}

func (e *DeleteDataset) Action() models.Action { return models.ActionDeleteDataset }

func (e *DeleteDataset) Validate(task *models.Task) error {
	if err := models.ValidateIdentifiers(task, "platform", "dataset"); err != nil {
		return err
	}
	if e.platform != "" && task.Field("platform") != e.platform {
		return fmt.Errorf("%w: task %s: platform %q is not %q", shared.ErrValidation, task.ID, task.Field("platform"), e.platform)
	}
	return nil
}

// Execute moves the dataset directory aside, removes it and then drops the location.
// A dataset without a location on the platform is already deleted.
func (e *DeleteDataset) Execute(ctx context.Context, task *models.Task, env Env) error {
	if err := e.Validate(task); err != nil {
		return err
	}
	logger := env.logger(e.logger)
	platform, dataset := task.Field("platform"), task.Field("dataset")

	ds, err := e.datasets.Get(ctx, dataset)
	if err != nil {
		return err
	}
	location, ok := ds.LocationPath(platform)
	if !ok {
		logger.Warn("dataset has no location on platform, nothing to delete", "dataset", dataset, "platform", platform)
		send(env.Updates, skipUpdate(task.ID, "no location on "+platform))
		return nil
	}
	send(env.Updates, resolvedUpdate(task.ID, dataset, platform, location))

	if env.DryRun {
		logger.Info("dry run: would delete", "path", location)
		send(env.Updates, skipUpdate(task.ID, "dry run"))
		return nil
	}

	fsys, p, err := e.opener.Open(location)
	if err != nil {
		return err
	}
	defer fsys.Close()

	exists, err := transfer.Exists(fsys, p)
	if err != nil {
		return err
	}
	if exists {
		aside, err := transfer.MoveAside(fsys, p)
		if err != nil {
			return err
		}
		send(env.Updates, moveAsideUpdate(task.ID, p, aside))

		if err := fsys.RemoveAll(aside); err != nil {
			return fmt.Errorf("failed to remove %s: %w", aside, err)
		}
		send(env.Updates, removeUpdate(task.ID, aside))
	} else {
		logger.Warn("location path is already gone", "path", p)
	}

	if err := e.datasets.RemoveLocation(ctx, dataset, platform); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	send(env.Updates, unregisterUpdate(task.ID, dataset, platform))
	logger.Info("dataset deleted", "dataset", dataset, "platform", platform)
	return nil
}

// Dummy succeeds without side effects.
//
// A "sleep" field (a Go duration) delays completion and a "fail" field makes it return that message as an error.
type Dummy struct {
	logger *log.Logger
}

func (e *Dummy) Action() models.Action { return models.ActionDummy }

func (e *Dummy) Validate(task *models.Task) error {
	if s := task.Field("sleep"); s != "" {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%w: task %s: sleep=%q: %w", shared.ErrValidation, task.ID, s, err)
		}
	}
	return nil
}

func (e *Dummy) Execute(ctx context.Context, task *models.Task, env Env) error {
	if err := e.Validate(task); err != nil {
		return err
	}
	logger := env.logger(e.logger)
	logger.Info("dummy task", "fields", task.Fields, "dry_run", env.DryRun)

	if s := task.Field("sleep"); s != "" {
		d, _ := time.ParseDuration(s)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if msg := task.Field("fail"); msg != "" {
		return fmt.Errorf("dummy task failed: %s", msg)
	}
	return nil
}

// baseName is the last element of a path or sftp:// URI.
func baseName(location string) string {
	name := path.Base(trimSlash(location))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func trimSlash(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}
