package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/desertthunder/regq/internal/tasks"
	"github.com/desertthunder/regq/internal/transfer"
	"github.com/desertthunder/regq/internal/worker"
	"github.com/urfave/cli/v3"
)

// workerSetup is everything resolved from config and flags before a worker starts.
type workerSetup struct {
	action  models.Action
	options worker.Options
	config  tasks.Config
}

// resolveWorker merges flags over [workers.<action>] over [workers] over built-in defaults.
func (r *Runner) resolveWorker(cmd *cli.Command, logger *log.Logger) (*workerSetup, error) {
	if cmd.NArg() != 1 {
		return nil, fmt.Errorf("%w: worker needs exactly one action (%v)", shared.ErrMissingArgument, models.Actions())
	}
	action, err := models.ParseAction(cmd.Args().First())
	if err != nil {
		return nil, err
	}

	wc := r.config.Workers
	timing := wc.TimingFor(action.String())
	seconds := func(flag string, configured int) time.Duration {
		if cmd.IsSet(flag) {
			return time.Duration(cmd.Int(flag)) * time.Second
		}
		return time.Duration(configured) * time.Second
	}

	filter, err := parseFields(cmd.StringSlice("request"))
	if err != nil {
		return nil, err
	}

	tc := wc.Transfer
	dc := wc.Delete
	if cmd.IsSet("destination") {
		tc.Destination = cmd.String("destination")
	}
	if cmd.IsSet("target-dir") {
		tc.TargetDir = cmd.String("target-dir")
	}
	if cmd.IsSet("published-target-dir") {
		tc.PublishedTargetDir = cmd.String("published-target-dir")
	}
	if cmd.Bool("no-auto-register") {
		tc.AutoRegister = false
	}
	if cmd.IsSet("threads") {
		tc.Threads = cmd.Int("threads")
	}
	if cmd.IsSet("platform") {
		dc.Platform = cmd.String("platform")
	}

	switch action {
	case models.ActionTransferDataset:
		if tc.Destination != "" {
			filter["destination"] = tc.Destination
		}
		if src := cmd.String("source"); src != "" {
			filter["source"] = src
		}
	case models.ActionDeleteDataset:
		if dc.Platform != "" {
			filter["platform"] = dc.Platform
		}
	}

	opts := worker.Options{
		Name:           cmd.String("name"),
		Filter:         filter,
		Wait:           seconds("wait", timing.Wait),
		Heartbeat:      seconds("heartbeat", timing.Heartbeat),
		MaxNoHeartbeat: seconds("max-no-heartbeat", timing.MaxNoHeartbeat),
		ErrorBackoff:   time.Duration(timing.ErrorBackoff) * time.Second,
		Loop:           cmd.Bool("loop"),
		Timeout:        seconds("timeout", 0),
		DryRun:         cmd.Bool("dry-run"),
		Now:            r.now,
	}
	if opts.MaxNoHeartbeat > 0 && opts.Heartbeat >= opts.MaxNoHeartbeat {
		return nil, fmt.Errorf("%w: heartbeat (%s) must be shorter than max-no-heartbeat (%s)",
			shared.ErrInvalidFlag, opts.Heartbeat, opts.MaxNoHeartbeat)
	}

	return &workerSetup{
		action:  action,
		options: opts,
		config: tasks.Config{
			Opener:   transfer.Opener{SFTP: r.config.SFTP, Logger: logger},
			Transfer: tc,
			Delete:   dc,
			Logger:   logger,
			Now:      r.now,
		},
	}, nil
}

// Worker runs one worker, once, in a loop, or as a check-todo query.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	logFile := cmd.String("log-file")
	if logFile == "" {
		logFile = r.config.Logging.File
	}
	if logFile != "" {
		fileLogger, err := shared.NewFileLogger(logFile, r.config.Logging.MaxSizeMB, r.config.Logging.MaxBackups)
		if err != nil {
			return err
		}
		r.SetLogger(fileLogger)
	}

	setup, err := r.resolveWorker(cmd, r.logger)
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	datasets, err := r.datasets()
	if err != nil {
		return err
	}
	setup.config.Datasets = datasets
	if setup.options.DryRun {
		setup.config.Datasets = dryRunDatasets{DatasetStore: datasets, logger: r.logger}
	}

	executor, err := tasks.New(setup.action, setup.config)
	if err != nil {
		return err
	}

	w := worker.New(q, executor, setup.options, r.logger)

	if cmd.Bool("check-todo") {
		todo, err := w.CheckTodo(ctx)
		if err != nil {
			return err
		}
		if !todo {
			r.logger.Info("nothing to do", "action", setup.action)
			return cli.Exit("", 1)
		}
		r.logger.Info("work available", "action", setup.action)
		return nil
	}

	r.logger.Info("worker starting",
		"worker", w.Name(),
		"action", setup.action,
		"filter", setup.options.Filter,
		"loop", setup.options.Loop,
		"dry_run", setup.options.DryRun,
		"pid", os.Getpid(),
	)
	return w.Run(ctx)
}

// parseFields turns key=value arguments into a field map.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", shared.ErrInvalidArgument, arg)
		}
		fields[k] = v
	}
	return fields, nil
}

// dryRunDatasets logs catalogue writes instead of sending them.
type dryRunDatasets struct {
	tasks.DatasetStore
	logger *log.Logger
}

func (d dryRunDatasets) AddLocation(_ context.Context, name, platform, path string) error {
	d.logger.Info("dry run: would add location", "dataset", name, "platform", platform, "path", path)
	return nil
}

func (d dryRunDatasets) RemoveLocation(_ context.Context, name, platform string) error {
	d.logger.Info("dry run: would remove location", "dataset", name, "platform", platform)
	return nil
}
