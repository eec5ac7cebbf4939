package main

import (
	"context"
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/regq/internal/formatter"
	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/queue"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/desertthunder/regq/internal/ui"
	"github.com/urfave/cli/v3"
)

// TasksNew queues a task: `tasks new ACTION key=value...`.
func (r *Runner) TasksNew(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("%w: action", shared.ErrMissingArgument)
	}
	fields, err := parseFields(args[1:])
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	task, err := q.Create(ctx, args[0], fields)
	if err != nil {
		return err
	}

	r.logger.Info("task queued", "task", task.ID, "action", task.Action)
	return r.writeTask(task, cmd.Bool("json"))
}

// TasksList prints tasks matching the key=value arguments.
func (r *Runner) TasksList(ctx context.Context, cmd *cli.Command) error {
	filter, err := listFilter(cmd)
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	tasks, err := q.List(ctx, filter)
	if err != nil {
		return err
	}

	r.logger.Debug("listed tasks", "count", len(tasks), "filter", filter.Fields, "status", filter.Status)
	return formatter.Write(r.output, format, tasks, formatter.Options{Long: cmd.Bool("long"), Now: r.now()})
}

// TasksTakeOne leases the most recently updated queued task matching the filters.
func (r *Runner) TasksTakeOne(ctx context.Context, cmd *cli.Command) error {
	fields, err := parseFields(cmd.Args().Slice())
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	task, err := q.TakeLastQueued(ctx, fields, models.NewOwner(cmd.String("name"), r.now()))
	if err != nil {
		return err
	}
	if task == nil {
		return r.writePlain("no queued task matches %v\n", fields)
	}
	return r.writeTask(task, cmd.Bool("json"))
}

// TasksOwn leases one task by id.
func (r *Runner) TasksOwn(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, 0, "task id")
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	task, err := q.TakeOwnership(ctx, id, models.NewOwner(cmd.String("name"), r.now()))
	if err != nil {
		return err
	}
	return r.writeTask(task, cmd.Bool("json"))
}

// TasksDisown releases one task by id.
func (r *Runner) TasksDisown(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, 0, "task id")
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	task, err := q.ReleaseOwnership(ctx, id)
	if err != nil {
		return err
	}
	return r.writeTask(task, cmd.Bool("json"))
}

// TasksSetProgress records a bare percentage: `tasks set-progress ID N`.
func (r *Runner) TasksSetProgress(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, 0, "task id")
	if err != nil {
		return err
	}
	raw, err := requireArg(cmd, 1, "percent")
	if err != nil {
		return err
	}
	percent, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: percent %q is not an integer", shared.ErrInvalidArgument, raw)
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	if err := q.SetPercentage(ctx, id, percent); err != nil {
		return err
	}
	return r.writePlain("%s: %d%%\n", id, percent)
}

// TasksDelete removes one task.
func (r *Runner) TasksDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, 0, "task id")
	if err != nil {
		return err
	}

	q, err := r.queue()
	if err != nil {
		return err
	}
	if err := q.Delete(ctx, id); err != nil {
		return err
	}
	return r.writePlain("deleted %s\n", id)
}

// TasksDeleteMany deletes every task matching the filters. Without --yes it only lists them.
func (r *Runner) TasksDeleteMany(ctx context.Context, cmd *cli.Command) error {
	filter, err := listFilter(cmd)
	if err != nil {
		return err
	}
	if len(filter.Fields) == 0 && filter.Status == "" {
		return fmt.Errorf("%w: refusing to delete every task, give at least one key=value filter", shared.ErrMissingArgument)
	}

	q, err := r.queue()
	if err != nil {
		return err
	}

	if !cmd.Bool("yes") {
		tasks, err := q.List(ctx, filter)
		if err != nil {
			return err
		}
		r.writePlain("%s\n", formatter.TasksToTable(tasks, formatter.Options{Now: r.now()}))
		return r.writePlainln("%d task(s) would be deleted; run again with --yes", len(tasks))
	}

	n, err := q.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("deleted %d task(s) before failing: %w", n, err)
	}
	r.logger.Info("tasks deleted", "count", n, "filter", filter.Fields)
	return r.writePlain("deleted %d task(s)\n", n)
}

// TasksWatch runs the dashboard until the user quits or ctx is cancelled.
func (r *Runner) TasksWatch(ctx context.Context, cmd *cli.Command) error {
	fields, err := parseFields(cmd.Args().Slice())
	if err != nil {
		return err
	}

	// The dashboard owns the terminal; logs go to a file.
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"), r.config.Logging.MaxSizeMB, r.config.Logging.MaxBackups)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	q, err := r.queue()
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, q, queue.Filter{Fields: fields}, cmd.Duration("interval"))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}

func listFilter(cmd *cli.Command) (queue.Filter, error) {
	fields, err := parseFields(cmd.Args().Slice())
	if err != nil {
		return queue.Filter{}, err
	}

	f := queue.Filter{Fields: fields}
	if s := cmd.String("status"); s != "" {
		f.Status = models.Status(s)
		if !f.Status.Valid() {
			return queue.Filter{}, fmt.Errorf("%w: status must be queued or running, got %q", shared.ErrInvalidFlag, s)
		}
	}
	if f.Sort, err = queue.ParseSortKey(cmd.String("sort")); err != nil {
		return queue.Filter{}, err
	}
	return f, nil
}

func requireArg(cmd *cli.Command, i int, name string) (string, error) {
	v := cmd.Args().Get(i)
	if v == "" {
		return "", fmt.Errorf("%w: %s", shared.ErrMissingArgument, name)
	}
	return v, nil
}

func (r *Runner) writeTask(task *models.Task, asJSON bool) error {
	if asJSON {
		return r.writeJSON(task, true)
	}
	return r.writePlain("%s", formatter.TaskToText(task, r.now()))
}
