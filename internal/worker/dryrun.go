package worker

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/regq/internal/models"
)

// dryRun reads through to the queue and logs every write instead of sending it.
type dryRun struct {
	Tasks
	logger *log.Logger
}

func (d *dryRun) TakeOwnership(ctx context.Context, id string, owner models.Owner) (*models.Task, error) {
	d.logger.Warn("dry run: would take ownership", "task", id, "owner", owner)
	t, err := d.Tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Status = models.StatusRunning
	t.Owner = &owner
	return t, nil
}

func (d *dryRun) ReleaseOwnership(ctx context.Context, id string) (*models.Task, error) {
	d.logger.Warn("dry run: would release ownership", "task", id)
	return d.Tasks.Get(ctx, id)
}

func (d *dryRun) Heartbeat(_ context.Context, id string) error {
	d.logger.Debug("dry run: would heartbeat", "task", id)
	return nil
}

func (d *dryRun) SetProgress(_ context.Context, id string, report models.ProgressReport) error {
	d.logger.Debug("dry run: would set progress", "task", id, "percent", report.Percentage)
	return nil
}

func (d *dryRun) Delete(_ context.Context, id string) error {
	d.logger.Warn("dry run: would delete", "task", id)
	return nil
}
