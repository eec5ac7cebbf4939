package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/regq/internal/catalogue"
	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
)

// TakeOwnership leases a queued task for owner.
//
// The patch tests status == queued before switching it to running and attaching the owner,
// so of several concurrent callers exactly one succeeds. The others get [shared.ErrConflict].
func (q *Queue) TakeOwnership(ctx context.Context, id string, owner models.Owner) (*models.Task, error) {
	ops := []models.PatchOp{
		models.Test("/status", models.StatusQueued),
		models.Replace("/status", models.StatusRunning),
		models.Add("/owner", owner),
	}

	raw, err := q.client.Patch(ctx, catalogue.CollectionTasks, id, ops)
	if err != nil {
		return nil, fmt.Errorf("take ownership of task %s: %w", id, err)
	}
	return decodeTask(raw)
}

// ReleaseOwnership puts a running task back in the queue and drops its owner.
// A task that is no longer running yields [shared.ErrConflict].
func (q *Queue) ReleaseOwnership(ctx context.Context, id string) (*models.Task, error) {
	ops := []models.PatchOp{
		models.Test("/status", models.StatusRunning),
		models.Replace("/status", models.StatusQueued),
		models.Remove("/owner"),
	}

	raw, err := q.client.Patch(ctx, catalogue.CollectionTasks, id, ops)
	if errors.Is(err, shared.ErrInvalidPatch) {
		// A heartbeat landing after a reclaim leaves the task running with no /owner to remove.
		q.logger.Warn("task is running without an owner, releasing it anyway", "task", id)
		raw, err = q.client.Patch(ctx, catalogue.CollectionTasks, id, ops[:2])
	}
	if err != nil {
		return nil, fmt.Errorf("release ownership of task %s: %w", id, err)
	}
	return decodeTask(raw)
}

// Heartbeat re-asserts status running to advance the task's updated timestamp.
//
// It carries no ownership check. A lease is only safe while the heartbeat period stays
// well inside the reclaim window of the other workers.
func (q *Queue) Heartbeat(ctx context.Context, id string) error {
	ops := []models.PatchOp{models.Add("/status", models.StatusRunning)}
	if _, err := q.client.Patch(ctx, catalogue.CollectionTasks, id, ops); err != nil {
		return fmt.Errorf("heartbeat task %s: %w", id, err)
	}
	return nil
}

// SetProgress replaces the task's progress report.
func (q *Queue) SetProgress(ctx context.Context, id string, report models.ProgressReport) error {
	ops := []models.PatchOp{models.Add("/progress", report)}
	if _, err := q.client.Patch(ctx, catalogue.CollectionTasks, id, ops); err != nil {
		return fmt.Errorf("set progress of task %s: %w", id, err)
	}
	return nil
}

// SetPercentage records a bare percentage, for operators nudging a task by hand.
func (q *Queue) SetPercentage(ctx context.Context, id string, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: progress must be between 0 and 100, got %d", shared.ErrInvalidArgument, percent)
	}
	return q.SetProgress(ctx, id, models.ProgressReport{Progress: models.Progress{Percentage: float64(percent)}})
}

// TakeLastQueued leases the most recently updated queued task matching fields.
//
// It makes a single attempt: on a lost race it returns [shared.ErrConflict] and the caller lists again.
// It returns nil and no error when nothing is queued.
func (q *Queue) TakeLastQueued(ctx context.Context, fields map[string]string, owner models.Owner) (*models.Task, error) {
	tasks, err := q.List(ctx, Filter{Status: models.StatusQueued, Fields: fields, Sort: SortUpdated})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		q.logger.Info("no queued task found", "filter", fields)
		return nil, nil
	}

	latest := tasks[len(tasks)-1]
	return q.TakeOwnership(ctx, latest.ID, owner)
}
