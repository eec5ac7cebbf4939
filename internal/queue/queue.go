// Package queue lists, creates and leases tasks stored in the catalogue.
//
// Leases are conditional patches. [Queue.TakeOwnership] succeeds only when the task is still
// queued at apply time; every other racer gets [shared.ErrConflict] and the task is untouched.
// [Queue.Heartbeat] is unconditional and exists only to advance the task's updated timestamp.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/regq/internal/catalogue"
	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
)

// SortKey orders listings.
type SortKey string

const (
	SortCreated SortKey = "created"
	SortUpdated SortKey = "updated"
)

// ParseSortKey accepts "created" or "updated"; empty means created.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(s) {
	case "", SortCreated:
		return SortCreated, nil
	case SortUpdated:
		return SortUpdated, nil
	default:
		return "", fmt.Errorf("%w: sort must be created or updated, got %q", shared.ErrInvalidArgument, s)
	}
}

// Filter selects tasks by exact field values.
type Filter struct {
	Status models.Status     // empty for any status
	Fields map[string]string // action, destination, platform, ...
	Sort   SortKey
}

func (f Filter) params() map[string]string {
	params := make(map[string]string, len(f.Fields)+1)
	maps.Copy(params, f.Fields)
	if f.Status != "" {
		params["status"] = string(f.Status)
	}
	return params
}

// WithStatus returns a copy of f restricted to status.
func (f Filter) WithStatus(status models.Status) Filter {
	f.Status = status
	return f
}

// Queue is the task queue over a catalogue client.
type Queue struct {
	client catalogue.Client
	logger *log.Logger
}

// New creates a new Queue. A nil logger writes to stderr.
func New(client catalogue.Client, logger *log.Logger) *Queue {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Queue{client: client, logger: logger}
}

// List returns the tasks matching f, oldest first by f.Sort.
func (q *Queue) List(ctx context.Context, f Filter) ([]*models.Task, error) {
	docs, err := q.client.List(ctx, catalogue.CollectionTasks, f.params())
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	tasks := make([]*models.Task, 0, len(docs))
	for _, doc := range docs {
		var t models.Task
		if err := json.Unmarshal(doc, &t); err != nil {
			q.logger.Warn("skipping unreadable task", "error", err)
			continue
		}
		tasks = append(tasks, &t)
	}

	key := func(t *models.Task) time.Time { return t.Created }
	if f.Sort == SortUpdated {
		key = func(t *models.Task) time.Time { return t.Updated }
	}
	slices.SortStableFunc(tasks, func(a, b *models.Task) int { return key(a).Compare(key(b)) })

	return tasks, nil
}

// Get fetches one task.
func (q *Queue) Get(ctx context.Context, id string) (*models.Task, error) {
	raw, err := q.client.Get(ctx, catalogue.CollectionTasks, id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTask(raw)
}

// Create enqueues a new task. The action is normalised and must be known, and every field it
// requires must be present; field syntax is checked later by the executor.
func (q *Queue) Create(ctx context.Context, action string, fields map[string]string) (*models.Task, error) {
	a, err := models.ParseAction(action)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	task := &models.Task{Action: a, Status: models.StatusQueued, Fields: maps.Clone(fields)}
	if task.Fields == nil {
		task.Fields = map[string]string{}
	}
	for k := range task.Fields {
		if reserved(k) {
			return nil, fmt.Errorf("%w: %q is set by the queue", shared.ErrInvalidInput, k)
		}
	}
	if missing := task.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s requires %v", shared.ErrValidation, a, missing)
	}

	raw, err := q.client.Post(ctx, catalogue.CollectionTasks, task)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	created, err := decodeTask(raw)
	if err != nil {
		return nil, err
	}

	q.logger.Debug("task created", "task", created.ID, "action", created.Action)
	return created, nil
}

// Delete removes a task. Deleting is how a task is marked done.
func (q *Queue) Delete(ctx context.Context, id string) error {
	if err := q.client.Delete(ctx, catalogue.CollectionTasks, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// DeleteMany deletes every task matching f and returns how many were removed.
// Tasks that vanish in between are not counted and not reported.
func (q *Queue) DeleteMany(ctx context.Context, f Filter) (int, error) {
	tasks, err := q.List(ctx, f)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, t := range tasks {
		err := q.Delete(ctx, t.ID)
		switch {
		case err == nil:
			deleted++
		case isNotFound(err):
		default:
			return deleted, err
		}
	}
	return deleted, nil
}

func decodeTask(raw json.RawMessage) (*models.Task, error) {
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: decode task: %w", shared.ErrAPIRequest, err)
	}
	return &t, nil
}

func reserved(key string) bool {
	return slices.Contains([]string{"id", "action", "status", "created", "updated", "owner", "progress"}, key)
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
