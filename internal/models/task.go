package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/regq/internal/shared"
)

// Reserved keys of a task document. Every other top-level key is an action field.
var reservedTaskKeys = []string{"id", "action", "status", "created", "updated", "owner", "progress"}

// Task is one work item. On the wire its action fields sit next to the reserved keys:
//
//	{"id": "...", "action": "transfer-dataset", "status": "queued", "created": "...", "updated": "...",
//	 "source": "atos", "destination": "leonardo", "dataset": "ds1"}
type Task struct {
	ID       string
	Action   Action
	Status   Status
	Created  time.Time
	Updated  time.Time
	Owner    *Owner
	Progress *ProgressReport
	Fields   map[string]string
}

// Field returns an action field or "".
func (t *Task) Field(name string) string {
	return t.Fields[name]
}

// Stale reports whether a running task has gone longer than maxNoHeartbeat without an update.
//
// A zero or negative threshold disables reclaiming.
func (t *Task) Stale(now time.Time, maxNoHeartbeat time.Duration) bool {
	if maxNoHeartbeat <= 0 || t.Status != StatusRunning {
		return false
	}
	return now.Sub(t.Updated) > maxNoHeartbeat
}

// MissingFields lists required fields of the task's action that are absent or empty.
func (t *Task) MissingFields() []string {
	var missing []string
	for _, f := range t.Action.RequiredFields() {
		if strings.TrimSpace(t.Fields[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// ExtraFields lists action fields the action does not know about, sorted.
func (t *Task) ExtraFields() []string {
	var extra []string
	for _, k := range slices.Sorted(maps.Keys(t.Fields)) {
		if !slices.Contains(t.Action.RequiredFields(), k) {
			extra = append(extra, k)
		}
	}
	return extra
}

func (t Task) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(t.Fields)+len(reservedTaskKeys))
	for k, v := range t.Fields {
		doc[k] = v
	}
	if t.ID != "" {
		doc["id"] = t.ID
	}
	doc["action"] = t.Action
	doc["status"] = t.Status
	if !t.Created.IsZero() {
		doc["created"] = FormatTimestamp(t.Created)
	}
	if !t.Updated.IsZero() {
		doc["updated"] = FormatTimestamp(t.Updated)
	}
	if t.Owner != nil {
		doc["owner"] = t.Owner
	}
	if t.Progress != nil {
		doc["progress"] = t.Progress
	}
	return json.Marshal(doc)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var head struct {
		ID       string          `json:"id"`
		Action   Action          `json:"action"`
		Status   Status          `json:"status"`
		Created  string          `json:"created"`
		Updated  string          `json:"updated"`
		Owner    *Owner          `json:"owner"`
		Progress *ProgressReport `json:"progress"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	created, err := ParseTimestamp(head.Created)
	if err != nil {
		return fmt.Errorf("task %s: created: %w", head.ID, err)
	}
	updated, err := ParseTimestamp(head.Updated)
	if err != nil {
		return fmt.Errorf("task %s: updated: %w", head.ID, err)
	}

	fields := make(map[string]string)
	for k, v := range raw {
		if slices.Contains(reservedTaskKeys, k) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			fields[k] = s
		} else {
			fields[k] = string(v)
		}
	}

	*t = Task{
		ID:       head.ID,
		Action:   head.Action,
		Status:   head.Status,
		Created:  created,
		Updated:  updated,
		Owner:    head.Owner,
		Progress: head.Progress,
		Fields:   fields,
	}
	return nil
}

const naiveTimestamp = "2006-01-02T15:04:05.999999999"

// FormatTimestamp renders t in UTC with microsecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

// ParseTimestamp accepts RFC 3339 and naive ISO 8601 timestamps. Naive values are taken as UTC.
// An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(naiveTimestamp, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", shared.ErrInvalidInput, s)
	}
	return t, nil
}
