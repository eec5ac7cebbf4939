package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/regq/internal/shared"
)

// Status is the lease state of a task. There is no terminal state: a finished task is deleted.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
)

func (s Status) Valid() bool {
	return s == StatusQueued || s == StatusRunning
}

// Action discriminates task types.
type Action string

const (
	ActionTransferDataset Action = "transfer-dataset"
	ActionDeleteDataset   Action = "delete-dataset"
	ActionDummy           Action = "dummy"
)

// Actions lists every action a worker can execute.
func Actions() []Action {
	return []Action{ActionTransferDataset, ActionDeleteDataset, ActionDummy}
}

// ParseAction lowercases s, maps "_" to "-" and checks the result is a known [Action].
func ParseAction(s string) (Action, error) {
	a := Action(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !slices.Contains(Actions(), a) {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownAction, s)
	}
	return a, nil
}

// RequiredFields returns the action fields a task must carry to be executed.
func (a Action) RequiredFields() []string {
	switch a {
	case ActionTransferDataset:
		return []string{"source", "destination", "dataset"}
	case ActionDeleteDataset:
		return []string{"platform", "dataset"}
	default:
		return nil
	}
}

// TargetField is the field a worker filters on to only see tasks for its own platform.
func (a Action) TargetField() string {
	switch a {
	case ActionTransferDataset:
		return "destination"
	case ActionDeleteDataset:
		return "platform"
	default:
		return ""
	}
}

func (a Action) String() string { return string(a) }

// Owner identifies the worker holding a lease.
type Owner struct {
	Worker    string    `json:"worker"`
	Host      string    `json:"host"`
	User      string    `json:"user,omitempty"`
	PID       int       `json:"pid"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOwner stamps the process trace with worker and the acquisition time.
func NewOwner(worker string, now time.Time) Owner {
	tr := shared.ProcessTrace()
	return Owner{
		Worker:    worker,
		Host:      tr.Host,
		User:      tr.User,
		PID:       tr.PID,
		Version:   tr.Version,
		Timestamp: now.UTC(),
	}
}

func (o Owner) String() string {
	return fmt.Sprintf("%s@%s[%d]", o.Worker, o.Host, o.PID)
}
