package tasks

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Update is a phase change during task execution.
//
// Used by the worker to log what an executor is doing without coupling executors to a logger format.
type Update struct {
	Phase   Phase  // Execution phase
	Task    string // Task id
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Execution phase enumeration
type Phase int

const (
	Resolve Phase = iota
	Transfer
	Publish
	Register
	MoveAside
	Remove
	Unregister
	Skip
)

func (p Phase) String() string {
	switch p {
	case Resolve:
		return "resolve"
	case Transfer:
		return "transfer"
	case Publish:
		return "publish"
	case Register:
		return "register"
	case MoveAside:
		return "move_aside"
	case Remove:
		return "remove"
	case Unregister:
		return "unregister"
	case Skip:
		return "skip"
	default:
		return ""
	}
}

// send delivers u without blocking. Updates are dropped when nobody is listening.
func send(updates chan<- Update, u Update) {
	if updates == nil {
		return
	}
	select {
	case updates <- u:
	default:
	}
}

func resolvedUpdate(task, dataset, platform, path string) Update {
	return Update{
		Phase:   Resolve,
		Task:    task,
		Message: fmt.Sprintf("%s on %s is at %s", dataset, platform, path),
		Data:    path,
	}
}

func transferUpdate(task, from, to string) Update {
	return Update{
		Phase:   Transfer,
		Task:    task,
		Message: fmt.Sprintf("copying %s to %s", from, to),
	}
}

func publishUpdate(task, target string, bytes int64) Update {
	return Update{
		Phase:   Publish,
		Task:    task,
		Message: fmt.Sprintf("published %s (%s)", target, humanize.IBytes(uint64(max(bytes, 0)))),
		Data:    target,
	}
}

func registerUpdate(task, dataset, platform, path string) Update {
	return Update{
		Phase:   Register,
		Task:    task,
		Message: fmt.Sprintf("registered %s on %s at %s", dataset, platform, path),
	}
}

func moveAsideUpdate(task, from, to string) Update {
	return Update{
		Phase:   MoveAside,
		Task:    task,
		Message: fmt.Sprintf("moved %s to %s", from, to),
	}
}

func removeUpdate(task, path string) Update {
	return Update{
		Phase:   Remove,
		Task:    task,
		Message: fmt.Sprintf("removed %s", path),
	}
}

func unregisterUpdate(task, dataset, platform string) Update {
	return Update{
		Phase:   Unregister,
		Task:    task,
		Message: fmt.Sprintf("removed %s location of %s", platform, dataset),
	}
}

func skipUpdate(task, reason string) Update {
	return Update{
		Phase:   Skip,
		Task:    task,
		Message: reason,
	}
}
