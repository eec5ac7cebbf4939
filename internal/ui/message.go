package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/regq/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the dashboard (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgTasksFetched MsgKind = iota
	MsgTick
)

type tasksFetched struct {
	tasks  []*models.Task
	at     time.Time
	err    error
	manual bool
}

// tasksFetchedMsg is the constructor for [MsgTasksFetched]
func tasksFetchedMsg(tasks []*models.Task, at time.Time, err error) Msg {
	return Msg{kind: MsgTasksFetched, data: tasksFetched{tasks: tasks, at: at, err: err}}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}
