package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/regq/internal/formatter"
	"github.com/desertthunder/regq/internal/models"
	"github.com/dustin/go-humanize"
)

var _ list.Item = taskItem{}

// taskItem wraps [models.Task] to implement [list.Item].
type taskItem struct {
	task *models.Task
	now  time.Time
}

func (i taskItem) FilterValue() string {
	return i.task.ID + " " + formatter.FieldSummary(i.task)
}

func (i taskItem) Title() string {
	return fmt.Sprintf("%s  %s  %s", i.task.Action, styles.Status(i.task.Status), i.task.ID)
}

func (i taskItem) Description() string {
	desc := formatter.FieldSummary(i.task)
	if !i.task.Updated.IsZero() {
		desc = fmt.Sprintf("%s • updated %s", desc, humanize.RelTime(i.task.Updated, i.now, "ago", "from now"))
	}
	if i.task.Progress != nil {
		desc = fmt.Sprintf("%s • %.0f%%", desc, i.task.Progress.Percentage)
	}
	return desc
}

func taskItems(tasks []*models.Task, now time.Time) []list.Item {
	items := make([]list.Item, len(tasks))
	for i, t := range tasks {
		items[i] = taskItem{task: t, now: now}
	}
	return items
}
