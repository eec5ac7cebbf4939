package ui

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/regq/internal/formatter"
	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/queue"
	"github.com/dustin/go-humanize"
)

// DefaultInterval is the polling period when none is given.
const DefaultInterval = 2 * time.Second

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ListView ViewState = iota
	DetailView
)

// Lister is the read side of the queue the dashboard needs.
type Lister interface {
	List(ctx context.Context, f queue.Filter) ([]*models.Task, error)
}

// Model represents the dashboard state.
type Model struct {
	ctx       context.Context
	lister    Lister
	filter    queue.Filter
	interval  time.Duration
	now       func() time.Time
	view      ViewState
	width     int
	height    int
	tasks     []*models.Task
	fetchedAt time.Time
	selected  string
	list      list.Model
	bar       progress.Model
	err       error
	help      help.Model
	keys      keyMap
}

// NewModel creates a dashboard polling lister every interval. Listings are sorted by last update.
func NewModel(ctx context.Context, lister Lister, filter queue.Filter, interval time.Duration) *Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	filter.Sort = queue.SortUpdated

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Tasks"
	l.SetShowHelp(false)

	return &Model{
		ctx:      ctx,
		lister:   lister,
		filter:   filter,
		interval: interval,
		now:      time.Now,
		view:     ListView,
		list:     l,
		bar:      progress.New(progress.WithDefaultGradient()),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init fetches the first listing.
func (m *Model) Init() tea.Cmd {
	return m.fetch(false)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(max(msg.Width-4, 0), max(msg.Height-6, 0))
		m.bar.Width = min(max(msg.Width-20, 10), 60)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case Msg:
		switch msg.kind {
		case MsgTasksFetched:
			return m, m.applyFetch(msg.data.(tasksFetched))
		case MsgTick:
			return m, m.fetch(false)
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case DetailView:
		return m.renderDetail()
	default:
		return m.renderList()
	}
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetch(true)
	}

	switch m.view {
	case ListView:
		if key.Matches(msg, m.keys.enter) {
			if item, ok := m.list.SelectedItem().(taskItem); ok {
				m.selected = item.task.ID
				m.view = DetailView
			}
			return m, nil
		}
	case DetailView:
		if key.Matches(msg, m.keys.back) {
			m.view = ListView
			return m, nil
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// fetch lists tasks in the background. Only polled fetches schedule the next tick so a manual
// refresh does not start a second polling chain.
func (m *Model) fetch(manual bool) tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.lister.List(m.ctx, m.filter)
		msg := tasksFetchedMsg(tasks, m.now(), err)
		if manual {
			data := msg.data.(tasksFetched)
			data.manual = true
			msg.data = data
		}
		return msg
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) applyFetch(data tasksFetched) tea.Cmd {
	var next tea.Cmd
	if !data.manual {
		next = m.tick()
	}

	if data.err != nil {
		m.err = data.err
		return next
	}

	m.err = nil
	m.fetchedAt = data.at
	m.tasks = data.tasks
	slices.Reverse(m.tasks)

	index := m.list.Index()
	cmd := m.list.SetItems(taskItems(m.tasks, data.at))
	if index < len(m.tasks) {
		m.list.Select(index)
	}
	return tea.Batch(cmd, next)
}

func (m *Model) counts() (queued, running int) {
	for _, t := range m.tasks {
		switch t.Status {
		case models.StatusQueued:
			queued++
		case models.StatusRunning:
			running++
		}
	}
	return queued, running
}

func (m *Model) selectedTask() *models.Task {
	for _, t := range m.tasks {
		if t.ID == m.selected {
			return t
		}
	}
	return nil
}

func (m *Model) renderList() string {
	queued, running := m.counts()
	title := styles.title.Render(fmt.Sprintf("%d queued, %d running", queued, running))

	status := ""
	if !m.fetchedAt.IsZero() {
		status = styles.help.Render(fmt.Sprintf("refreshed %s", humanize.RelTime(m.fetchedAt, m.now(), "ago", "from now")))
	}
	if m.err != nil {
		status = styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}

	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, m.list.View(), status, m.help.View(m.keys))
}

func (m *Model) renderDetail() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.refresh, m.keys.quit})

	t := m.selectedTask()
	if t == nil {
		msg := styles.warn.Render(fmt.Sprintf("Task %s is gone (finished or deleted)", m.selected))
		return fmt.Sprintf("%s\n\n%s", msg, helpView)
	}

	title := styles.title.Render(fmt.Sprintf("%s %s", t.Action, styles.Status(t.Status)))
	body := formatter.TaskToText(t, m.now())

	bar := ""
	if p := t.Progress; p != nil {
		bar = fmt.Sprintf("\n%s\n%s", m.bar.ViewAs(p.Percentage/100), formatter.ProgressSummary(p))
	}

	errLine := ""
	if m.err != nil {
		errLine = "\n" + styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}

	return fmt.Sprintf("%s\n%s%s%s\n\n%s", title, body, bar, errLine, helpView)
}
