// package formatter renders task listings and dataset records for the terminal (table, plain text) and for
// scripts (JSON, CSV, Markdown)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/dustin/go-humanize"
)

// Format selects a renderer for [Write].
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts table, json, csv and markdown (or md).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: format %q (want table, json, csv or markdown)", shared.ErrInvalidFlag, s)
	}
}

// Options controls the human readable renderers.
type Options struct {
	Long bool      // include owner and action fields
	Now  time.Time // reference for relative times; zero means time.Now
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	statusStyle = map[models.Status]lipgloss.Style{
		models.StatusQueued:  cellStyle.Foreground(lipgloss.Color("#FFA500")),
		models.StatusRunning: cellStyle.Foreground(lipgloss.Color("#04B575")),
	}
)

// Write renders tasks to w in format f.
func Write(w io.Writer, f Format, tasks []*models.Task, opts Options) error {
	var (
		out []byte
		err error
	)
	switch f {
	case FormatJSON:
		out, err = TasksToJSON(tasks)
	case FormatCSV:
		out, err = TasksToCSV(tasks)
	case FormatMarkdown:
		out, err = TasksToMarkdown(tasks, opts)
	default:
		out = []byte(TasksToTable(tasks, opts) + "\n")
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func taskHeaders(long bool) []string {
	headers := []string{"ID", "Action", "Status", "Created", "Updated", "Progress"}
	if long {
		headers = append(headers, "Owner", "Fields")
	}
	return headers
}

func taskRow(t *models.Task, opts Options) []string {
	now := opts.now()
	row := []string{
		t.ID,
		t.Action.String(),
		string(t.Status),
		relative(t.Created, now),
		relative(t.Updated, now),
		ProgressSummary(t.Progress),
	}
	if opts.Long {
		owner := ""
		if t.Owner != nil {
			owner = t.Owner.String()
		}
		row = append(row, owner, FieldSummary(t))
	}
	return row
}

// TasksToTable draws a bordered [table] with one row per task.
func TasksToTable(tasks []*models.Task, opts Options) string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskRow(t, opts))
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(taskHeaders(opts.Long)...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(tasks) {
				if s, ok := statusStyle[tasks[row].Status]; ok {
					return s
				}
			}
			return cellStyle
		})
	return tbl.Render()
}

// TasksToJSON writes the tasks as an indented JSON array in their wire form.
func TasksToJSON(tasks []*models.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []*models.Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tasks: %w", err)
	}
	return append(data, '\n'), nil
}

// TasksToCSV writes one record per task with columns: id, action, status, created, updated, owner,
// percentage, total_transferred, total_size, fields. Timestamps are absolute.
func TasksToCSV(tasks []*models.Task) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"id", "action", "status", "created", "updated", "owner", "percentage", "total_transferred", "total_size", "fields"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, t := range tasks {
		var owner, pct, transferred, size string
		if t.Owner != nil {
			owner = t.Owner.String()
		}
		if p := t.Progress; p != nil {
			pct = strconv.FormatFloat(p.Percentage, 'f', 1, 64)
			transferred = strconv.FormatInt(p.TotalTransferred, 10)
			size = strconv.FormatInt(p.TotalSize, 10)
		}
		record := []string{
			t.ID,
			t.Action.String(),
			string(t.Status),
			timestamp(t.Created),
			timestamp(t.Updated),
			owner,
			pct,
			transferred,
			size,
			FieldSummary(t),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// TasksToMarkdown renders a pipe table suitable for pasting into an issue or runbook.
func TasksToMarkdown(tasks []*models.Task, opts Options) ([]byte, error) {
	var buf bytes.Buffer

	headers := taskHeaders(opts.Long)
	buf.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	buf.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")

	for _, t := range tasks {
		cells := taskRow(t, opts)
		for i, c := range cells {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		buf.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	buf.WriteString(fmt.Sprintf("\n_%d task(s)_\n", len(tasks)))
	return buf.Bytes(), nil
}

// TaskToText is the detailed single task view used by `tasks take-one`, `own` and `disown`.
func TaskToText(t *models.Task, now time.Time) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("%s  %s  [%s]\n", t.ID, t.Action, t.Status))
	buf.WriteString(fmt.Sprintf("  created: %s (%s)\n", timestamp(t.Created), relative(t.Created, now)))
	buf.WriteString(fmt.Sprintf("  updated: %s (%s)\n", timestamp(t.Updated), relative(t.Updated, now)))
	if t.Owner != nil {
		buf.WriteString(fmt.Sprintf("  owner:   %s since %s\n", t.Owner, relative(t.Owner.Timestamp, now)))
	}
	for _, k := range slices.Sorted(maps.Keys(t.Fields)) {
		buf.WriteString(fmt.Sprintf("  %s: %s\n", k, t.Fields[k]))
	}
	if t.Progress != nil {
		buf.WriteString(fmt.Sprintf("  progress: %s\n", ProgressSummary(t.Progress)))
	}
	return buf.String()
}

// DatasetToText lists a dataset's locations, one platform per line.
func DatasetToText(d *models.Dataset) string {
	var buf strings.Builder

	buf.WriteString(d.Name + "\n")
	platforms := d.Platforms()
	if len(platforms) == 0 {
		buf.WriteString("  (no locations)\n")
	}
	for _, p := range platforms {
		buf.WriteString(fmt.Sprintf("  %s: %s\n", p, d.Locations[p].Path))
	}
	return buf.String()
}

// FieldSummary joins the task's action fields as sorted key=value pairs.
func FieldSummary(t *models.Task) string {
	pairs := make([]string, 0, len(t.Fields))
	for _, k := range slices.Sorted(maps.Keys(t.Fields)) {
		pairs = append(pairs, k+"="+t.Fields[k])
	}
	return strings.Join(pairs, " ")
}

// ProgressSummary renders "42.0% 1.2 GiB/2.9 GiB @ 10 MiB/s", or "-" when the task has no report.
func ProgressSummary(p *models.ProgressReport) string {
	if p == nil {
		return "-"
	}
	s := fmt.Sprintf("%.1f%% %s/%s",
		p.Percentage,
		humanize.IBytes(uint64(max(p.TotalTransferred, 0))),
		humanize.IBytes(uint64(max(p.TotalSize, 0))),
	)
	if rate := p.Rate(); rate > 0 {
		s += " @ " + humanize.IBytes(uint64(rate)) + "/s"
	}
	return s
}

func relative(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return models.FormatTimestamp(t)
}
