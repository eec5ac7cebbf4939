package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/desertthunder/regq/internal/models"
	"github.com/desertthunder/regq/internal/transfer"
)

// DefaultProgressFrequency is the minimum time between two progress writes of a transfer.
const DefaultProgressFrequency = 10 * time.Second

// ProgressWriter stores a report on the task being executed.
type ProgressWriter func(ctx context.Context, report models.ProgressReport) error

// Reporter throttles progress writes for one task.
//
// The first call always writes. Later calls write only when frequency has elapsed since the last write.
// Write failures are logged and dropped: losing a progress update must never fail a transfer.
type Reporter struct {
	write     ProgressWriter
	frequency time.Duration
	now       func() time.Time
	logger    *log.Logger

	mu            sync.Mutex
	first         *models.Progress
	firstTransfer *models.Progress
	previous      *models.Progress
	lastWrite     time.Time
	writes        int
	transferred   int64
}

// NewReporter returns a Reporter that writes through write. A nil now uses [time.Now].
func NewReporter(write ProgressWriter, frequency time.Duration, now func() time.Time, logger *log.Logger) *Reporter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{write: write, frequency: frequency, now: now, logger: logger}
}

// Report records p and writes it when the throttle allows. It returns true when a write was attempted.
func (r *Reporter) Report(ctx context.Context, p transfer.Progress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	r.transferred = max(r.transferred, p.TotalTransferred)
	snap := models.Progress{
		NumberOfFiles:    p.NumberOfFiles,
		TotalSize:        p.TotalSize,
		TotalTransferred: r.transferred,
		Transferring:     p.Transferring,
		Percentage:       models.Percent(r.transferred, p.TotalSize, p.Transferring),
		Timestamp:        now,
	}

	if r.first == nil {
		r.first = &snap
	}
	if r.firstTransfer == nil && snap.Transferring && snap.TotalTransferred > 0 {
		r.firstTransfer = &snap
	}

	if r.writes > 0 && now.Sub(r.lastWrite) < r.frequency {
		return false
	}

	report := models.ProgressReport{
		Progress:              snap,
		FirstProgress:         r.first,
		FirstTransferProgress: r.firstTransfer,
		PreviousProgress:      r.previous,
	}
	r.writes++
	r.lastWrite = now
	r.previous = &snap

	if r.write == nil {
		return true
	}
	if err := r.write(ctx, report); err != nil {
		r.logger.Warn("progress update failed", "error", err)
		return true
	}
	r.logger.Debug("progress",
		"files", snap.NumberOfFiles,
		"transferred", humanize.IBytes(uint64(snap.TotalTransferred)),
		"total", humanize.IBytes(uint64(max(snap.TotalSize, 0))),
		"percent", snap.Percentage,
		"rate", humanize.IBytes(uint64(max(report.Rate(), 0)))+"/s",
	)
	return true
}

// Func adapts the reporter to a [transfer.ProgressFunc] bound to ctx.
func (r *Reporter) Func(ctx context.Context) transfer.ProgressFunc {
	return func(p transfer.Progress) {
		r.Report(ctx, p)
	}
}

// Writes returns how many reports were written so far.
func (r *Reporter) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Transferred returns the highest byte count reported so far.
func (r *Reporter) Transferred() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferred
}
