package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/desertthunder/regq/internal/models"
	tu "github.com/desertthunder/regq/internal/testing"
	"github.com/desertthunder/regq/internal/transfer"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	reports []models.ProgressReport
	err     error
}

func (r *recorder) write(_ context.Context, report models.ProgressReport) error {
	r.reports = append(r.reports, report)
	return r.err
}

func TestReporter(t *testing.T) {
	ctx := context.Background()

	t.Run("first call writes and later calls are throttled", func(t *testing.T) {
		clock := tu.NewFakeClock(t0)
		var rec recorder
		r := NewReporter(rec.write, 10*time.Second, clock.Now, quiet)

		if !r.Report(ctx, transfer.Progress{NumberOfFiles: 2, TotalSize: 100, Transferring: true}) {
			t.Fatal("first report not written")
		}
		clock.Advance(9 * time.Second)
		if r.Report(ctx, transfer.Progress{NumberOfFiles: 2, TotalSize: 100, TotalTransferred: 40, Transferring: true}) {
			t.Error("report within frequency was written")
		}
		clock.Advance(time.Second)
		if !r.Report(ctx, transfer.Progress{NumberOfFiles: 2, TotalSize: 100, TotalTransferred: 60, Transferring: true}) {
			t.Error("report after frequency not written")
		}

		if len(rec.reports) != 2 || r.Writes() != 2 {
			t.Fatalf("writes = %d, recorded = %d", r.Writes(), len(rec.reports))
		}

		last := rec.reports[1]
		if last.Percentage != 60 {
			t.Errorf("percentage = %v, want 60", last.Percentage)
		}
		if last.FirstProgress == nil || last.FirstProgress.TotalTransferred != 0 || !last.FirstProgress.Timestamp.Equal(t0) {
			t.Errorf("first progress = %+v", last.FirstProgress)
		}
		if last.FirstTransferProgress == nil || last.FirstTransferProgress.TotalTransferred != 40 {
			t.Errorf("first transfer progress = %+v, want the throttled 40 byte snapshot", last.FirstTransferProgress)
		}
		if last.PreviousProgress == nil || *last.PreviousProgress != rec.reports[0].Progress {
			t.Errorf("previous progress = %+v, want %+v", last.PreviousProgress, rec.reports[0].Progress)
		}
		if rate := last.Rate(); rate != 20 {
			t.Errorf("Rate() = %v, want 20 B/s", rate)
		}
	})

	t.Run("transferred never goes backwards", func(t *testing.T) {
		clock := tu.NewFakeClock(t0)
		var rec recorder
		r := NewReporter(rec.write, 0, clock.Now, quiet)

		r.Report(ctx, transfer.Progress{TotalSize: 10, TotalTransferred: 8, Transferring: true})
		r.Report(ctx, transfer.Progress{TotalSize: 10, TotalTransferred: 3, Transferring: true})
		if got := rec.reports[1].TotalTransferred; got != 8 {
			t.Errorf("total transferred = %d, want 8", got)
		}
		if r.Transferred() != 8 {
			t.Errorf("Transferred() = %d", r.Transferred())
		}
	})

	t.Run("write failures are swallowed", func(t *testing.T) {
		rec := recorder{err: errors.New("catalogue down")}
		r := NewReporter(rec.write, time.Hour, nil, quiet)

		if !r.Report(ctx, transfer.Progress{}) {
			t.Error("failed write should still count as attempted")
		}
		if r.Report(ctx, transfer.Progress{}) {
			t.Error("failed write should still start the throttle window")
		}
	})

	t.Run("nil writer", func(t *testing.T) {
		r := NewReporter(nil, 0, nil, nil)
		r.Func(ctx)(transfer.Progress{TotalTransferred: 5})
		if r.Writes() != 1 {
			t.Errorf("Writes() = %d", r.Writes())
		}
	})
}

func TestReporterProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := tu.NewFakeClock(t0)
		freq := time.Duration(rapid.IntRange(0, 30).Draw(rt, "freq")) * time.Second
		var rec recorder
		var writeTimes []time.Time
		r := NewReporter(func(ctx context.Context, report models.ProgressReport) error {
			writeTimes = append(writeTimes, clock.Now())
			return rec.write(ctx, report)
		}, freq, clock.Now, quiet)

		total := rapid.Int64Range(0, 1<<30).Draw(rt, "total")
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := range steps {
			clock.Advance(time.Duration(rapid.IntRange(0, 15).Draw(rt, "advance")) * time.Second)
			r.Report(context.Background(), transfer.Progress{
				TotalSize:        total,
				TotalTransferred: rapid.Int64Range(0, 1<<31).Draw(rt, "transferred"),
				Transferring:     rapid.Bool().Draw(rt, "transferring"),
			})
			if i == 0 && len(rec.reports) != 1 {
				rt.Fatalf("first report was not written")
			}
		}

		for i, report := range rec.reports {
			if report.Percentage < 0 || report.Percentage > 100 {
				rt.Fatalf("report %d percentage %v out of range", i, report.Percentage)
			}
			if i == 0 {
				continue
			}
			if report.TotalTransferred < rec.reports[i-1].TotalTransferred {
				rt.Fatalf("report %d went backwards: %d < %d", i, report.TotalTransferred, rec.reports[i-1].TotalTransferred)
			}
			if gap := writeTimes[i].Sub(writeTimes[i-1]); gap < freq {
				rt.Fatalf("writes %d and %d only %v apart, frequency %v", i-1, i, gap, freq)
			}
			if *report.FirstProgress != *rec.reports[0].FirstProgress {
				rt.Fatalf("first progress changed at report %d", i)
			}
		}
	})
}
