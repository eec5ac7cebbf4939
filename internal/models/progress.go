package models

import "time"

// Progress is one snapshot of a running transfer.
type Progress struct {
	NumberOfFiles    int64     `json:"number_of_files"`
	TotalSize        int64     `json:"total_size"`
	TotalTransferred int64     `json:"total_transferred"`
	Transferring     bool      `json:"transferring"`
	Percentage       float64   `json:"percentage"`
	Timestamp        time.Time `json:"timestamp,omitzero"`
}

// ProgressReport is what a worker writes to a task's progress field.
//
// FirstProgress and FirstTransferProgress never change once set, so a reader can derive
// elapsed time and rate from a single report.
type ProgressReport struct {
	Progress
	FirstProgress         *Progress `json:"first_progress,omitempty"`
	FirstTransferProgress *Progress `json:"first_transfer_progress,omitempty"`
	PreviousProgress      *Progress `json:"previous_progress,omitempty"`
}

// Rate returns bytes per second since the first snapshot taken while bytes were moving.
func (r *ProgressReport) Rate() float64 {
	if r == nil || r.FirstTransferProgress == nil {
		return 0
	}
	elapsed := r.Timestamp.Sub(r.FirstTransferProgress.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(r.TotalTransferred-r.FirstTransferProgress.TotalTransferred) / elapsed
}

// Percent computes 100*transferred/total, or 0 when nothing is moving yet. The result is clamped to [0,100].
func Percent(transferred, total int64, transferring bool) float64 {
	if total <= 0 || !transferring {
		return 0
	}
	p := 100 * float64(transferred) / float64(total)
	return min(max(p, 0), 100)
}
