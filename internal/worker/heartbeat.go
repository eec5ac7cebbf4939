package worker

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// heartbeat keeps a lease alive from its own goroutine until stopped.
type heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// startHeartbeat beats immediately and then every Heartbeat period.
// The goroutine exits quietly on the first failed beat.
func (w *Worker) startHeartbeat(ctx context.Context, id string, logger *log.Logger) *heartbeat {
	hb := &heartbeat{stop: make(chan struct{}), done: make(chan struct{})}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(w.opts.Heartbeat)
		defer ticker.Stop()

		for {
			if err := w.tasks.Heartbeat(ctx, id); err != nil {
				logger.Debug("heartbeat stopped", "error", err)
				return
			}
			select {
			case <-ticker.C:
			case <-hb.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return hb
}

// Stop signals the goroutine and waits for it to exit. Safe to call more than once.
func (h *heartbeat) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
