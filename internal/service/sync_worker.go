package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"detention/internal/logging"
)

// Syncer is the unit of work run by SyncWorker on every tick.
type Syncer interface {
	Sync(ctx context.Context) (SyncReport, error)
}

// SyncWorker periodically flushes queued evidence and pending closeouts.
type SyncWorker struct {
	syncer   Syncer
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSyncWorker creates a worker that calls syncer every interval. Each run
// is bounded by timeout.
func NewSyncWorker(syncer Syncer, interval, timeout time.Duration, logger *zap.Logger) *SyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SyncWorker{
		syncer:   syncer,
		interval: interval,
		timeout:  timeout,
		logger:   logging.OrNop(logger),
	}
}

// Start launches the loop. Calling Start on a running worker is a no-op.
func (w *SyncWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.run(w.stop, w.done)
}

func (w *SyncWorker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs a single sync pass.
func (w *SyncWorker) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	report, err := w.syncer.Sync(ctx)
	switch {
	case report.Skipped:
		w.logger.Debug("background sync skipped, another sync is running")
	case err != nil:
		w.logger.Warn("background sync failed",
			zap.Int("closeouts_pending", report.CloseoutsPending),
			zap.Error(err),
		)
	case report.ClosedOut > 0:
		w.logger.Info("background sync closed out sessions", zap.Int("count", report.ClosedOut))
	}
}

// Stop ends the loop and waits for an in-flight run to finish.
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
