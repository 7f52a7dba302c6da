package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/services"
)

// ExpiryWatchdog sweeps InProgress sittings whose deadline has passed and
// force-submits them. The sweep re-reads the predicate from the database
// every tick, so a restart loses nothing; an item that fails is retried on
// the next tick.
type ExpiryWatchdog struct {
	sessions  services.SessionService
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewExpiryWatchdog(sessions services.SessionService, logger *slog.Logger, interval time.Duration, batchSize int) *ExpiryWatchdog {
	return &ExpiryWatchdog{
		sessions:  sessions,
		logger:    logger.With("component", "expiry_watchdog"),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start blocks until ctx is cancelled. Run it in its own goroutine.
func (w *ExpiryWatchdog) Start(ctx context.Context) {
	w.logger.Info("Expiry watchdog started", "interval", w.interval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Expiry watchdog stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep drains every overdue sitting before going back to sleep
func (w *ExpiryWatchdog) sweep(ctx context.Context) {
	for {
		now := time.Now().UTC()
		overdue, err := w.sessions.GetOverdueSessions(ctx, now, w.batchSize)
		if err != nil {
			w.logger.Error("Failed to list overdue sessions", "error", err)
			return
		}
		if len(overdue) == 0 {
			return
		}

		w.logger.Info("Submitting overdue sessions", "count", len(overdue))

		var failed int
		for _, session := range overdue {
			if ctx.Err() != nil {
				return
			}
			// A student submitting in the same instant is fine; the
			// transition is conditional and losing it is a no-op here.
			if _, err := w.sessions.Submit(ctx, session.ID, services.SubmitByWatchdog, "watchdog"); err != nil {
				failed++
				w.logger.Error("Failed to auto-submit session", "session_id", session.ID, "error", err)
			}
		}

		// A batch where nothing succeeded would spin forever; back off to
		// the next tick instead.
		if failed == len(overdue) {
			return
		}
		if len(overdue) < w.batchSize {
			return
		}
	}
}
