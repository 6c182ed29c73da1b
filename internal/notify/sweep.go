package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/project-ultron/sentinel/internal/log"
	"github.com/project-ultron/sentinel/internal/store"
)

// AlertSource is the slice of the store the sweep needs.
type AlertSource interface {
	PendingAlerts(ctx context.Context) ([]store.PendingAlert, error)
	MarkNotified(ctx context.Context, resultID int64, at time.Time) (bool, error)
}

// Sweeper delivers pending alerts and stamps them as sent. Rows are
// stamped only after a successful send, so a failed delivery is retried
// on the next sweep.
type Sweeper struct {
	source   AlertSource
	notifier Notifier
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(source AlertSource, notifier Notifier) *Sweeper {
	return &Sweeper{
		source:   source,
		notifier: notifier,
		logger:   log.WithComponent("sweep"),
	}
}

// Sweep processes every pending alert once. Per-alert failures are logged
// and skipped; the sweep itself only fails if pending alerts cannot be
// listed at all. Returns the number of alerts delivered.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pending, err := s.source.PendingAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending alerts: %w", err)
	}
	if len(pending) == 0 {
		s.logger.Debug("no pending alerts")
		return 0, nil
	}

	s.logger.Info("sweeping pending alerts", "count", len(pending))

	sent := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		alert := Alert{
			Result:           p.Result,
			SubscriptionName: p.SubscriptionName,
			Email:            p.Email,
			UserName:         p.UserName,
		}
		if err := s.notifier.Notify(ctx, alert); err != nil {
			s.logger.Error("alert delivery failed",
				"result_id", p.Result.ID, "email", p.Email, "error", err)
			continue
		}

		stamped, err := s.source.MarkNotified(ctx, p.Result.ID, time.Now().UTC())
		if err != nil {
			s.logger.Error("failed to stamp notification", "result_id", p.Result.ID, "error", err)
			continue
		}
		if !stamped {
			// Another sweep got there first. Counts as delivered elsewhere.
			s.logger.Warn("alert already stamped by a concurrent sweep", "result_id", p.Result.ID)
			continue
		}
		sent++
	}

	s.logger.Info("sweep finished", "delivered", sent, "pending", len(pending))
	return sent, nil
}
