package orchestrator

import (
	"context"
	"time"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/notify"
	"github.com/project-ultron/sentinel/internal/store"
	"github.com/project-ultron/sentinel/internal/worker"
)

//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks github.com/project-ultron/sentinel/internal/orchestrator Runner,ResultStore,Notifier

// Runner executes one analysis worker invocation.
type Runner interface {
	VerifyCredentials() error
	Run(ctx context.Context, script string, req *worker.Request) (*worker.Response, string, error)
}

// ResultStore is the slice of the store the engine needs.
type ResultStore interface {
	ActiveSubscriptions(ctx context.Context) ([]store.Subscription, error)
	InsertResult(ctx context.Context, r *analysis.Result) error
	MarkNotified(ctx context.Context, resultID int64, at time.Time) (bool, error)
}

// Notifier delivers immediate alerts. Failures are logged, never fatal;
// the delivery sweep picks up anything missed.
type Notifier interface {
	Notify(ctx context.Context, alert notify.Alert) error
}
