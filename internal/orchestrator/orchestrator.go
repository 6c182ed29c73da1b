// Package orchestrator runs full monitoring batches: every active
// subscription crossed with its categories, one worker invocation per
// pair, one persisted result per invocation.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/log"
	"github.com/project-ultron/sentinel/internal/notify"
	"github.com/project-ultron/sentinel/internal/store"
	"github.com/project-ultron/sentinel/internal/task"
	"github.com/project-ultron/sentinel/internal/worker"
)

// Engine coordinates one batch at a time.
type Engine struct {
	store    ResultStore
	runner   Runner
	notifier Notifier
	poolSize int
	logger   *slog.Logger
}

// Summary describes a finished batch.
type Summary struct {
	RunID         string        `json:"run_id"`
	Subscriptions int           `json:"subscriptions"`
	Dispatched    int           `json:"dispatched"`
	Skipped       int           `json:"skipped"`
	Alerts        int           `json:"alerts"`
	Errors        int           `json:"errors"`
	Started       time.Time     `json:"started"`
	Duration      time.Duration `json:"duration"`
}

// New creates an Engine. poolSize bounds concurrent worker processes;
// anything below 1 is treated as 1, which keeps dispatch strictly
// sequential in subscription order.
func New(st ResultStore, r Runner, n Notifier, poolSize int) *Engine {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Engine{
		store:    st,
		runner:   r,
		notifier: n,
		poolSize: poolSize,
		logger:   log.WithComponent("orchestrator"),
	}
}

// RunAll executes one full batch. Unreadable credentials or an
// unlistable store abort the batch before any dispatch; everything after
// that is isolated per category, and the batch always runs to the last
// subscription.
func (e *Engine) RunAll(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	logger := log.WithRun(runID)
	started := time.Now()

	if err := e.runner.VerifyCredentials(); err != nil {
		return nil, fmt.Errorf("credentials check failed: %w", err)
	}

	subs, err := e.store.ActiveSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}

	logger.Info("batch started", "subscriptions", len(subs), "pool_size", e.poolSize)

	summary := &Summary{RunID: runID, Subscriptions: len(subs), Started: started.UTC()}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.poolSize)

	for i := range subs {
		sub := subs[i]

		// The store already filters on is_active, but rows can go stale
		// between the query and the dispatch, and a subscription without
		// categories has nothing to run.
		if !sub.IsActive || len(sub.Categories) == 0 {
			logger.Warn("subscription not runnable, skipping",
				"subscription_id", sub.ID, "is_active", sub.IsActive)
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}

		for _, label := range sub.Categories {
			if ctx.Err() != nil {
				wg.Wait()
				summary.Duration = time.Since(started)
				return summary, ctx.Err()
			}

			sem <- struct{}{}
			wg.Add(1)
			go func(sub store.Subscription, label string) {
				defer wg.Done()
				defer func() { <-sem }()

				outcome := e.dispatch(ctx, runID, sub, label)

				mu.Lock()
				switch outcome {
				case dispatchSkipped:
					summary.Skipped++
				case dispatchAlerted:
					summary.Dispatched++
					summary.Alerts++
				case dispatchFailed:
					summary.Dispatched++
					summary.Errors++
				default:
					summary.Dispatched++
				}
				mu.Unlock()
			}(sub, label)
		}
	}

	wg.Wait()
	summary.Duration = time.Since(started)
	logger.Info("batch finished",
		"dispatched", summary.Dispatched, "skipped", summary.Skipped,
		"alerts", summary.Alerts, "errors", summary.Errors,
		"duration", summary.Duration)
	return summary, nil
}

type dispatchOutcome int

const (
	dispatchOK dispatchOutcome = iota
	dispatchSkipped
	dispatchAlerted
	dispatchFailed
)

// dispatch runs one subscription/category pair end to end. Panics are
// contained here and persisted as error results, so one misbehaving
// category can never take down the batch.
func (e *Engine) dispatch(ctx context.Context, runID string, sub store.Subscription, label string) (outcome dispatchOutcome) {
	logger := log.WithRun(runID).With("subscription_id", sub.ID, "category", label)

	key, ok := category.Resolve(label)
	if !ok {
		logger.Warn("unknown category, skipping")
		return dispatchSkipped
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("dispatch panicked", "panic", p)
			res := analysis.ErrorResult(runID, sub.ID, key, fmt.Sprintf("internal error: %v", p))
			res.UserID = sub.UserID
			e.persist(ctx, logger, &res)
			outcome = dispatchFailed
		}
	}()

	entry, ok := task.Lookup(key)
	if !ok {
		logger.Warn("no dispatch entry for category, skipping")
		return dispatchSkipped
	}

	params := entry.Defaults.Merge(overrideFor(sub, label, key))
	req := &worker.Request{
		Geometry:         json.RawMessage(sub.RegionGeometry),
		RegionID:         fmt.Sprintf("sub-%d-%s", sub.ID, key),
		Threshold:        params.Threshold,
		ThresholdPercent: params.ThresholdPercent,
		BufferMeters:     params.BufferMeters,
		DaysBack:         params.DaysBack,
	}

	resp, stderr, err := e.runner.Run(ctx, entry.Script, req)
	if err != nil {
		logger.Error("worker invocation failed", "error", err, "stderr", stderr)
		res := analysis.ErrorResult(runID, sub.ID, key, err.Error())
		res.UserID = sub.UserID
		e.persist(ctx, logger, &res)
		return dispatchFailed
	}

	res := analysis.Normalize(runID, sub.ID, key, resp, params)
	res.UserID = sub.UserID
	e.persist(ctx, logger, &res)

	if !res.Succeeded() {
		logger.Warn("analysis failed", "message", res.Message)
		return dispatchFailed
	}

	if res.AlertTriggered {
		logger.Info("alert triggered", "calculated_value", res.CalculatedValue)
		e.fireAlert(ctx, logger, res, sub)
		return dispatchAlerted
	}

	return dispatchOK
}

func (e *Engine) persist(ctx context.Context, logger *slog.Logger, res *analysis.Result) {
	if err := e.store.InsertResult(ctx, res); err != nil {
		logger.Error("failed to persist result", "error", err)
	}
}

// fireAlert is best-effort: the result row is already persisted, and the
// sweep will retry delivery if this misses. A successful send is stamped
// so the sweep does not deliver the same alert twice.
func (e *Engine) fireAlert(ctx context.Context, logger *slog.Logger, res analysis.Result, sub store.Subscription) {
	alert := notify.Alert{
		Result:           res,
		SubscriptionName: sub.Name,
		Email:            sub.UserEmail,
		UserName:         sub.UserName,
	}
	if err := e.notifier.Notify(ctx, alert); err != nil {
		logger.Warn("immediate alert delivery failed, sweep will retry", "error", err)
		return
	}
	if _, err := e.store.MarkNotified(ctx, res.ID, time.Now().UTC()); err != nil {
		logger.Error("failed to stamp notification", "result_id", res.ID, "error", err)
	}
}

// overrideFor finds the subscription's parameter override for a category,
// matching either the stored raw label or its canonical key.
func overrideFor(sub store.Subscription, label string, key category.Key) task.Params {
	if p, ok := sub.Overrides[label]; ok {
		return p
	}
	if p, ok := sub.Overrides[string(key)]; ok {
		return p
	}
	return task.Params{}
}
