package analysis

import (
	"encoding/json"
	"time"

	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/task"
	"github.com/project-ultron/sentinel/internal/worker"
)

// dateLayouts are the timestamp shapes workers have been observed to emit.
// Tried in order; a value that matches none is dropped, never an error.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalize maps a worker response onto a Result. It is total: any
// response, however sparse, yields a well-formed record.
//
// The calculated value is the category's named metric when present, the
// generic value field otherwise, null when neither exists. The threshold
// is what the worker echoed back, falling back to the effective request
// parameters. Period fields are only carried on success. FIRE_PROTECTION
// alerting is derived here from the fire count; the worker's own
// alert_triggered flag is ignored for that category.
func Normalize(runID string, subscriptionID int64, cat category.Key, resp *worker.Response, params task.Params) Result {
	res := Result{
		RunID:          runID,
		SubscriptionID: subscriptionID,
		Category:       cat,
		Status:         resp.Status,
		AlertTriggered: resp.AlertTriggered,
		Message:        resp.Message,
		CreatedAt:      time.Now().UTC(),
	}

	res.CalculatedValue = calculatedValue(cat, resp)
	res.ThresholdValue = thresholdValue(resp, params)
	res.BufferRadiusMeters = resp.BufferRadiusMeters

	if cat == category.FireProtection {
		res.AlertTriggered = resp.ActiveFireCount != nil && *resp.ActiveFireCount > 0
	}

	if resp.Success() {
		res.RecentPeriodStart = parseDate(resp.RecentPeriodStart)
		res.RecentPeriodEnd = parseDate(resp.RecentPeriodEnd)
		res.PreviousPeriodStart = parseDate(resp.PreviousPeriodStart)
		res.PreviousPeriodEnd = parseDate(resp.PreviousPeriodEnd)
	}

	// The worker's stdout goes in verbatim so fields the typed decode
	// tolerated but does not model survive in the audit record.
	// Synthesized responses have no stdout and are marshaled instead.
	if len(resp.Raw) > 0 {
		res.Details = json.RawMessage(resp.Raw)
	} else if raw, err := json.Marshal(resp); err == nil {
		res.Details = raw
	}

	return res
}

// ErrorResult builds the record persisted for a hard failure, where no
// worker response exists at all.
func ErrorResult(runID string, subscriptionID int64, cat category.Key, msg string) Result {
	return Result{
		RunID:          runID,
		SubscriptionID: subscriptionID,
		Category:       cat,
		Status:         "error",
		Message:        msg,
		CreatedAt:      time.Now().UTC(),
	}
}

func calculatedValue(cat category.Key, resp *worker.Response) *float64 {
	var v *float64
	switch cat {
	case category.Deforestation:
		v = resp.MeanNDVIChange
	case category.Flooding:
		v = resp.FloodedPercentage
	case category.Glacier:
		v = resp.LossPercent
	case category.CoastalErosion:
		v = resp.ShorelineRetreatMeters
	case category.FireProtection:
		if resp.ActiveFireCount != nil {
			f := float64(*resp.ActiveFireCount)
			v = &f
		}
	}
	if v == nil {
		v = resp.Value
	}
	return v
}

func thresholdValue(resp *worker.Response, params task.Params) *float64 {
	if resp.Threshold != nil {
		return resp.Threshold
	}
	if resp.ThresholdPercent != nil {
		return resp.ThresholdPercent
	}
	return params.AlertThreshold()
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
