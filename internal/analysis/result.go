// Package analysis turns raw worker responses into the normalized result
// records the store persists and the alert path consumes.
package analysis

import (
	"encoding/json"
	"time"

	"github.com/project-ultron/sentinel/internal/category"
)

// Result is one normalized analysis outcome. Rows are append-only: every
// dispatch in every run produces exactly one Result, success or not.
type Result struct {
	ID             int64        `json:"id,omitempty"`
	RunID          string       `json:"run_id"`
	SubscriptionID int64        `json:"subscription_id"`
	UserID         int64        `json:"user_id,omitempty"`
	Category       category.Key `json:"category"`

	Status         string `json:"status"`
	AlertTriggered bool   `json:"alert_triggered"`
	Message        string `json:"message,omitempty"`

	CalculatedValue    *float64 `json:"calculated_value"`
	ThresholdValue     *float64 `json:"threshold_value"`
	BufferRadiusMeters *float64 `json:"buffer_radius_meters,omitempty"`

	RecentPeriodStart   *time.Time `json:"recent_period_start,omitempty"`
	RecentPeriodEnd     *time.Time `json:"recent_period_end,omitempty"`
	PreviousPeriodStart *time.Time `json:"previous_period_start,omitempty"`
	PreviousPeriodEnd   *time.Time `json:"previous_period_end,omitempty"`

	// Details is the worker's stdout kept verbatim for audit and for
	// category fields the normalized columns do not carry.
	Details json.RawMessage `json:"details,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	NotificationSent *time.Time `json:"notification_sent,omitempty"`
}

// Succeeded reports whether the underlying analysis completed.
func (r *Result) Succeeded() bool {
	return r.Status == "success"
}
