// Package store persists users, subscriptions, and analysis results. Two
// backends implement the same surface: sqlite for single-node deployments
// and postgres for the shared database.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/task"
)

// User is an alert recipient.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription binds a user's region of interest to one or more analysis
// categories. Categories are stored as raw labels and resolved at dispatch
// time; Overrides is keyed by the same raw labels.
type Subscription struct {
	ID             int64                  `json:"id"`
	UserID         int64                  `json:"user_id"`
	Name           string                 `json:"name"`
	RegionGeometry json.RawMessage        `json:"region_geometry"`
	Categories     []string               `json:"categories"`
	Overrides      map[string]task.Params `json:"overrides,omitempty"`
	IsActive       bool                   `json:"is_active"`
	CreatedAt      time.Time              `json:"created_at"`

	// Owner contact, joined in by reads so alerting needs no second query.
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

// PendingAlert is a triggered result awaiting email delivery, joined with
// enough context to compose the message.
type PendingAlert struct {
	Result           analysis.Result
	SubscriptionName string
	Email            string
	UserName         string
}

// Store is the persistence surface shared by both backends.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UserByEmail(ctx context.Context, email string) (*User, error)

	CreateSubscription(ctx context.Context, s *Subscription) error
	Subscription(ctx context.Context, id int64) (*Subscription, error)
	ActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	SetSubscriptionActive(ctx context.Context, id int64, active bool) error

	InsertResult(ctx context.Context, r *analysis.Result) error
	LatestResults(ctx context.Context, limit int) ([]analysis.Result, error)
	ResultsBySubscription(ctx context.Context, subscriptionID int64, limit int) ([]analysis.Result, error)
	PendingAlerts(ctx context.Context) ([]PendingAlert, error)
	MarkNotified(ctx context.Context, resultID int64, at time.Time) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
