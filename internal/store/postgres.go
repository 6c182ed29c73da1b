package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/category"
)

// Postgres is the shared-database store backend.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database at url and ensures required
// tables exist.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := bootstrapPostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func bootstrapPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id         BIGSERIAL PRIMARY KEY,
  email      TEXT NOT NULL UNIQUE,
  name       TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
  id              BIGSERIAL PRIMARY KEY,
  user_id         BIGINT NOT NULL REFERENCES users(id),
  name            TEXT NOT NULL,
  region_geometry JSONB NOT NULL,
  categories      JSONB NOT NULL,
  overrides       JSONB,
  is_active       BOOLEAN NOT NULL DEFAULT TRUE,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE TABLE IF NOT EXISTS analysis_results (
  id                    BIGSERIAL PRIMARY KEY,
  run_id                TEXT NOT NULL,
  subscription_id       BIGINT NOT NULL REFERENCES subscriptions(id),
  user_id               BIGINT NOT NULL DEFAULT 0,
  category              TEXT NOT NULL,
  status                TEXT NOT NULL,
  alert_triggered       BOOLEAN NOT NULL DEFAULT FALSE,
  calculated_value      DOUBLE PRECISION,
  threshold_value       DOUBLE PRECISION,
  buffer_radius_meters  DOUBLE PRECISION,
  message               TEXT,
  recent_period_start   TIMESTAMPTZ,
  recent_period_end     TIMESTAMPTZ,
  previous_period_start TIMESTAMPTZ,
  previous_period_end   TIMESTAMPTZ,
  details               JSONB,
  created_at            TIMESTAMPTZ NOT NULL,
  notification_sent     TIMESTAMPTZ
);`,
		`CREATE INDEX IF NOT EXISTS analysis_results_subscription_idx ON analysis_results(subscription_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS analysis_results_run_idx ON analysis_results(run_id);`,
		`CREATE INDEX IF NOT EXISTS analysis_results_pending_idx ON analysis_results(alert_triggered) WHERE notification_sent IS NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap postgres: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, created_at) VALUES ($1, $2, $3) RETURNING id`,
		u.Email, u.Name, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (p *Postgres) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`SELECT id, email, COALESCE(name, ''), created_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user by email: %w", err)
	}
	return &u, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	cats, err := json.Marshal(sub.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	var overrides []byte
	if len(sub.Overrides) > 0 {
		overrides, err = json.Marshal(sub.Overrides)
		if err != nil {
			return fmt.Errorf("marshal overrides: %w", err)
		}
	}

	err = p.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (user_id, name, region_geometry, categories, overrides, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		sub.UserID, sub.Name, []byte(sub.RegionGeometry), cats, overrides, sub.IsActive, sub.CreatedAt).
		Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

const pgSubscriptionQuery = `SELECT s.id, s.user_id, s.name, s.region_geometry, s.categories,
 s.overrides, s.is_active, s.created_at, u.email, COALESCE(u.name, '')
 FROM subscriptions s JOIN users u ON u.id = s.user_id`

func (p *Postgres) Subscription(ctx context.Context, id int64) (*Subscription, error) {
	row := p.pool.QueryRow(ctx, pgSubscriptionQuery+` WHERE s.id = $1`, id)
	sub, err := scanPgSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("subscription %d: %w", id, err)
	}
	return sub, nil
}

func (p *Postgres) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := p.pool.Query(ctx, pgSubscriptionQuery+` WHERE s.is_active ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanPgSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (p *Postgres) SetSubscriptionActive(ctx context.Context, id int64, active bool) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE subscriptions SET is_active = $1 WHERE id = $2`, active, id)
	return err
}

func (p *Postgres) InsertResult(ctx context.Context, r *analysis.Result) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO analysis_results
		 (run_id, subscription_id, user_id, category, status, alert_triggered,
		  calculated_value, threshold_value, buffer_radius_meters, message,
		  recent_period_start, recent_period_end, previous_period_start, previous_period_end,
		  details, created_at, notification_sent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING id`,
		r.RunID, r.SubscriptionID, r.UserID, string(r.Category), r.Status, r.AlertTriggered,
		r.CalculatedValue, r.ThresholdValue, r.BufferRadiusMeters, r.Message,
		r.RecentPeriodStart, r.RecentPeriodEnd, r.PreviousPeriodStart, r.PreviousPeriodEnd,
		[]byte(r.Details), r.CreatedAt, r.NotificationSent).
		Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

const pgResultColumns = `id, run_id, subscription_id, user_id, category, status, alert_triggered,
 calculated_value, threshold_value, buffer_radius_meters, COALESCE(message, ''),
 recent_period_start, recent_period_end, previous_period_start, previous_period_end,
 details, created_at, notification_sent`

func (p *Postgres) LatestResults(ctx context.Context, limit int) ([]analysis.Result, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgResultColumns+` FROM analysis_results ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("latest results: %w", err)
	}
	defer rows.Close()
	return collectPgResults(rows)
}

func (p *Postgres) ResultsBySubscription(ctx context.Context, subscriptionID int64, limit int) ([]analysis.Result, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgResultColumns+` FROM analysis_results
		 WHERE subscription_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("results by subscription: %w", err)
	}
	defer rows.Close()
	return collectPgResults(rows)
}

func (p *Postgres) PendingAlerts(ctx context.Context) ([]PendingAlert, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.run_id, r.subscription_id, r.user_id, r.category, r.status, r.alert_triggered,
		  r.calculated_value, r.threshold_value, r.buffer_radius_meters, COALESCE(r.message, ''),
		  r.recent_period_start, r.recent_period_end, r.previous_period_start, r.previous_period_end,
		  r.details, r.created_at, r.notification_sent,
		  sub.name, u.email, COALESCE(u.name, '')
		 FROM analysis_results r
		 JOIN subscriptions sub ON sub.id = r.subscription_id
		 JOIN users u ON u.id = sub.user_id
		 WHERE r.alert_triggered AND r.notification_sent IS NULL
		 ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("pending alerts: %w", err)
	}
	defer rows.Close()

	var alerts []PendingAlert
	for rows.Next() {
		var a PendingAlert
		if err := scanPgResult(rows, &a.Result, &a.SubscriptionName, &a.Email, &a.UserName); err != nil {
			return nil, fmt.Errorf("scan pending alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (p *Postgres) MarkNotified(ctx context.Context, resultID int64, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE analysis_results SET notification_sent = $1
		 WHERE id = $2 AND notification_sent IS NULL`,
		at.UTC(), resultID)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPgSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var geometry, cats []byte
	var overrides []byte
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Name, &geometry, &cats, &overrides, &sub.IsActive, &sub.CreatedAt,
		&sub.UserEmail, &sub.UserName); err != nil {
		return nil, err
	}
	sub.RegionGeometry = json.RawMessage(geometry)
	if err := json.Unmarshal(cats, &sub.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &sub.Overrides); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	return &sub, nil
}

func collectPgResults(rows pgx.Rows) ([]analysis.Result, error) {
	var results []analysis.Result
	for rows.Next() {
		var r analysis.Result
		if err := scanPgResult(rows, &r); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanPgResult(row pgx.Row, r *analysis.Result, extra ...any) error {
	var cat string
	var details []byte

	dest := []any{&r.ID, &r.RunID, &r.SubscriptionID, &r.UserID, &cat, &r.Status, &r.AlertTriggered,
		&r.CalculatedValue, &r.ThresholdValue, &r.BufferRadiusMeters, &r.Message,
		&r.RecentPeriodStart, &r.RecentPeriodEnd, &r.PreviousPeriodStart, &r.PreviousPeriodEnd,
		&details, &r.CreatedAt, &r.NotificationSent}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return err
	}

	r.Category = category.Key(cat)
	if len(details) > 0 {
		r.Details = json.RawMessage(details)
	}
	return nil
}

// Open selects a backend by driver name.
func Open(ctx context.Context, driver, path, url string) (Store, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(ctx, path)
	case "postgres":
		return OpenPostgres(ctx, url)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

var _ Store = (*Postgres)(nil)
