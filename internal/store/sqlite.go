package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/category"
)

// SQLite is the single-node store backend. The schema is bootstrapped on
// open, so a fresh file is usable immediately.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := bootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func bootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  email      TEXT NOT NULL UNIQUE,
  name       TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id         INTEGER NOT NULL REFERENCES users(id),
  name            TEXT NOT NULL,
  region_geometry JSON NOT NULL,
  categories      JSON NOT NULL,
  overrides       JSON,
  is_active       INTEGER NOT NULL DEFAULT 1,
  created_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS analysis_results (
  id                    INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id                TEXT NOT NULL,
  subscription_id       INTEGER NOT NULL REFERENCES subscriptions(id),
  user_id               INTEGER NOT NULL DEFAULT 0,
  category              TEXT NOT NULL,
  status                TEXT NOT NULL,
  alert_triggered       INTEGER NOT NULL DEFAULT 0,
  calculated_value      REAL,
  threshold_value       REAL,
  buffer_radius_meters  REAL,
  message               TEXT,
  recent_period_start   TEXT,
  recent_period_end     TEXT,
  previous_period_start TEXT,
  previous_period_end   TEXT,
  details               JSON,
  created_at            TEXT NOT NULL,
  notification_sent     TEXT
);`,
		`CREATE INDEX IF NOT EXISTS analysis_results_subscription_idx ON analysis_results(subscription_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS analysis_results_run_idx ON analysis_results(run_id);`,
		`CREATE INDEX IF NOT EXISTS analysis_results_pending_idx ON analysis_results(alert_triggered) WHERE notification_sent IS NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLite) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, name, created_at) VALUES (?, ?, ?)`,
		u.Email, u.Name, u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.Name, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user by email: %w", err)
	}
	u.CreatedAt = parseStoredTime(created)
	return &u, nil
}

func (s *SQLite) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	cats, err := json.Marshal(sub.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	var overrides any
	if len(sub.Overrides) > 0 {
		b, err := json.Marshal(sub.Overrides)
		if err != nil {
			return fmt.Errorf("marshal overrides: %w", err)
		}
		overrides = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, name, region_geometry, categories, overrides, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.Name, string(sub.RegionGeometry), string(cats), overrides,
		boolToInt(sub.IsActive), sub.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	sub.ID, err = res.LastInsertId()
	return err
}

const sqliteSubscriptionQuery = `SELECT s.id, s.user_id, s.name, s.region_geometry, s.categories,
 s.overrides, s.is_active, s.created_at, u.email, COALESCE(u.name, '')
 FROM subscriptions s JOIN users u ON u.id = s.user_id`

func (s *SQLite) Subscription(ctx context.Context, id int64) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, sqliteSubscriptionQuery+` WHERE s.id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("subscription %d: %w", id, err)
	}
	return sub, nil
}

func (s *SQLite) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSubscriptionQuery+` WHERE s.is_active = 1 ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLite) SetSubscriptionActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	return err
}

func (s *SQLite) InsertResult(ctx context.Context, r *analysis.Result) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_results
		 (run_id, subscription_id, user_id, category, status, alert_triggered,
		  calculated_value, threshold_value, buffer_radius_meters, message,
		  recent_period_start, recent_period_end, previous_period_start, previous_period_end,
		  details, created_at, notification_sent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.SubscriptionID, r.UserID, string(r.Category), r.Status, boolToInt(r.AlertTriggered),
		nullFloat(r.CalculatedValue), nullFloat(r.ThresholdValue), nullFloat(r.BufferRadiusMeters), r.Message,
		nullTime(r.RecentPeriodStart), nullTime(r.RecentPeriodEnd),
		nullTime(r.PreviousPeriodStart), nullTime(r.PreviousPeriodEnd),
		nullJSON(r.Details), r.CreatedAt.Format(time.RFC3339Nano), nullTime(r.NotificationSent))
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

const resultColumns = `id, run_id, subscription_id, user_id, category, status, alert_triggered,
 calculated_value, threshold_value, buffer_radius_meters, message,
 recent_period_start, recent_period_end, previous_period_start, previous_period_end,
 details, created_at, notification_sent`

func (s *SQLite) LatestResults(ctx context.Context, limit int) ([]analysis.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("latest results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *SQLite) ResultsBySubscription(ctx context.Context, subscriptionID int64, limit int) ([]analysis.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results
		 WHERE subscription_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("results by subscription: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *SQLite) PendingAlerts(ctx context.Context) ([]PendingAlert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("r", resultColumns)+`, sub.name, u.email, COALESCE(u.name, '')
		 FROM analysis_results r
		 JOIN subscriptions sub ON sub.id = r.subscription_id
		 JOIN users u ON u.id = sub.user_id
		 WHERE r.alert_triggered = 1 AND r.notification_sent IS NULL
		 ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("pending alerts: %w", err)
	}
	defer rows.Close()

	var alerts []PendingAlert
	for rows.Next() {
		var a PendingAlert
		if err := scanResult(rows, &a.Result, &a.SubscriptionName, &a.Email, &a.UserName); err != nil {
			return nil, fmt.Errorf("scan pending alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkNotified stamps the delivery time. The guard on notification_sent
// makes concurrent sweeps idempotent: only the first caller gets true.
func (s *SQLite) MarkNotified(ctx context.Context, resultID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_results SET notification_sent = ?
		 WHERE id = ? AND notification_sent IS NULL`,
		at.UTC().Format(time.RFC3339Nano), resultID)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLite) Close() error                   { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var geometry, cats, created string
	var overrides sql.NullString
	var active int
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Name, &geometry, &cats, &overrides, &active, &created,
		&sub.UserEmail, &sub.UserName); err != nil {
		return nil, err
	}
	sub.RegionGeometry = json.RawMessage(geometry)
	if err := json.Unmarshal([]byte(cats), &sub.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &sub.Overrides); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	sub.IsActive = active != 0
	sub.CreatedAt = parseStoredTime(created)
	return &sub, nil
}

func collectResults(rows *sql.Rows) ([]analysis.Result, error) {
	var results []analysis.Result
	for rows.Next() {
		var r analysis.Result
		if err := scanResult(rows, &r); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanResult(row rowScanner, r *analysis.Result, extra ...any) error {
	var cat, created string
	var triggered int
	var calcVal, threshVal, buffer sql.NullFloat64
	var message, details, rps, rpe, pps, ppe, notified sql.NullString

	dest := []any{&r.ID, &r.RunID, &r.SubscriptionID, &r.UserID, &cat, &r.Status, &triggered,
		&calcVal, &threshVal, &buffer, &message, &rps, &rpe, &pps, &ppe, &details, &created, &notified}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return err
	}

	r.Category = category.Key(cat)
	r.AlertTriggered = triggered != 0
	if calcVal.Valid {
		r.CalculatedValue = &calcVal.Float64
	}
	if threshVal.Valid {
		r.ThresholdValue = &threshVal.Float64
	}
	if buffer.Valid {
		r.BufferRadiusMeters = &buffer.Float64
	}
	r.Message = message.String
	if details.Valid && details.String != "" {
		r.Details = json.RawMessage(details.String)
	}
	r.RecentPeriodStart = parseStoredTimePtr(rps)
	r.RecentPeriodEnd = parseStoredTimePtr(rpe)
	r.PreviousPeriodStart = parseStoredTimePtr(pps)
	r.PreviousPeriodEnd = parseStoredTimePtr(ppe)
	r.CreatedAt = parseStoredTime(created)
	r.NotificationSent = parseStoredTimePtr(notified)
	return nil
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias, for joins.
func prefixColumns(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseStoredTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseStoredTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Store = (*SQLite)(nil)
