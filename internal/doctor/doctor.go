// Package doctor validates sentinel configuration and worker setup
// before the daemon starts dispatching analyses.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/config"
	"github.com/project-ultron/sentinel/internal/store"
	"github.com/project-ultron/sentinel/internal/task"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the filesystem and
// the configured database.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.checkCredentials(r)
	d.checkPythonBin(r)
	d.checkWorkerScripts(r)
	d.checkDatabase(ctx, r)
	d.checkSMTP(r)
	d.checkAPI(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, cat, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: cat, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, cat, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: cat, Field: field, Message: msg})
}

func (d *Doctor) checkCredentials(r *Result) {
	info, err := os.Stat(d.cfg.CredentialsPath)
	if err != nil {
		d.addError(r, "credentials", "credentials_path",
			fmt.Sprintf("credentials file %q not readable: %v", d.cfg.CredentialsPath, err))
		return
	}
	if info.IsDir() {
		d.addError(r, "credentials", "credentials_path",
			fmt.Sprintf("credentials path %q is a directory", d.cfg.CredentialsPath))
		return
	}

	b, err := os.ReadFile(d.cfg.CredentialsPath)
	if err != nil {
		d.addError(r, "credentials", "credentials_path",
			fmt.Sprintf("read credentials: %v", err))
		return
	}
	if !json.Valid(b) {
		d.addWarning(r, "credentials", "credentials_path",
			"credentials file is not valid JSON; workers may reject it")
	}
}

func (d *Doctor) checkPythonBin(r *Result) {
	bin := d.cfg.Workers.PythonBin
	if strings.ContainsRune(bin, os.PathSeparator) {
		if _, err := os.Stat(bin); err != nil {
			d.addError(r, "workers", "workers.python_bin",
				fmt.Sprintf("python interpreter %q not found: %v", bin, err))
		}
		return
	}
	if _, err := exec.LookPath(bin); err != nil {
		d.addError(r, "workers", "workers.python_bin",
			fmt.Sprintf("python interpreter %q not found in PATH", bin))
	}
}

// checkWorkerScripts verifies that every dispatchable category has its
// script present under workers.dir.
func (d *Doctor) checkWorkerScripts(r *Result) {
	info, err := os.Stat(d.cfg.Workers.Dir)
	if err != nil || !info.IsDir() {
		d.addError(r, "workers", "workers.dir",
			fmt.Sprintf("workers directory %q not found", d.cfg.Workers.Dir))
		return
	}

	for _, key := range category.All() {
		entry, ok := task.Lookup(key)
		if !ok {
			d.addWarning(r, "workers", "",
				fmt.Sprintf("category %s has no registered worker script", key))
			continue
		}
		script := filepath.Join(d.cfg.Workers.Dir, entry.Script)
		if _, err := os.Stat(script); err != nil {
			d.addError(r, "workers", "",
				fmt.Sprintf("worker script for %s missing: %s", key, script))
		}
	}
}

func (d *Doctor) checkDatabase(ctx context.Context, r *Result) {
	st, err := store.Open(ctx, d.cfg.Database.Driver, d.cfg.Database.Path, d.cfg.Database.URL)
	if err != nil {
		d.addError(r, "database", "database",
			fmt.Sprintf("open %s database: %v", d.cfg.Database.Driver, err))
		return
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		d.addError(r, "database", "database", fmt.Sprintf("ping database: %v", err))
	}
}

func (d *Doctor) checkSMTP(r *Result) {
	smtp := d.cfg.SMTP
	if smtp.Host == "" {
		d.addWarning(r, "smtp", "smtp.host",
			"smtp host not configured; alert notifications will fail")
		return
	}
	if smtp.From == "" {
		d.addError(r, "smtp", "smtp.from", "smtp.from is required when smtp.host is set")
	}
	if smtp.Username != "" && smtp.Password == "" {
		d.addWarning(r, "smtp", "smtp.password",
			"smtp username set without password (possibly unresolved environment variable)")
	}
}

func (d *Doctor) checkAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.APIKey == "" {
		d.addError(r, "api", "api.api_key", "api.api_key is required when API is enabled")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Setup valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Setup valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Setup invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
