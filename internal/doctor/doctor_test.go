package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/config"
	"github.com/project-ultron/sentinel/internal/task"
)

func validFixture(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	credentials := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(credentials, []byte(`{"type":"service_account"}`), 0o600))

	workersDir := filepath.Join(dir, "workers")
	for _, key := range category.All() {
		entry, ok := task.Lookup(key)
		require.True(t, ok)
		script := filepath.Join(workersDir, entry.Script)
		require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
		require.NoError(t, os.WriteFile(script, []byte("#!/usr/bin/env python3\n"), 0o755))
	}

	cfg := config.Defaults()
	cfg.CredentialsPath = credentials
	cfg.Workers.Dir = workersDir
	cfg.Workers.PythonBin = "sh"
	cfg.Workers.Timeout = time.Minute
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(dir, "sentinel.db")
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = "sentinel@example.com"
	return cfg
}

func TestValidateHealthySetup(t *testing.T) {
	cfg := validFixture(t)

	r := New(cfg).Validate(context.Background())
	assert.True(t, r.Valid, "errors: %v", r.Errors)
	assert.Empty(t, r.Errors)
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := validFixture(t)
	cfg.CredentialsPath = filepath.Join(t.TempDir(), "nope.json")

	r := New(cfg).Validate(context.Background())
	assert.False(t, r.Valid)
	require.NotEmpty(t, r.Errors)
	assert.Equal(t, "credentials", r.Errors[0].Category)
}

func TestValidateNonJSONCredentialsWarns(t *testing.T) {
	cfg := validFixture(t)
	require.NoError(t, os.WriteFile(cfg.CredentialsPath, []byte("not json"), 0o600))

	r := New(cfg).Validate(context.Background())
	assert.True(t, r.Valid)
	require.NotEmpty(t, r.Warnings)
	assert.Contains(t, r.Warnings[0].Message, "not valid JSON")
}

func TestValidateMissingWorkerScript(t *testing.T) {
	cfg := validFixture(t)
	entry, ok := task.Lookup(category.Flooding)
	require.True(t, ok)
	require.NoError(t, os.Remove(filepath.Join(cfg.Workers.Dir, entry.Script)))

	r := New(cfg).Validate(context.Background())
	assert.False(t, r.Valid)

	found := false
	for _, e := range r.Errors {
		if e.Category == "workers" {
			assert.Contains(t, e.Message, "FLOODING")
			found = true
		}
	}
	assert.True(t, found, "expected a workers error for the removed script")
}

func TestValidateMissingPython(t *testing.T) {
	cfg := validFixture(t)
	cfg.Workers.PythonBin = "definitely-not-a-real-binary"

	r := New(cfg).Validate(context.Background())
	assert.False(t, r.Valid)
}

func TestValidateAPIEnabledWithoutKey(t *testing.T) {
	cfg := validFixture(t)
	cfg.API.Enabled = true
	cfg.API.APIKey = ""

	r := New(cfg).Validate(context.Background())
	assert.False(t, r.Valid)
}

func TestFormatHuman(t *testing.T) {
	r := &Result{
		Errors:   []Issue{{Category: "workers", Field: "workers.dir", Message: "missing"}},
		Warnings: []Issue{{Category: "smtp", Message: "no host"}},
	}
	out := FormatHuman(r)
	assert.Contains(t, out, "Setup invalid (1 error(s), 1 warning(s))")
	assert.Contains(t, out, "ERROR [workers] workers.dir: missing")
	assert.Contains(t, out, "WARN  [smtp] no host")

	assert.Equal(t, "Setup valid.\n", FormatHuman(&Result{Valid: true}))
}
