package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
credentials_path: /etc/sentinel/credentials.json
database:
  driver: sqlite
  path: /var/lib/sentinel/sentinel.db
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sentinel", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 120*time.Hour, cfg.Service.CheckInterval)
	assert.Equal(t, time.Hour, cfg.Service.SweepInterval)
	assert.Equal(t, 1, cfg.Service.WorkerPoolSize)
	assert.Equal(t, "python3", cfg.Workers.PythonBin)
	assert.Equal(t, 10*time.Minute, cfg.Workers.Timeout)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
service:
  name: sentinel-staging
  log_level: debug
  check_interval: 24h
  sweep_interval: 15m
  worker_pool_size: 2
credentials_path: /etc/sentinel/credentials.json
workers:
  dir: /opt/sentinel/workers
  python_bin: /usr/bin/python3.12
  timeout: 5m
database:
  driver: sqlite
  path: /tmp/sentinel.db
api:
  enabled: true
  listen: 0.0.0.0:9000
  api_key: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sentinel-staging", cfg.Service.Name)
	assert.Equal(t, 24*time.Hour, cfg.Service.CheckInterval)
	assert.Equal(t, 2, cfg.Service.WorkerPoolSize)
	assert.Equal(t, "/opt/sentinel/workers", cfg.Workers.Dir)
	assert.Equal(t, 5*time.Minute, cfg.Workers.Timeout)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Listen)
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("SENTINEL_TEST_SMTP_PASS", "hunter2")

	path := writeConfig(t, minimalConfig+`
smtp:
  host: smtp.example.com
  password: ${SENTINEL_TEST_SMTP_PASS}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.SMTP.Password)
}

func TestLoadRejectsUnresolvedSecret(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
smtp:
  password: ${SENTINEL_TEST_UNSET_VAR_12345}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SENTINEL_TEST_UNSET_VAR_12345")
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing credentials",
			body: "database:\n  driver: sqlite\n  path: /tmp/s.db\n",
			want: "credentials_path",
		},
		{
			name: "bad driver",
			body: "credentials_path: /c.json\ndatabase:\n  driver: mongodb\n",
			want: "database.driver",
		},
		{
			name: "postgres without url",
			body: "credentials_path: /c.json\ndatabase:\n  driver: postgres\n",
			want: "database.url",
		},
		{
			name: "bad log level",
			body: minimalConfig + "service:\n  log_level: verbose\n",
			want: "service.log_level",
		},
		{
			name: "zero pool size",
			body: minimalConfig + "service:\n  worker_pool_size: -1\n",
			want: "worker_pool_size",
		},
		{
			name: "api enabled without key",
			body: minimalConfig + "api:\n  enabled: true\n",
			want: "api.api_key",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	credsPath := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(minimalConfig), 0o600))
	require.NoError(t, os.WriteFile(credsPath, []byte(`{}`), 0o600))

	fp1, err := Fingerprint(cfgPath, credsPath)
	require.NoError(t, err)
	assert.Len(t, fp1, 16)

	fp2, err := Fingerprint(cfgPath, credsPath)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2, "fingerprint is deterministic")

	require.NoError(t, os.WriteFile(credsPath, []byte(`{"changed":true}`), 0o600))
	fp3, err := Fingerprint(cfgPath, credsPath)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}
