// Package config loads and validates the sentinel YAML configuration.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Service         ServiceConfig  `yaml:"service"`
	CredentialsPath string         `yaml:"credentials_path"`
	Workers         WorkersConfig  `yaml:"workers"`
	Database        DatabaseConfig `yaml:"database"`
	SMTP            SMTPConfig     `yaml:"smtp"`
	API             APIConfig      `yaml:"api"`
}

// ServiceConfig controls the daemon loop.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`

	// CheckInterval is the cadence of full subscription batches.
	CheckInterval time.Duration `yaml:"check_interval"`
	// SweepInterval is the cadence of the alert delivery sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Jitter delays each scheduled tick by a random amount up to this value.
	Jitter time.Duration `yaml:"jitter"`
	// WorkerPoolSize bounds concurrent worker processes within a batch.
	WorkerPoolSize int `yaml:"worker_pool_size"`
}

// WorkersConfig locates the analysis worker scripts.
type WorkersConfig struct {
	Dir       string        `yaml:"dir"`
	PythonBin string        `yaml:"python_bin"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects and configures the store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file path
	URL    string `yaml:"url"`    // postgres connection string
}

// SMTPConfig configures outbound alert mail.
type SMTPConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	From         string `yaml:"from"`
	DashboardURL string `yaml:"dashboard_url"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Listen         string  `yaml:"listen"`
	APIKey         string  `yaml:"api_key"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Defaults returns the configuration defaults applied on load.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:           "sentinel",
			LogLevel:       "info",
			CheckInterval:  120 * time.Hour, // every 5 days
			SweepInterval:  time.Hour,
			WorkerPoolSize: 1,
		},
		Workers: WorkersConfig{
			Dir:       "./workers",
			PythonBin: "python3",
			Timeout:   10 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./sentinel.db",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		API: APIConfig{
			Enabled:        false,
			Listen:         "127.0.0.1:8787",
			RateLimitRPS:   1,
			RateLimitBurst: 5,
		},
	}
}
