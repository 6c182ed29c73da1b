package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults, and validates a config file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and caught by validation where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.CheckInterval == 0 {
		cfg.Service.CheckInterval = defaults.Service.CheckInterval
	}
	if cfg.Service.SweepInterval == 0 {
		cfg.Service.SweepInterval = defaults.Service.SweepInterval
	}
	if cfg.Service.WorkerPoolSize == 0 {
		cfg.Service.WorkerPoolSize = defaults.Service.WorkerPoolSize
	}

	if cfg.Workers.Dir == "" {
		cfg.Workers.Dir = defaults.Workers.Dir
	}
	if cfg.Workers.PythonBin == "" {
		cfg.Workers.PythonBin = defaults.Workers.PythonBin
	}
	if cfg.Workers.Timeout == 0 {
		cfg.Workers.Timeout = defaults.Workers.Timeout
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}

	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = defaults.SMTP.Port
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.RateLimitRPS == 0 {
		cfg.API.RateLimitRPS = defaults.API.RateLimitRPS
	}
	if cfg.API.RateLimitBurst == 0 {
		cfg.API.RateLimitBurst = defaults.API.RateLimitBurst
	}
}

func validate(cfg *Config) error {
	if cfg.Service.CheckInterval <= 0 {
		return fmt.Errorf("service.check_interval must be positive")
	}
	if cfg.Service.SweepInterval <= 0 {
		return fmt.Errorf("service.sweep_interval must be positive")
	}
	if cfg.Service.Jitter < 0 {
		return fmt.Errorf("service.jitter must not be negative")
	}
	if cfg.Service.WorkerPoolSize < 1 {
		return fmt.Errorf("service.worker_pool_size must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.CredentialsPath == "" {
		return fmt.Errorf("credentials_path is required")
	}
	if cfg.Workers.Dir == "" {
		return fmt.Errorf("workers.dir is required")
	}
	if cfg.Workers.Timeout <= 0 {
		return fmt.Errorf("workers.timeout must be positive")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
		if err := checkResolved("database.url", cfg.Database.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres (got %q)", cfg.Database.Driver)
	}

	// Secrets must not carry unresolved placeholders into runtime.
	if err := checkResolved("smtp.password", cfg.SMTP.Password); err != nil {
		return err
	}
	if cfg.API.Enabled {
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required when the API is enabled")
		}
		if err := checkResolved("api.api_key", cfg.API.APIKey); err != nil {
			return err
		}
	}

	return nil
}

func checkResolved(field, value string) error {
	if envVarPattern.MatchString(value) {
		matches := envVarPattern.FindStringSubmatch(value)
		if len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
		return fmt.Errorf("%s: unresolved environment variable", field)
	}
	return nil
}
