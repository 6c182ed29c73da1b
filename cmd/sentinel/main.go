package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/project-ultron/sentinel/internal/api"
	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/config"
	"github.com/project-ultron/sentinel/internal/doctor"
	"github.com/project-ultron/sentinel/internal/lock"
	"github.com/project-ultron/sentinel/internal/log"
	"github.com/project-ultron/sentinel/internal/notify"
	"github.com/project-ultron/sentinel/internal/orchestrator"
	"github.com/project-ultron/sentinel/internal/scheduler"
	"github.com/project-ultron/sentinel/internal/store"
	"github.com/project-ultron/sentinel/internal/task"
	"github.com/project-ultron/sentinel/internal/tui/watch"
	"github.com/project-ultron/sentinel/internal/worker"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "run":
		return runOnce(args)
	case "sweep":
		return runSweep(args)
	case "report":
		return runReport(args)
	case "watch":
		return runWatch(args)
	case "doctor":
		return runDoctor(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`sentinel - Environmental change monitoring daemon

Usage:
  sentinel <command> [flags]

Commands:
  start     Start the monitoring daemon in the foreground
  run       Execute one monitoring batch and exit
  sweep     Deliver pending alert notifications and exit
  report    Run one on-demand analysis and print the result
  watch     Live dashboard TUI (requires a running daemon with API enabled)
  doctor    Validate configuration, credentials, and worker setup
  config    Configuration utilities (check, fingerprint)
  version   Show version information
  help      Show this help message

Use 'sentinel <command> --help' for command-specific flags.
`)
}

// --- daemon ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("sentinel starting", "version", version, "config", *configPath)

	lockPath := pidLockPath(cfg)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		return 1
	}
	defer st.Close()
	logger.Info("database opened", "driver", cfg.Database.Driver)

	runner := worker.NewRunner(cfg.Workers.PythonBin, cfg.Workers.Dir, cfg.CredentialsPath, cfg.Workers.Timeout)
	notifier := notify.NewSMTP(cfg.SMTP)
	engine := orchestrator.New(st, runner, notifier, cfg.Service.WorkerPoolSize)
	sweeper := notify.NewSweeper(st, notifier)

	sched := scheduler.New(cfg.Service, engine, sweeper)
	sched.Start(ctx)
	defer sched.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		fingerprint, err := config.Fingerprint(*configPath, cfg.CredentialsPath)
		if err != nil {
			logger.Error("failed to fingerprint configuration", "error", err)
			return 1
		}
		apiServer := api.New(api.Config{
			Listen:         cfg.API.Listen,
			APIKey:         cfg.API.APIKey,
			RateLimitRPS:   cfg.API.RateLimitRPS,
			RateLimitBurst: cfg.API.RateLimitBurst,
			ServiceName:    cfg.Service.Name,
			Fingerprint:    fingerprint,
		}, st, runner, sched)
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("sentinel running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("sentinel stopped")
	return 0
}

func pidLockPath(cfg *config.Config) string {
	if cfg.Database.Path != "" {
		return filepath.Join(filepath.Dir(cfg.Database.Path), "sentinel.lock")
	}
	return filepath.Join(os.TempDir(), "sentinel.lock")
}

// --- one-shot commands ---

func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Print the batch summary as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := signalContext()
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer st.Close()

	runner := worker.NewRunner(cfg.Workers.PythonBin, cfg.Workers.Dir, cfg.CredentialsPath, cfg.Workers.Timeout)
	engine := orchestrator.New(st, runner, notify.NewSMTP(cfg.SMTP), cfg.Service.WorkerPoolSize)

	summary, err := engine.RunAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Batch failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Batch %s: %d subscriptions, %d dispatched, %d skipped, %d alerts, %d errors (%s)\n",
			summary.RunID, summary.Subscriptions, summary.Dispatched,
			summary.Skipped, summary.Alerts, summary.Errors, summary.Duration)
	}
	if summary.Errors > 0 {
		return 1
	}
	return 0
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := signalContext()
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer st.Close()

	delivered, err := notify.NewSweeper(st, notify.NewSMTP(cfg.SMTP)).Sweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}
	fmt.Printf("Delivered %d pending alert(s)\n", delivered)
	return 0
}

func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	subscriptionID := fs.Int64("subscription", 0, "Subscription ID to analyze")
	regionFile := fs.String("region", "", "Path to a GeoJSON geometry to analyze instead of a subscription")
	regionID := fs.String("region-id", "", "Region identifier for an ad hoc report")
	categoryLabel := fs.String("category", "", "Analysis category (e.g. DEFORESTATION)")
	threshold := fs.Float64("threshold", 0, "Override the category threshold")
	thresholdPercent := fs.Float64("threshold-percent", 0, "Override the category threshold percent")
	daysBack := fs.Int("days-back", 0, "Override the fire lookback window in days")
	bufferMeters := fs.Int("buffer-meters", 0, "Override the coastal buffer in meters")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if (*subscriptionID == 0 && *regionFile == "") || *categoryLabel == "" {
		fmt.Fprintln(os.Stderr, "Usage: sentinel report (--subscription ID | --region FILE) --category NAME [--config PATH]")
		return 1
	}

	key, ok := category.Resolve(*categoryLabel)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown category: %s\n", *categoryLabel)
		return 1
	}
	entry, ok := task.Lookup(key)
	if !ok {
		fmt.Fprintf(os.Stderr, "Category %s has no registered worker\n", key)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := signalContext()

	var geometry json.RawMessage
	region := *regionID
	if *regionFile != "" {
		data, err := os.ReadFile(*regionFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read region file: %v\n", err)
			return 1
		}
		if !json.Valid(data) {
			fmt.Fprintf(os.Stderr, "Region file %s is not valid JSON\n", *regionFile)
			return 1
		}
		geometry = data
		if region == "" {
			region = fmt.Sprintf("report-adhoc-%s", key)
		}
	} else {
		st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
			return 1
		}
		defer st.Close()

		sub, err := st.Subscription(ctx, *subscriptionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Subscription lookup failed: %v\n", err)
			return 1
		}
		if sub == nil {
			fmt.Fprintf(os.Stderr, "Subscription %d not found\n", *subscriptionID)
			return 1
		}
		geometry = sub.RegionGeometry
		region = fmt.Sprintf("report-%d-%s", sub.ID, key)
	}

	overrides := task.Params{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold":
			overrides.Threshold = threshold
		case "threshold-percent":
			overrides.ThresholdPercent = thresholdPercent
		case "days-back":
			overrides.DaysBack = daysBack
		case "buffer-meters":
			overrides.BufferMeters = bufferMeters
		}
	})
	params := entry.Defaults.Merge(overrides)

	runner := worker.NewRunner(cfg.Workers.PythonBin, cfg.Workers.Dir, cfg.CredentialsPath, cfg.Workers.Timeout)
	resp, stderr, err := runner.Run(ctx, entry.Script, &worker.Request{
		Geometry:         geometry,
		RegionID:         region,
		Threshold:        params.Threshold,
		ThresholdPercent: params.ThresholdPercent,
		BufferMeters:     params.BufferMeters,
		DaysBack:         params.DaysBack,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Worker invocation failed: %v\n", err)
		if stderr != "" {
			fmt.Fprintln(os.Stderr, stderr)
		}
		return 1
	}

	data, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(data))
	if !resp.Success() {
		return 1
	}
	return 0
}

// --- tooling commands ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8787", "Daemon API URL")
	apiKey := fs.String("api-key", os.Getenv("SENTINEL_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SENTINEL_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate(signalContext())

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sentinel config <check|fingerprint> [flags]")
		return 1
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "fingerprint":
		return runConfigFingerprint(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: sentinel config <check|fingerprint> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	fmt.Println("Configuration valid.")
	return 0
}

func runConfigFingerprint(args []string) int {
	fs := flag.NewFlagSet("fingerprint", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	fingerprint, err := config.Fingerprint(*configPath, cfg.CredentialsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fingerprint: %v\n", err)
		return 1
	}
	fmt.Println(fingerprint)
	return 0
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]string{
			"version":    version,
			"commit":     gitCommit,
			"build_time": buildDate,
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("sentinel %s\n", version)
	fmt.Printf("commit: %s\n", gitCommit)
	fmt.Printf("built_at: %s\n", buildDate)
	return 0
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}
