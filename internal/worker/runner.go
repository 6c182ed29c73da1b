package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/project-ultron/sentinel/internal/log"
)

const (
	// maxStderrBytes caps the stderr captured from a worker invocation.
	maxStderrBytes = 64 * 1024

	// DefaultTimeout bounds a single worker invocation.
	DefaultTimeout = 10 * time.Minute

	// terminationGracePeriod is the wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Runner spawns analysis worker processes. A worker is invoked as
//
//	<python> <workers_dir>/<script> <credentials_path>
//
// with the request on stdin. The runner settles each invocation exactly
// once: either a Response (including synthesized soft failures) or a hard
// error, never both.
type Runner struct {
	PythonBin       string
	WorkersDir      string
	CredentialsPath string
	Timeout         time.Duration

	logger *slog.Logger
}

// NewRunner creates a Runner. A zero timeout falls back to DefaultTimeout.
func NewRunner(pythonBin, workersDir, credentialsPath string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		PythonBin:       pythonBin,
		WorkersDir:      workersDir,
		CredentialsPath: credentialsPath,
		Timeout:         timeout,
		logger:          log.WithComponent("worker"),
	}
}

// VerifyCredentials checks that the credentials file exists and is a
// regular readable file. The orchestrator treats a failure here as fatal
// for the whole batch.
func (r *Runner) VerifyCredentials() error {
	info, err := os.Stat(r.CredentialsPath)
	if err != nil {
		return fmt.Errorf("credentials file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("credentials path %s is a directory", r.CredentialsPath)
	}
	f, err := os.Open(r.CredentialsPath)
	if err != nil {
		return fmt.Errorf("credentials file not readable: %w", err)
	}
	return f.Close()
}

// Run executes one worker script with the given request.
//
// Soft failures (the worker ran and reported or implied an analysis
// failure) come back as a Response with Status "error" and a nil error:
// non-zero exit, and exit 0 with empty stdout. Hard failures (the
// invocation itself broke) come back as a non-nil error: spawn failure,
// stdin write failure, unparseable stdout, timeout, context cancellation.
// The returned string is captured stderr, truncated.
func (r *Runner) Run(ctx context.Context, script string, req *Request) (*Response, string, error) {
	entrypoint := filepath.Join(r.WorkersDir, script)
	logger := r.logger.With("script", script, "region_id", req.RegionID)

	timer := time.NewTimer(r.Timeout)
	defer timer.Stop()

	// Termination is managed by hand, so no CommandContext.
	cmd := exec.Command(r.PythonBin, entrypoint, r.CredentialsPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning worker", "entrypoint", entrypoint, "timeout", r.Timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start worker: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		r.terminate(cmd, waitErr, logger)
		return nil, truncate(stderr.String()), ctx.Err()

	case <-timer.C:
		logger.Warn("worker timed out, sending SIGTERM", "timeout", r.Timeout)
		r.terminate(cmd, waitErr, logger)
		return nil, truncate(stderr.String()), fmt.Errorf("worker timed out after %v: %w", r.Timeout, context.DeadlineExceeded)

	case err := <-waitErr:
		stderrStr := truncate(stderr.String())

		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, fmt.Errorf("write request: %w", werr)
		}

		if err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if !ok {
				return nil, stderrStr, fmt.Errorf("wait for worker: %w", err)
			}
			logger.Warn("worker exited with non-zero status", "exit_code", exitErr.ExitCode())
			return &Response{
				Status:   "error",
				RegionID: req.RegionID,
				Message:  fmt.Sprintf("worker exited with status %d: %s", exitErr.ExitCode(), firstLine(stderrStr)),
			}, stderrStr, nil
		}

		if len(bytes.TrimSpace(stdout.Bytes())) == 0 {
			logger.Warn("worker exited cleanly with no output")
			return &Response{
				Status:   "error",
				RegionID: req.RegionID,
				Message:  "worker produced no output",
			}, stderrStr, nil
		}

		resp, derr := DecodeResponse(stdout.Bytes())
		if derr != nil {
			logger.Error("failed to decode worker output", "error", derr)
			return nil, stderrStr, fmt.Errorf("decode worker output: %w", derr)
		}
		if resp.RegionID == "" {
			resp.RegionID = req.RegionID
		}
		return resp, stderrStr, nil
	}
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
// It always reaps the process before returning.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
	case <-grace.C:
		logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func truncate(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
