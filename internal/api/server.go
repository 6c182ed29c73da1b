// Package api exposes the operator HTTP surface: on-demand reports,
// result queries, and daemon status.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/log"
	"github.com/project-ultron/sentinel/internal/orchestrator"
	"github.com/project-ultron/sentinel/internal/store"
	"github.com/project-ultron/sentinel/internal/worker"
)

// SubscriptionReader is the slice of the store the API reads from.
type SubscriptionReader interface {
	Subscription(ctx context.Context, id int64) (*store.Subscription, error)
	LatestResults(ctx context.Context, limit int) ([]analysis.Result, error)
	ResultsBySubscription(ctx context.Context, subscriptionID int64, limit int) ([]analysis.Result, error)
}

// ReportRunner executes one on-demand worker invocation.
type ReportRunner interface {
	Run(ctx context.Context, script string, req *worker.Request) (*worker.Response, string, error)
}

// StatusSource reports the most recent batch. Nil when the API runs
// without an embedded scheduler.
type StatusSource interface {
	LastBatch() (*orchestrator.Summary, time.Time)
}

// Config holds API server configuration.
type Config struct {
	Listen         string
	APIKey         string
	RateLimitRPS   float64
	RateLimitBurst int
	ServiceName    string
	Fingerprint    string
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	store     SubscriptionReader
	runner    ReportRunner
	status    StatusSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server.
func New(config Config, st SubscriptionReader, runner ReportRunner, status StatusSource) *Server {
	return &Server{
		config:    config,
		store:     st,
		runner:    runner,
		status:    status,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Minute, // on-demand reports run a worker end to end
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(rateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
		r.Post("/v1/report", s.handleReport)
		r.Get("/v1/results/latest", s.handleLatestResults)
		r.Get("/v1/subscriptions/{id}/results", s.handleSubscriptionResults)
		r.Get("/v1/status", s.handleStatus)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || s.config.APIKey == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimit throttles per client IP. The report endpoint fronts a
// quota-limited analysis pipeline, so the limits default low.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 5
	}

	visitors := make(map[string]*visitor)
	var mu sync.Mutex

	getLimiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = time.Now()
		return v.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !getLimiter(extractIP(r.RemoteAddr)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
