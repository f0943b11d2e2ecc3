package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentgrid/agentgrid"
	"github.com/agentgrid/agentgrid/config"
	"github.com/agentgrid/agentgrid/logging"
	"github.com/agentgrid/agentgrid/metrics"
	"github.com/agentgrid/agentgrid/resilience"
)

// server is the HTTP control surface: probes, metrics, and a registry view.
type server struct {
	http   *http.Server
	logger logging.Logger
}

func newServer(cfg *config.Config, orch *agentgrid.Orchestrator, collector *metrics.Collector, logger logging.Logger) *server {
	limiter := resilience.NewRateLimiter(
		resilience.WithMaxRequests(cfg.Resilience.RateLimit),
		resilience.WithWindow(cfg.Resilience.RateWindow.Std()),
		resilience.WithBlockThreshold(cfg.Resilience.RateBlockThreshold),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Use(rateLimitMiddleware(limiter, logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		h := orch.Health()
		if !h.Started {
			writeJSON(w, http.StatusServiceUnavailable, h)
			return
		}
		writeJSON(w, http.StatusOK, h)
	})

	r.Get("/agents", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, orch.Router().ListAgents())
	})

	r.Handle("/metrics", collector.Handler())

	return &server{
		http: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// run serves until the listener fails or shutdown is called.
func (s *server) run(ctx context.Context) error {
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *server) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
		return err
	}
	return nil
}

// rateLimitMiddleware enforces a per-client fixed-window allowance. Clients
// that keep exceeding it are blocked outright.
func rateLimitMiddleware(limiter *resilience.RateLimiter, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			host, _, err := net.SplitHostPort(req.RemoteAddr)
			if err != nil {
				host = req.RemoteAddr
			}

			if limiter.Blocked(host) {
				http.Error(w, "blocked", http.StatusForbidden)
				return
			}
			if err := limiter.Allow(host, "http"); err != nil {
				logger.Warn("request rate limited", "client", host, "path", req.URL.Path)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
