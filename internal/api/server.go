package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pam-platform/reliability/internal/config"
	"github.com/pam-platform/reliability/internal/health"
	"github.com/pam-platform/reliability/pkg/logger"
)

// Server hosts the ops API.
type Server struct {
	srv     *http.Server
	tracker *health.Tracker
	log     *logger.Logger
}

// NewServer builds the HTTP server with routes, metrics, and request
// logging wired in.
func NewServer(cfg *config.Config, handler *Handler, tracker *health.Tracker, log *logger.Logger) *Server {
	s := &Server{
		tracker: tracker,
		log:     log.Component("http"),
	}

	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.Use(s.requestLogging)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// statusRecorder captures the response code for logging and tracking.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogging logs each request and records its outcome in the rolling
// service tracker.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		if s.tracker != nil && r.URL.Path != "/metrics" {
			s.tracker.Record(duration, rec.status >= http.StatusInternalServerError)
		}
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
		)
	})
}
