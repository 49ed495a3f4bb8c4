// Package api exposes an admin HTTP surface for triggering cycles on demand
// and scraping Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"dailymed-etl/internal/mapping"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Runner starts cycles. *scheduler.Scheduler satisfies it.
type Runner interface {
	RunScrapeCycle(ctx context.Context) (bool, error)
	RunMappingCycle(ctx context.Context) (*mapping.Task, error)
}

// Server encapsulates the HTTP server, router and job registry.
type Server struct {
	mux    *http.ServeMux
	runner Runner
	log    logrus.FieldLogger

	mu   sync.RWMutex
	jobs map[string]*jobEntry
	wg   sync.WaitGroup
}

type jobEntry struct {
	status *JobStatus
	cancel context.CancelFunc // allows cancellation via DELETE /jobs/{id}
}

// NewServer builds a server. gatherer backs /metrics; nil disables it.
func NewServer(runner Runner, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		runner: runner,
		log:    log.WithField("component", "api"),
		jobs:   make(map[string]*jobEntry),
	}
	s.registerRoutes(gatherer)
	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("/jobs", s.handleJobs)     // POST /jobs
	s.mux.HandleFunc("/jobs/", s.handleJobByID) // GET/DELETE /jobs/{id}
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the routed handler wrapped in the logging and recovery
// middlewares.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

// Run serves on addr until ctx is done, then shuts down and cancels jobs
// still running.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server running on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	s.cancelAll()
	s.wg.Wait()
	return err
}

func (s *Server) cancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.jobs {
		entry.cancel()
	}
}

// Simple request logger middleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorf("panic recovered: %v", rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
