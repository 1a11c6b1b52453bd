// Package api exposes the ops HTTP surface of a running extraction batch:
// liveness, pool readiness and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/metrics"
	"github.com/JakeFAU/profile-extractor/internal/middleware"
	"github.com/JakeFAU/profile-extractor/internal/session"
)

// PoolStats reports the session pool state for /readyz.
type PoolStats interface {
	Stats() session.Stats
}

// Server wires the ops routes.
type Server struct {
	router chi.Router
	pool   PoolStats
	logger *zap.Logger
}

type readyResponse struct {
	Status   string `json:"status"`
	Live     int    `json:"live"`
	Idle     int    `json:"idle"`
	Borrowed int    `json:"borrowed"`
	Burned   int    `json:"burned"`
	Degraded bool   `json:"degraded"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(pool PoolStats, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{pool: pool, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports 503 when the pool has fallen back to a lower proxy tier.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.pool == nil {
		s.writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
		return
	}
	st := s.pool.Stats()
	resp := readyResponse{
		Status:   "ready",
		Live:     st.Live,
		Idle:     st.Idle,
		Borrowed: st.Borrowed,
		Burned:   st.Burned,
		Degraded: st.Degraded,
	}
	status := http.StatusOK
	if st.Degraded {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}
