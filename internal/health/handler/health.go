// Package handler serves liveness and readiness over HTTP and the standard gRPC health protocol.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the OPA authorizer).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server reports service health. A nil Pinger or PolicyChecker skips that check.
type Server struct {
	db     Pinger
	policy PolicyChecker
	grpc   *health.Server

	mu      sync.Mutex
	serving bool
}

// NewServer returns a health server. The gRPC status starts NOT_SERVING until the first Refresh.
func NewServer(db Pinger, policy PolicyChecker) *Server {
	s := &Server{db: db, policy: policy, grpc: health.NewServer()}
	s.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC returns the gRPC health service to register with a grpc.Server.
func (s *Server) GRPC() *health.Server {
	return s.grpc
}

// Check runs the readiness checks and returns the joined failures.
func (s *Server) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	var errs []error
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Refresh runs Check and publishes the result to gRPC health watchers.
func (s *Server) Refresh(ctx context.Context) error {
	err := s.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.mu.Lock()
	changed := s.serving != (err == nil)
	s.serving = err == nil
	s.mu.Unlock()
	if changed {
		if err != nil {
			log.Printf("health: not serving: %v", err)
		} else {
			log.Printf("health: serving")
		}
	}
	s.grpc.SetServingStatus("", status)
	return err
}

// Run refreshes the gRPC status every interval until ctx is done, then marks the service
// NOT_SERVING so load balancers drain it during shutdown.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	_ = s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.grpc.Shutdown()
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Liveness answers 200 while the process is up.
func (s *Server) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, statusResponse{Status: "ok"})
}

// Readiness answers 200 when every dependency check passes and 503 otherwise.
func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := s.Check(r.Context()); err != nil {
		log.Printf("health: readiness failed: %v", err)
		writeStatus(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeStatus(w, http.StatusOK, statusResponse{Status: "ready"})
}

// RegisterRoutes adds GET /healthz and GET /readyz to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.Liveness)
	mux.HandleFunc("GET /readyz", s.Readiness)
}

func writeStatus(w http.ResponseWriter, code int, body statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
