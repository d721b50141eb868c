package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const checkTimeout = 2 * time.Second

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Checker reports whether one dependency is usable.
type Checker func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Checker
}

// Server serves liveness, readiness and metrics on a port separate from the API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger

	mu     sync.RWMutex
	checks []namedCheck
}

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func NewServer(port string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:    mux,
		logger: logger,
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	return s
}

// AddCheck registers a readiness dependency. /ready fails while any check fails.
func (s *Server) AddCheck(name string, check Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, namedCheck{name: name, check: check})
}

// RegisterMetricsHandler adds /metrics. Only called when metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start() {
	utils.SafeGo(func() {
		s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error", zap.Error(err))
		}
	}, nil)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{Status: "UP", Version: Version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := append([]namedCheck(nil), s.checks...)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	status, code := "READY", http.StatusOK
	details := map[string]string{"timestamp": utils.FormatISO8601(utils.Now())}
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			status, code = "NOT_READY", http.StatusServiceUnavailable
			details[c.name] = err.Error()
			s.logger.Warn("Readiness check failed", zap.String("check", c.name), zap.Error(err))
			continue
		}
		details[c.name] = "ok"
	}

	utils.WriteJSONResponse(w, code, HealthResponse{Status: status, Version: Version, Details: details})
}
