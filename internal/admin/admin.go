// Package admin serves the local observability endpoints: health,
// aggregated stats, Prometheus metrics, redacted config inspection and
// config reload.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/wudi/speclint/config"
	"github.com/wudi/speclint/internal/metrics"
)

const defaultPort = 8321

// Deps wires the admin server to the rest of the process. Stats builds
// the aggregate served at /stats; Config returns the live
// configuration, served redacted at /config; Reload triggers a
// configuration reload.
type Deps struct {
	Metrics *metrics.Collector
	Stats   func() any
	Config  func() *config.Config
	Reload  func() error
	Version string
	Logger  *zap.Logger
}

// Server is the admin HTTP server.
type Server struct {
	srv     *http.Server
	deps    Deps
	started time.Time
}

// New creates the admin server. Start begins listening.
func New(cfg config.AdminConfig, deps Deps) *Server {
	port := cfg.Port
	if port <= 0 {
		port = defaultPort
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{deps: deps, started: time.Now()}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.deps.Logger.Info("admin server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.deps.Logger.Error("admin server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/reload", s.handleReload)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "ok"
	checks := make(map[string]any)
	if s.deps.Metrics != nil {
		switch s.deps.Metrics.Snapshot().BreakerState {
		case 1:
			checks["evaluation_service"] = "suspended"
			status = "degraded"
		case 2:
			checks["evaluation_service"] = "probing"
		default:
			checks["evaluation_service"] = "ok"
		}
	}

	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"version":   s.deps.Version,
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
		"checks":    checks,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.deps.Stats == nil {
		w.Write([]byte("{}\n"))
		return
	}
	json.NewEncoder(w).Encode(s.deps.Stats())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusNotFound)
		return
	}
	s.deps.Metrics.WritePrometheus(w)
}

// handleConfig serves the live configuration as YAML with secret
// fields redacted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		http.Error(w, "config not available", http.StatusNotFound)
		return
	}
	red, err := config.RedactConfig(s.deps.Config())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := yaml.Marshal(red)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Write(data)
}

// ReloadResult reports the outcome of one reload request.
type ReloadResult struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	result := ReloadResult{Success: true, Timestamp: time.Now()}
	if s.deps.Reload == nil {
		result = ReloadResult{Error: "reload not supported", Timestamp: result.Timestamp}
	} else if err := s.deps.Reload(); err != nil {
		result = ReloadResult{Error: err.Error(), Timestamp: result.Timestamp}
	}
	if !result.Success {
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(result)
}
