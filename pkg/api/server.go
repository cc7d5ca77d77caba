// Package api exposes plan execution, undo/redo, files and run metadata
// over HTTP.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workbench/pkg/config"
	"workbench/pkg/engine"
	"workbench/pkg/history"
	"workbench/pkg/logx"
	"workbench/pkg/metrics"
	"workbench/pkg/persistence"
	"workbench/pkg/sandbox"
)

// Options configures the HTTP server.
type Options struct {
	// AuthUser is the basic-auth username.
	AuthUser string

	// AuthPassword is the basic-auth password. Empty denies all requests;
	// a password is generated at startup when none is configured.
	AuthPassword string
}

// Server serves the workbench HTTP API.
type Server struct {
	engine  *engine.Engine
	store   *persistence.Store
	history *history.Service
	sandbox *sandbox.Manager
	stacks  map[string]config.WorkspaceStack
	queries *metrics.QueryService
	logger  *logx.Logger
	opts    Options
}

// NewServer creates an API server.
func NewServer(eng *engine.Engine, store *persistence.Store, hist *history.Service,
	sb *sandbox.Manager, stacks map[string]config.WorkspaceStack, opts Options) *Server {
	if stacks == nil {
		stacks = map[string]config.WorkspaceStack{}
	}
	return &Server{
		engine:  eng,
		store:   store,
		history: hist,
		sandbox: sb,
		stacks:  stacks,
		logger:  logx.NewLogger("api"),
		opts:    opts,
	}
}

// SetQueryService attaches a Prometheus query backend for the workspace
// metrics endpoint. Without one the endpoint reports 503.
func (s *Server) SetQueryService(q *metrics.QueryService) {
	s.queries = q
}

// requireAuth wraps an HTTP handler with Basic Authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthPassword == "" {
			s.logger.Error("API password not set, denying access")
			w.Header().Set("WWW-Authenticate", `Basic realm="Workbench"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Workbench"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userOK := username == s.opts.AuthUser
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.AuthPassword)) == 1
		if !userOK || !passOK {
			s.logger.Warn("failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			w.Header().Set("WWW-Authenticate", `Basic realm="Workbench"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/apply", s.requireAuth(s.handleApply))
	mux.HandleFunc("/api/undo", s.requireAuth(s.handleUndo))
	mux.HandleFunc("/api/redo", s.requireAuth(s.handleRedo))
	mux.HandleFunc("/api/rollback", s.requireAuth(s.handleRollback))
	mux.HandleFunc("/api/runs", s.requireAuth(s.handleRuns))
	mux.HandleFunc("/api/runs/", s.requireAuth(s.handleRun))
	mux.HandleFunc("/api/files", s.requireAuth(s.handleFiles))
	mux.HandleFunc("/api/stacks", s.requireAuth(s.handleStacks))
	mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("/api/metrics/workspace", s.requireAuth(s.handleWorkspaceMetrics))
	mux.HandleFunc("/api/healthz", s.handleHealth)

	// Prometheus scrape endpoint, outside basic auth.
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
