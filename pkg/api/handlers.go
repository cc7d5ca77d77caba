package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"workbench/pkg/engine"
	"workbench/pkg/logx"
	"workbench/pkg/pathsafe"
	"workbench/pkg/persistence"
	"workbench/pkg/plan"
)

type applyRequest struct {
	WorkspaceID             string          `json:"workspaceId"`
	UserID                  string          `json:"userId"`
	Steps                   json.RawMessage `json:"steps"`
	Summary                 string          `json:"summary,omitempty"`
	ConfirmedProtectedPaths []string        `json:"confirmedProtectedPaths,omitempty"`
}

// handleApply implements POST /api/apply. A needProtectedConfirmation
// outcome is a normal 200 response, not an error status.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.WorkspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}

	planDoc, err := json.Marshal(map[string]any{
		"steps":   req.Steps,
		"summary": req.Summary,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid steps: "+err.Error())
		return
	}
	parsed, err := plan.Parse(planDoc)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.ExecutePlan(r.Context(), engine.Request{
		WorkspaceID:             req.WorkspaceID,
		UserID:                  req.UserID,
		Plan:                    parsed,
		ConfirmedProtectedPaths: req.ConfirmedProtectedPaths,
	})
	if err != nil {
		s.logger.Error("plan execution failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type workspaceRequest struct {
	WorkspaceID string `json:"workspaceId"`
}

type undoResponse struct {
	Reverted []string `json:"reverted"`
	CanUndo  bool     `json:"canUndo"`
	CanRedo  bool     `json:"canRedo"`
}

// handleUndo implements POST /api/undo.
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFrom(w, r)
	if !ok {
		return
	}

	batch, ok := s.history.PopUndo(ws)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Nothing to undo",
			"canUndo": false,
		})
		return
	}

	var reverted []string
	for _, entry := range batch.Entries {
		var err error
		if entry.OldContent == nil {
			err = s.store.DeleteFile(ws, entry.Path)
		} else {
			err = s.store.PutFile(ws, entry.Path, *entry.OldContent)
		}
		if err != nil {
			s.logger.Error("undo of %s failed: %v", entry.Path, err)
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reverted = append(reverted, entry.Path)
	}

	s.writeJSON(w, http.StatusOK, undoResponse{
		Reverted: reverted,
		CanUndo:  s.history.CanUndo(ws),
		CanRedo:  s.history.CanRedo(ws),
	})
}

// handleRedo implements POST /api/redo.
func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFrom(w, r)
	if !ok {
		return
	}

	batch, ok := s.history.PopRedo(ws)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Nothing to redo",
			"canRedo": false,
		})
		return
	}

	var reverted []string
	for _, entry := range batch.Entries {
		if err := s.store.PutFile(ws, entry.Path, entry.NewContent); err != nil {
			s.logger.Error("redo of %s failed: %v", entry.Path, err)
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reverted = append(reverted, entry.Path)
	}

	s.writeJSON(w, http.StatusOK, undoResponse{
		Reverted: reverted,
		CanUndo:  s.history.CanUndo(ws),
		CanRedo:  s.history.CanRedo(ws),
	})
}

func (s *Server) workspaceFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	var req workspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "workspaceId is required")
		return "", false
	}
	return req.WorkspaceID, true
}

type rollbackRequest struct {
	SandboxRunID string `json:"sandboxRunId"`
}

// handleRollback implements POST /api/rollback. It marks a run as
// user-rejected for later analysis; it does not revert files.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SandboxRunID == "" {
		s.writeError(w, http.StatusBadRequest, "sandboxRunId is required")
		return
	}

	run, err := s.store.GetSandboxRun(req.SandboxRunID)
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.MarkRunRejected(run); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": run.Status})
}

// handleRuns implements GET /api/runs?workspace=ID.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ws := r.URL.Query().Get("workspace")
	if ws == "" {
		s.writeError(w, http.StatusBadRequest, "workspace query parameter is required")
		return
	}
	runs, err := s.store.ListSandboxRuns(ws, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handleRun implements GET /api/runs/{id}.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	run, err := s.store.GetSandboxRun(id)
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

type putFileRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Path        string `json:"path"`
	Content     string `json:"content"`
}

// handleFiles implements GET and PUT on /api/files.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleFileGet(w, r)
	case http.MethodPut:
		s.handleFilePut(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	ws := r.URL.Query().Get("workspace")
	rawPath := r.URL.Query().Get("path")
	if ws == "" || rawPath == "" {
		s.writeError(w, http.StatusBadRequest, "workspace and path query parameters are required")
		return
	}
	path, err := pathsafe.Sanitize(rawPath)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, err := s.store.GetFile(ws, path)
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleFilePut(w http.ResponseWriter, r *http.Request) {
	var req putFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.WorkspaceID == "" || req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "workspaceId and path are required")
		return
	}
	path, err := pathsafe.Sanitize(req.Path)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.PutFile(req.WorkspaceID, path, req.Content); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}

// handleStacks implements GET /api/stacks.
func (s *Server) handleStacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.stacks)
}

// handleLogs implements GET /api/logs?component=NAME&since=RFC3339.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	component := r.URL.Query().Get("component")
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = parsed
	}
	s.writeJSON(w, http.StatusOK, logx.RecentEntries(component, since))
}

// handleWorkspaceMetrics implements GET /api/metrics/workspace?workspace=ID.
func (s *Server) handleWorkspaceMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.queries == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics backend not configured")
		return
	}
	workspaceID := r.URL.Query().Get("workspace")
	if workspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "workspace query parameter is required")
		return
	}
	wm, err := s.queries.GetWorkspaceMetrics(r.Context(), workspaceID)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, wm)
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
