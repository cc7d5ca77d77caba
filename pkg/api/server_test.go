package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workbench/pkg/agent"
	"workbench/pkg/config"
	"workbench/pkg/engine"
	"workbench/pkg/exec"
	"workbench/pkg/history"
	"workbench/pkg/persistence"
	"workbench/pkg/sandbox"
)

const (
	testUser     = "workbench"
	testPassword = "test-password"
)

// okExec reports success for every command.
type okExec struct{}

func (okExec) Run(context.Context, []string, *exec.Opts) (exec.Result, error) {
	code := 0
	return exec.Result{ExitCode: &code}, nil
}

func (okExec) RunShell(context.Context, string, *exec.Opts) (exec.Result, error) {
	code := 0
	return exec.Result{ExitCode: &code}, nil
}

type testEnv struct {
	server *httptest.Server
	store  *persistence.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := persistence.NewStore(db)

	hist := history.NewService(0)
	sb := sandbox.NewManager(store, okExec{}, sandbox.Options{
		StageRoot:             t.TempDir(),
		PromoteOnCheckFailure: true,
	})
	eng := engine.New(sb, okExec{}, &agent.MockProposer{}, hist, nil, nil, engine.Options{})

	srv := NewServer(eng, store, hist, sb, map[string]config.WorkspaceStack{
		"ws1": {Name: "ws1", Stack: "node", TestCommand: "npm test"},
	}, Options{AuthUser: testUser, AuthPassword: testPassword})

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.SetBasicAuth(testUser, testPassword)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/api/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/runs?workspace=ws1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/runs?workspace=ws1", nil)
	require.NoError(t, err)
	req.SetBasicAuth(testUser, "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestApplyUndoRedoRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/apply", map[string]any{
		"workspaceId": "ws1",
		"userId":      "user1",
		"steps": []map[string]any{
			{"type": "file_edit", "path": "src/a.ts", "newContent": "export const x=1;"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[engine.Result](t, resp)
	assert.True(t, result.Promoted)
	assert.Equal(t, []string{"src/a.ts"}, result.FilesEdited)
	assert.NotEmpty(t, result.SandboxRunID)

	// Undo deletes the created file
	resp = env.do(t, http.MethodPost, "/api/undo", map[string]any{"workspaceId": "ws1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	undo := decode[undoResponse](t, resp)
	assert.Equal(t, []string{"src/a.ts"}, undo.Reverted)
	assert.False(t, undo.CanUndo)
	assert.True(t, undo.CanRedo)
	_, err := env.store.GetFile("ws1", "src/a.ts")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// Redo restores it
	resp = env.do(t, http.MethodPost, "/api/redo", map[string]any{"workspaceId": "ws1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	redo := decode[undoResponse](t, resp)
	assert.True(t, redo.CanUndo)
	assert.False(t, redo.CanRedo)
	file, err := env.store.GetFile("ws1", "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "export const x=1;", file.Content)
}

func TestUndoNothingReturns400(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/undo", map[string]any{"workspaceId": "ws-empty"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "Nothing to undo", body["error"])
	assert.Equal(t, false, body["canUndo"])
}

func TestApplyRejectsMalformedPlan(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/apply", map[string]any{
		"workspaceId": "ws1",
		"steps":       []map[string]any{{"type": "teleport"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRollbackMarksRunRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/apply", map[string]any{
		"workspaceId": "ws1",
		"steps": []map[string]any{
			{"type": "file_edit", "path": "src/a.ts", "newContent": "x"},
		},
	})
	result := decode[engine.Result](t, resp)
	require.NotEmpty(t, result.SandboxRunID)

	resp = env.do(t, http.MethodPost, "/api/rollback", map[string]any{
		"sandboxRunId": result.SandboxRunID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	run, err := env.store.GetSandboxRun(result.SandboxRunID)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStatusRejected, run.Status)

	// Rollback does not revert files
	_, err = env.store.GetFile("ws1", "src/a.ts")
	assert.NoError(t, err)
}

func TestRollbackUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/rollback", map[string]any{
		"sandboxRunId": "nope",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFilesPutAndGet(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/files", map[string]any{
		"workspaceId": "ws1",
		"path":        "docs//readme.md",
		"content":     "# hi",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	put := decode[map[string]any](t, resp)
	assert.Equal(t, "docs/readme.md", put["path"], "paths are sanitized at the boundary")

	resp = env.do(t, http.MethodGet, "/api/files?workspace=ws1&path=docs/readme.md", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	file := decode[persistence.WorkspaceFile](t, resp)
	assert.Equal(t, "# hi", file.Content)

	// Traversal is rejected
	resp = env.do(t, http.MethodGet, "/api/files?workspace=ws1&path=../etc/passwd", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunsListing(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/apply", map[string]any{
		"workspaceId": "ws1",
		"steps": []map[string]any{
			{"type": "file_edit", "path": "a.ts", "newContent": "1"},
		},
	})
	result := decode[engine.Result](t, resp)

	resp = env.do(t, http.MethodGet, "/api/runs?workspace=ws1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]*persistence.SandboxRun](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, result.SandboxRunID, runs[0].ID)

	resp = env.do(t, http.MethodGet, "/api/runs/"+result.SandboxRunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[*persistence.SandboxRun](t, resp)
	assert.True(t, run.Promoted)
}

func TestStacksEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/stacks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stacks := decode[map[string]config.WorkspaceStack](t, resp)
	assert.Equal(t, "npm test", stacks["ws1"].TestCommand)
}

func TestWorkspaceMetricsWithoutBackend(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/metrics/workspace?workspace=ws1", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "metrics backend not configured", body["error"])
}
