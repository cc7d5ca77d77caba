// Package sandbox stages workspace copies, applies plan edits to them, runs
// configured checks, and promotes results back to the persistent store.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"workbench/pkg/classify"
	"workbench/pkg/config"
	"workbench/pkg/edit"
	"workbench/pkg/exec"
	"workbench/pkg/history"
	"workbench/pkg/logx"
	"workbench/pkg/persistence"
	"workbench/pkg/plan"
)

// stageConcurrency bounds parallel file writes while staging a workspace.
const stageConcurrency = 8

// Options configures sandbox behavior.
type Options struct {
	// SafeEditMode requires confirmation for protected paths and flags
	// over-edits.
	SafeEditMode bool

	// ProtectedPatterns overrides the default protected set when non-empty.
	ProtectedPatterns []string

	// PromoteOnCheckFailure promotes runs whose lint or tests failed, with
	// failure conflicts attached for review. A failed "run" check always
	// blocks promotion regardless of this setting.
	PromoteOnCheckFailure bool

	// CommandTimeout bounds lint and test checks. Zero means the executor
	// default.
	CommandTimeout time.Duration

	// ServerProcessTimeout is the ceiling for the "run" check, which may
	// start a long-lived dev server.
	ServerProcessTimeout time.Duration

	// Allowlist, when non-nil, restricts check commands.
	Allowlist []string

	// StageRoot is the parent directory for staging copies. Empty selects
	// the system temp directory.
	StageRoot string

	// PreserveFailed keeps the staging directory of unpromoted runs on
	// Cleanup for debugging.
	PreserveFailed bool
}

// Manager owns sandbox runs from creation through promotion or rejection.
type Manager struct {
	store    *persistence.Store
	executor exec.Executor
	applier  *edit.Applier
	logger   *logx.Logger
	opts     Options

	mu     sync.Mutex
	active map[string]*Run
}

// NewManager creates a sandbox manager.
func NewManager(store *persistence.Store, executor exec.Executor, opts Options) *Manager {
	if opts.ServerProcessTimeout == 0 {
		opts.ServerProcessTimeout = exec.ServerProcessTimeout
	}
	return &Manager{
		store:    store,
		executor: executor,
		applier:  edit.NewApplier(opts.SafeEditMode, opts.ProtectedPatterns),
		logger:   logx.NewLogger("sandbox"),
		opts:     opts,
		active:   make(map[string]*Run),
	}
}

// CreateRun stages a working copy of the workspace and records a new run.
// Staging failures are surfaced as a conflict entry with an empty path on
// the returned run; they do not fail the call.
func (m *Manager) CreateRun(ctx context.Context, workspaceID, userID string) (*Run, error) {
	run := &Run{
		ID:           uuid.New().String(),
		WorkspaceID:  workspaceID,
		UserID:       userID,
		Status:       persistence.RunStatusCreated,
		FilesEdited:  []string{},
		Conflicts:    []edit.Conflict{},
		CheckResults: map[string]CheckResult{},
		CreatedAt:    time.Now().UTC(),
		staged:       make(map[string]string),
	}

	if err := m.stage(ctx, run); err != nil {
		m.logger.Warn("staging failed for run %s: %v", run.ID, err)
		run.addConflict(edit.Conflict{
			Type:    edit.ConflictStaging,
			Message: fmt.Sprintf("staging failed: %v", err),
		})
	}

	rec, err := run.record()
	if err != nil {
		return nil, fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	if err := m.store.InsertSandboxRun(rec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active[run.ID] = run
	m.mu.Unlock()

	m.logger.Debug("created sandbox run %s for workspace %s", run.ID, workspaceID)
	return run, nil
}

// stage writes the workspace's current files into a fresh staging directory
// so check commands can execute against a real tree.
func (m *Manager) stage(ctx context.Context, run *Run) error {
	dir, err := os.MkdirTemp(m.opts.StageRoot, "workbench-sandbox-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	run.stageDir = dir

	files, err := m.store.ListFiles(run.WorkspaceID)
	if err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(stageConcurrency)
	for _, f := range files {
		g.Go(func() error {
			return writeStagedFile(dir, f.Path, f.Content)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range files {
		run.staged[f.Path] = f.Content
	}
	return nil
}

func writeStagedFile(dir, path, content string) error {
	full := filepath.Join(dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to stage %s: %w", path, err)
	}
	return nil
}

// CheckProtected runs the protected-path policy over a set of paths
// without applying anything. Callers use it to reject a whole plan before
// any step executes.
func (m *Manager) CheckProtected(paths, confirmedPaths []string) edit.BatchCheck {
	return m.applier.CheckBatch(paths, confirmedPaths)
}

// Get returns an active run by ID.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.active[id]
	return run, ok
}

// ApplyEdits applies the plan's file-edit steps to the staged copy. The
// protected-path policy runs first over the whole batch; if any unconfirmed
// protected path is touched, nothing is applied and the returned BatchCheck
// carries the confirmation request.
//
// The returned entries record before/after content for undo bookkeeping.
func (m *Manager) ApplyEdits(run *Run, steps []plan.FileEditStep, confirmedPaths []string) (edit.BatchCheck, []history.EditEntry, error) {
	paths := make([]string, 0, len(steps))
	for _, s := range steps {
		paths = append(paths, s.Path)
	}
	if check := m.applier.CheckBatch(paths, confirmedPaths); check.NeedProtectedConfirmation {
		return check, nil, nil
	}

	var entries []history.EditEntry
	for _, step := range steps {
		var current *string
		if content, ok := run.staged[step.Path]; ok {
			current = &content
		}

		res := m.applier.ApplyStep(step, current)
		if res.Conflict != nil {
			run.addConflict(*res.Conflict)
			continue
		}
		if res.OverEdit {
			run.addConflict(edit.OverEditConflict(step.Path, res.ReplacedRatio))
		}

		entries = append(entries, history.EditEntry{
			Path:       step.Path,
			OldContent: current,
			NewContent: res.NewContent,
		})
		run.staged[step.Path] = res.NewContent
		if !contains(run.FilesEdited, step.Path) {
			run.FilesEdited = append(run.FilesEdited, step.Path)
		}

		if run.stageDir != "" {
			if err := writeStagedFile(run.stageDir, step.Path, res.NewContent); err != nil {
				run.addConflict(edit.Conflict{
					Type:    edit.ConflictStaging,
					Message: err.Error(),
				})
			}
		}
	}

	run.Status = persistence.RunStatusEditsApplied
	if err := m.persist(run); err != nil {
		return edit.BatchCheck{}, entries, err
	}
	return edit.BatchCheck{}, entries, nil
}

// RunChecks executes the stack's configured lint, test and run commands
// against the staged copy. A check with no configured command is recorded
// as skipped.
func (m *Manager) RunChecks(ctx context.Context, run *Run, stack config.WorkspaceStack) error {
	workDir := run.stageDir
	if stack.Root != "" {
		workDir = filepath.Join(workDir, filepath.FromSlash(stack.Root))
	}

	run.CheckResults[CheckLint] = m.runCheck(ctx, CheckLint, stack.LintCommand, workDir, m.opts.CommandTimeout)
	run.CheckResults[CheckTests] = m.runCheck(ctx, CheckTests, stack.TestCommand, workDir, m.opts.CommandTimeout)
	run.CheckResults[CheckRun] = m.runCheck(ctx, CheckRun, stack.RunCommand, workDir, m.opts.ServerProcessTimeout)

	run.Status = persistence.RunStatusChecksRun
	return m.persist(run)
}

func (m *Manager) runCheck(ctx context.Context, name, command, workDir string, timeout time.Duration) CheckResult {
	if strings.TrimSpace(command) == "" {
		return CheckResult{Status: CheckSkipped}
	}
	if workDir == "" {
		return CheckResult{Status: CheckFailed, Command: command,
			Output: "no staging directory available"}
	}

	result, err := m.executor.RunShell(ctx, command, &exec.Opts{
		WorkDir:   workDir,
		Timeout:   timeout,
		Allowlist: m.opts.Allowlist,
	})
	if err != nil {
		return CheckResult{Status: CheckFailed, Command: command, Output: err.Error()}
	}

	status, _ := classify.CommandResult(result)
	checkStatus := CheckFailed
	switch {
	case status == classify.StatusSuccess:
		checkStatus = CheckPassed
	case status == classify.StatusTimeout && name == CheckRun:
		// A dev server that outlives the ceiling did start; the executor
		// has already killed it.
		checkStatus = CheckPassed
	}

	output := result.Stderr
	if output == "" {
		output = result.Stdout
	}
	m.logger.Debug("check %s: %s (%s)", name, checkStatus, command)
	return CheckResult{
		Status:     checkStatus,
		Command:    command,
		Output:     output,
		ExitCode:   result.ExitCode,
		DurationMs: result.Duration.Milliseconds(),
	}
}

// Finalize decides promotion. A failed "run" check rejects the run with a
// critical conflict. Failed lint or tests attach conflicts and, depending
// on PromoteOnCheckFailure, either reject or promote anyway. Promotion
// copies the edited files back to the store in one transaction.
func (m *Manager) Finalize(run *Run) (bool, error) {
	if run.RunCheckFailed() {
		run.addConflict(edit.Conflict{
			Type:    edit.ConflictCritical,
			Message: "run check failed; an application that cannot start is never promoted",
		})
		return false, m.reject(run)
	}

	for _, name := range run.ChecksFailed() {
		run.addConflict(edit.Conflict{
			Type:    edit.ConflictCheckFailed,
			Message: fmt.Sprintf("%s check failed; review before relying on this change", name),
		})
	}
	if len(run.ChecksFailed()) > 0 && !m.opts.PromoteOnCheckFailure {
		return false, m.reject(run)
	}

	files := make(map[string]string, len(run.FilesEdited))
	for _, path := range run.FilesEdited {
		files[path] = run.staged[path]
	}

	rec, err := run.record()
	if err != nil {
		return false, fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	if err := m.store.PromoteRun(rec, files); err != nil {
		return false, err
	}
	run.Status = persistence.RunStatusPromoted
	run.Promoted = true
	m.logger.Info("promoted run %s (%d files)", run.ID, len(files))
	return true, nil
}

func (m *Manager) reject(run *Run) error {
	rec, err := run.record()
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	if err := m.store.MarkRunRejected(rec); err != nil {
		return err
	}
	run.Status = persistence.RunStatusRejected
	run.Promoted = false
	return nil
}

// Reject marks a run user-rejected; used by the rollback endpoint. It does
// not revert files.
func (m *Manager) Reject(run *Run) error {
	return m.reject(run)
}

// RecordEditBatch writes an audit row for the edits a run applied. The
// audit trail is analytics-only; undo state never reads it back.
func (m *Manager) RecordEditBatch(run *Run, entries []history.EditEntry) error {
	encoded, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode edit batch for run %s: %w", run.ID, err)
	}
	return m.store.InsertEditBatch(&persistence.EditBatch{
		ID:           uuid.New().String(),
		WorkspaceID:  run.WorkspaceID,
		SandboxRunID: run.ID,
		Entries:      string(encoded),
		CreatedAt:    time.Now().UTC(),
	})
}

// Cleanup removes the staging directory and drops the run from the active
// set. Unpromoted runs keep their staging directory when PreserveFailed
// is set.
func (m *Manager) Cleanup(run *Run) error {
	m.mu.Lock()
	delete(m.active, run.ID)
	m.mu.Unlock()

	if run.stageDir == "" {
		return nil
	}
	if m.opts.PreserveFailed && !run.Promoted {
		m.logger.Debug("preserving staging directory %s for run %s", run.stageDir, run.ID)
		return nil
	}
	if err := os.RemoveAll(run.stageDir); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

func (m *Manager) persist(run *Run) error {
	rec, err := run.record()
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	return m.store.UpdateSandboxRun(rec)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
