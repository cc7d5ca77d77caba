package sandbox

import (
	"encoding/json"
	"time"

	"workbench/pkg/edit"
	"workbench/pkg/persistence"
)

// Check statuses recorded per configured check.
const (
	CheckPassed  = "passed"
	CheckFailed  = "failed"
	CheckSkipped = "skipped"
)

// Check names, keyed into CheckResults.
const (
	CheckLint  = "lint"
	CheckTests = "tests"
	CheckRun   = "run"
)

// CheckResult is the outcome of one configured check command.
type CheckResult struct {
	Status     string `json:"status"`
	Command    string `json:"command,omitempty"`
	Output     string `json:"output,omitempty"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// Run is one staged change-application attempt. The manager owns a Run
// exclusively for its lifetime; callers only read it after the manager
// hands it back.
type Run struct {
	ID           string                 `json:"id"`
	WorkspaceID  string                 `json:"workspaceId"`
	UserID       string                 `json:"userId"`
	Status       string                 `json:"status"`
	FilesEdited  []string               `json:"filesEdited"`
	Conflicts    []edit.Conflict        `json:"conflicts"`
	CheckResults map[string]CheckResult `json:"checkResults"`
	Promoted     bool                   `json:"promoted"`
	CreatedAt    time.Time              `json:"createdAt"`

	// Summary is the plan's stated intent, carried onto the persisted row.
	Summary string `json:"summary,omitempty"`

	// SecondRunStatus is the classified outcome of the post-repair re-run,
	// empty when no repair was attempted.
	SecondRunStatus string `json:"secondRunStatus,omitempty"`

	// Staged working copy. Keyed by workspace-relative path; the value is
	// the staged content after edits. Authoritative content stays in the
	// store until promotion.
	staged   map[string]string
	stageDir string
}

// StageDir returns the on-disk staging directory checks execute in.
func (r *Run) StageDir() string { return r.stageDir }

// StagedContent returns the staged content for a path, if present.
func (r *Run) StagedContent(path string) (string, bool) {
	content, ok := r.staged[path]
	return content, ok
}

// addConflict appends a conflict to the run.
func (r *Run) addConflict(c edit.Conflict) {
	r.Conflicts = append(r.Conflicts, c)
}

// RunCheckFailed reports whether the "run" check exists and failed.
// A failed run check always blocks promotion.
func (r *Run) RunCheckFailed() bool {
	res, ok := r.CheckResults[CheckRun]
	return ok && res.Status == CheckFailed
}

// ChecksFailed lists the names of failed checks other than "run".
func (r *Run) ChecksFailed() []string {
	var failed []string
	for _, name := range []string{CheckLint, CheckTests} {
		if res, ok := r.CheckResults[name]; ok && res.Status == CheckFailed {
			failed = append(failed, name)
		}
	}
	return failed
}

// record converts the run into its persisted form. The staged copy is not
// persisted; only metadata and outcomes are.
func (r *Run) record() (*persistence.SandboxRun, error) {
	filesEdited, err := json.Marshal(r.FilesEdited)
	if err != nil {
		return nil, err
	}
	conflicts, err := json.Marshal(r.Conflicts)
	if err != nil {
		return nil, err
	}
	checkResults, err := json.Marshal(r.CheckResults)
	if err != nil {
		return nil, err
	}
	return &persistence.SandboxRun{
		ID:              r.ID,
		WorkspaceID:     r.WorkspaceID,
		UserID:          r.UserID,
		Status:          r.Status,
		FilesEdited:     string(filesEdited),
		Conflicts:       string(conflicts),
		CheckResults:    string(checkResults),
		Summary:         r.Summary,
		SecondRunStatus: r.SecondRunStatus,
		Promoted:        r.Promoted,
		CreatedAt:       r.CreatedAt,
	}, nil
}
