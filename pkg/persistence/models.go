package persistence

import "time"

// WorkspaceFile is one file in a workspace's promoted tree.
// Files are keyed by (workspace_id, path); path is always a sanitized
// slash-separated relative path.
type WorkspaceFile struct {
	WorkspaceID string    `json:"workspace_id"`
	Path        string    `json:"path"`
	Content     string    `json:"content"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sandbox run statuses. A run moves forward only: created -> edits_applied
// -> checks_run -> promoted | rejected.
const (
	RunStatusCreated      = "created"
	RunStatusEditsApplied = "edits_applied"
	RunStatusChecksRun    = "checks_run"
	RunStatusPromoted     = "promoted"
	RunStatusRejected     = "rejected"
)

// SandboxRun is the persisted record of one sandboxed change application.
// FilesEdited, Conflicts and CheckResults are stored as JSON blobs; the
// sandbox package owns their concrete shapes and this layer treats them
// as opaque.
type SandboxRun struct {
	ID              string     `json:"id"`
	WorkspaceID     string     `json:"workspace_id"`
	UserID          string     `json:"user_id"`
	Status          string     `json:"status"`
	FilesEdited     string     `json:"files_edited"`  // JSON array of paths
	Conflicts       string     `json:"conflicts"`     // JSON array of conflict objects
	CheckResults    string     `json:"check_results"` // JSON object keyed by check name
	Summary         string     `json:"summary"`
	SecondRunStatus string     `json:"second_run_status,omitempty"`
	Promoted        bool       `json:"promoted"`
	CreatedAt       time.Time  `json:"created_at"`
	PromotedAt      *time.Time `json:"promoted_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
}

// EditBatch is an audit record of one applied batch of edits. Entries is
// the JSON-encoded list of per-file before/after snapshots; the history
// package owns the entry shape.
type EditBatch struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	SandboxRunID string    `json:"sandbox_run_id,omitempty"`
	Entries      string    `json:"entries"`
	CreatedAt    time.Time `json:"created_at"`
}
