package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides methods for database operations. All writes go through
// the single SQLite writer connection configured by InitializeDatabase.
type Store struct {
	db *sql.DB
}

// NewStore creates a new Store backed by the given database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetFile returns a workspace file by path.
// Returns ErrNotFound if the file does not exist.
func (s *Store) GetFile(workspaceID, path string) (*WorkspaceFile, error) {
	var f WorkspaceFile
	err := s.db.QueryRow(
		`SELECT workspace_id, path, content, updated_at FROM workspace_files
		 WHERE workspace_id = ? AND path = ?`,
		workspaceID, path,
	).Scan(&f.WorkspaceID, &f.Path, &f.Content, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}
	return &f, nil
}

// PutFile inserts or replaces a single workspace file.
func (s *Store) PutFile(workspaceID, path, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO workspace_files (workspace_id, path, content, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(workspace_id, path) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		workspaceID, path, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put file %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a workspace file. Deleting a missing file is not an
// error; undo of a file creation must be idempotent.
func (s *Store) DeleteFile(workspaceID, path string) error {
	_, err := s.db.Exec(
		`DELETE FROM workspace_files WHERE workspace_id = ? AND path = ?`,
		workspaceID, path,
	)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// ListFiles returns all files in a workspace ordered by path.
func (s *Store) ListFiles(workspaceID string) ([]*WorkspaceFile, error) {
	rows, err := s.db.Query(
		`SELECT workspace_id, path, content, updated_at FROM workspace_files
		 WHERE workspace_id = ? ORDER BY path`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*WorkspaceFile
	for rows.Next() {
		var f WorkspaceFile
		if err := rows.Scan(&f.WorkspaceID, &f.Path, &f.Content, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file rows: %w", err)
	}
	return files, nil
}

// InsertSandboxRun stores a new sandbox run record.
func (s *Store) InsertSandboxRun(run *SandboxRun) error {
	_, err := s.db.Exec(
		`INSERT INTO sandbox_runs
			(id, workspace_id, user_id, status, files_edited, conflicts,
			 check_results, summary, second_run_status, promoted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkspaceID, run.UserID, run.Status,
		orDefault(run.FilesEdited, "[]"), orDefault(run.Conflicts, "[]"),
		orDefault(run.CheckResults, "{}"), run.Summary, run.SecondRunStatus,
		run.Promoted, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sandbox run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateSandboxRun updates the mutable fields of an existing run.
func (s *Store) UpdateSandboxRun(run *SandboxRun) error {
	res, err := s.db.Exec(
		`UPDATE sandbox_runs SET
			status = ?, files_edited = ?, conflicts = ?, check_results = ?,
			summary = ?, second_run_status = ?, promoted = ?,
			promoted_at = ?, rejected_at = ?
		 WHERE id = ?`,
		run.Status, orDefault(run.FilesEdited, "[]"), orDefault(run.Conflicts, "[]"),
		orDefault(run.CheckResults, "{}"), run.Summary, run.SecondRunStatus,
		run.Promoted, run.PromotedAt, run.RejectedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sandbox run %s: %w", run.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of run %s: %w", run.ID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSandboxRun returns a run by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetSandboxRun(id string) (*SandboxRun, error) {
	var run SandboxRun
	err := s.db.QueryRow(
		`SELECT id, workspace_id, user_id, status, files_edited, conflicts,
			check_results, summary, second_run_status, promoted,
			created_at, promoted_at, rejected_at
		 FROM sandbox_runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.WorkspaceID, &run.UserID, &run.Status,
		&run.FilesEdited, &run.Conflicts, &run.CheckResults,
		&run.Summary, &run.SecondRunStatus, &run.Promoted,
		&run.CreatedAt, &run.PromotedAt, &run.RejectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sandbox run %s: %w", id, err)
	}
	return &run, nil
}

// ListSandboxRuns returns the most recent runs for a workspace, newest first.
func (s *Store) ListSandboxRuns(workspaceID string, limit int) ([]*SandboxRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, workspace_id, user_id, status, files_edited, conflicts,
			check_results, summary, second_run_status, promoted,
			created_at, promoted_at, rejected_at
		 FROM sandbox_runs WHERE workspace_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		workspaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*SandboxRun
	for rows.Next() {
		var run SandboxRun
		if err := rows.Scan(&run.ID, &run.WorkspaceID, &run.UserID, &run.Status,
			&run.FilesEdited, &run.Conflicts, &run.CheckResults,
			&run.Summary, &run.SecondRunStatus, &run.Promoted,
			&run.CreatedAt, &run.PromotedAt, &run.RejectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	return runs, nil
}

// PromoteRun writes every staged file into the workspace tree and marks the
// run promoted, in a single transaction. Either all files land and the run
// flips to promoted, or nothing changes.
func (s *Store) PromoteRun(run *SandboxRun, files map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin promotion transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for path, content := range files {
		if _, err := tx.Exec(
			`INSERT INTO workspace_files (workspace_id, path, content, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(workspace_id, path) DO UPDATE SET
				content = excluded.content,
				updated_at = excluded.updated_at`,
			run.WorkspaceID, path, content, now,
		); err != nil {
			return fmt.Errorf("failed to promote file %s: %w", path, err)
		}
	}

	run.Status = RunStatusPromoted
	run.Promoted = true
	run.PromotedAt = &now
	if _, err := tx.Exec(
		`UPDATE sandbox_runs SET
			status = ?, files_edited = ?, conflicts = ?, check_results = ?,
			summary = ?, second_run_status = ?, promoted = 1, promoted_at = ?
		 WHERE id = ?`,
		run.Status, orDefault(run.FilesEdited, "[]"), orDefault(run.Conflicts, "[]"),
		orDefault(run.CheckResults, "{}"), run.Summary, run.SecondRunStatus,
		now, run.ID,
	); err != nil {
		return fmt.Errorf("failed to mark run %s promoted: %w", run.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit promotion: %w", err)
	}
	return nil
}

// MarkRunRejected flips a run to rejected and stamps the rejection time.
func (s *Store) MarkRunRejected(run *SandboxRun) error {
	now := time.Now().UTC()
	run.Status = RunStatusRejected
	run.Promoted = false
	run.RejectedAt = &now
	return s.UpdateSandboxRun(run)
}

// InsertEditBatch stores an audit record for one applied edit batch.
func (s *Store) InsertEditBatch(batch *EditBatch) error {
	_, err := s.db.Exec(
		`INSERT INTO edit_batches (id, workspace_id, sandbox_run_id, entries, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		batch.ID, batch.WorkspaceID, batch.SandboxRunID, batch.Entries, batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert edit batch %s: %w", batch.ID, err)
	}
	return nil
}

// ListEditBatches returns the most recent edit batches for a workspace, newest first.
func (s *Store) ListEditBatches(workspaceID string, limit int) ([]*EditBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, workspace_id, sandbox_run_id, entries, created_at
		 FROM edit_batches WHERE workspace_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		workspaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list edit batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []*EditBatch
	for rows.Next() {
		var b EditBatch
		if err := rows.Scan(&b.ID, &b.WorkspaceID, &b.SandboxRunID, &b.Entries, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edit batch row: %w", err)
		}
		batches = append(batches, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate edit batch rows: %w", err)
	}
	return batches, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
