package persistence

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Helper function to create a new store for each test.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := InitializeDatabase(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db)
}

func TestInitializeDatabase_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := InitializeDatabase(dbPath)
	if err != nil {
		t.Fatalf("First initialize failed: %v", err)
	}
	db.Close()

	db, err = InitializeDatabase(dbPath)
	if err != nil {
		t.Fatalf("Second initialize failed: %v", err)
	}
	defer db.Close()

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, version)
	}
}

func TestWorkspaceFileOperations(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.GetFile("ws1", "src/app.ts"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing file, got %v", err)
	}

	if err := store.PutFile("ws1", "src/app.ts", "console.log('hi')"); err != nil {
		t.Fatalf("Failed to put file: %v", err)
	}

	f, err := store.GetFile("ws1", "src/app.ts")
	if err != nil {
		t.Fatalf("Failed to get file: %v", err)
	}
	if f.Content != "console.log('hi')" {
		t.Errorf("Expected stored content, got %q", f.Content)
	}

	// Upsert replaces content
	if err := store.PutFile("ws1", "src/app.ts", "console.log('bye')"); err != nil {
		t.Fatalf("Failed to replace file: %v", err)
	}
	f, err = store.GetFile("ws1", "src/app.ts")
	if err != nil {
		t.Fatalf("Failed to get replaced file: %v", err)
	}
	if f.Content != "console.log('bye')" {
		t.Errorf("Expected replaced content, got %q", f.Content)
	}

	// Same path in another workspace is independent
	if _, err := store.GetFile("ws2", "src/app.ts"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound in other workspace, got %v", err)
	}

	if err := store.PutFile("ws1", "README.md", "# hello"); err != nil {
		t.Fatalf("Failed to put second file: %v", err)
	}
	files, err := store.ListFiles("ws1")
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if files[0].Path != "README.md" || files[1].Path != "src/app.ts" {
		t.Errorf("Expected files ordered by path, got %q, %q", files[0].Path, files[1].Path)
	}
}

func TestSandboxRunLifecycle(t *testing.T) {
	store := createTestStore(t)

	run := &SandboxRun{
		ID:          uuid.New().String(),
		WorkspaceID: "ws1",
		UserID:      "user1",
		Status:      RunStatusCreated,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertSandboxRun(run); err != nil {
		t.Fatalf("Failed to insert run: %v", err)
	}

	got, err := store.GetSandboxRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Status != RunStatusCreated {
		t.Errorf("Expected status created, got %q", got.Status)
	}
	if got.FilesEdited != "[]" || got.Conflicts != "[]" || got.CheckResults != "{}" {
		t.Errorf("Expected empty JSON defaults, got %q %q %q",
			got.FilesEdited, got.Conflicts, got.CheckResults)
	}

	run.Status = RunStatusChecksRun
	run.FilesEdited = `["src/app.ts"]`
	run.CheckResults = `{"lint":{"status":"success"}}`
	if err := store.UpdateSandboxRun(run); err != nil {
		t.Fatalf("Failed to update run: %v", err)
	}

	got, err = store.GetSandboxRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get updated run: %v", err)
	}
	if got.Status != RunStatusChecksRun || got.FilesEdited != `["src/app.ts"]` {
		t.Errorf("Update not persisted: %+v", got)
	}

	if _, err := store.GetSandboxRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing run, got %v", err)
	}
	if err := store.UpdateSandboxRun(&SandboxRun{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing run, got %v", err)
	}
}

func TestPromoteRun_SingleTransaction(t *testing.T) {
	store := createTestStore(t)

	if err := store.PutFile("ws1", "src/app.ts", "old"); err != nil {
		t.Fatalf("Failed to seed file: %v", err)
	}

	run := &SandboxRun{
		ID:          uuid.New().String(),
		WorkspaceID: "ws1",
		UserID:      "user1",
		Status:      RunStatusChecksRun,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertSandboxRun(run); err != nil {
		t.Fatalf("Failed to insert run: %v", err)
	}

	files := map[string]string{
		"src/app.ts":   "new",
		"src/other.ts": "added",
	}
	if err := store.PromoteRun(run, files); err != nil {
		t.Fatalf("Failed to promote run: %v", err)
	}

	got, err := store.GetSandboxRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get promoted run: %v", err)
	}
	if got.Status != RunStatusPromoted || !got.Promoted {
		t.Errorf("Expected promoted run, got status %q promoted=%v", got.Status, got.Promoted)
	}
	if got.PromotedAt == nil {
		t.Error("Expected promoted_at to be set")
	}

	f, err := store.GetFile("ws1", "src/app.ts")
	if err != nil {
		t.Fatalf("Failed to get promoted file: %v", err)
	}
	if f.Content != "new" {
		t.Errorf("Expected promoted content, got %q", f.Content)
	}
	if _, err := store.GetFile("ws1", "src/other.ts"); err != nil {
		t.Errorf("Expected new file to exist after promotion: %v", err)
	}
}

func TestMarkRunRejected(t *testing.T) {
	store := createTestStore(t)

	run := &SandboxRun{
		ID:          uuid.New().String(),
		WorkspaceID: "ws1",
		UserID:      "user1",
		Status:      RunStatusChecksRun,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertSandboxRun(run); err != nil {
		t.Fatalf("Failed to insert run: %v", err)
	}

	if err := store.MarkRunRejected(run); err != nil {
		t.Fatalf("Failed to reject run: %v", err)
	}

	got, err := store.GetSandboxRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get rejected run: %v", err)
	}
	if got.Status != RunStatusRejected || got.Promoted {
		t.Errorf("Expected rejected run, got status %q promoted=%v", got.Status, got.Promoted)
	}
	if got.RejectedAt == nil {
		t.Error("Expected rejected_at to be set")
	}
}

func TestListSandboxRuns_NewestFirst(t *testing.T) {
	store := createTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		run := &SandboxRun{
			ID:          uuid.New().String(),
			WorkspaceID: "ws1",
			UserID:      "user1",
			Status:      RunStatusCreated,
			Summary:     string(rune('a' + i)),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertSandboxRun(run); err != nil {
			t.Fatalf("Failed to insert run %d: %v", i, err)
		}
	}

	runs, err := store.ListSandboxRuns("ws1", 2)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].Summary != "c" || runs[1].Summary != "b" {
		t.Errorf("Expected newest first, got %q, %q", runs[0].Summary, runs[1].Summary)
	}
}

func TestEditBatchAudit(t *testing.T) {
	store := createTestStore(t)

	batch := &EditBatch{
		ID:          uuid.New().String(),
		WorkspaceID: "ws1",
		Entries:     `[{"path":"src/app.ts","oldContent":"a","newContent":"b"}]`,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertEditBatch(batch); err != nil {
		t.Fatalf("Failed to insert edit batch: %v", err)
	}

	batches, err := store.ListEditBatches("ws1", 0)
	if err != nil {
		t.Fatalf("Failed to list edit batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if batches[0].Entries != batch.Entries {
		t.Errorf("Expected stored entries, got %q", batches[0].Entries)
	}
}
