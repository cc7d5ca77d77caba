package edit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workbench/pkg/plan"
)

func strPtr(s string) *string { return &s }

func TestCheckBatch_ProtectedPaths(t *testing.T) {
	a := NewApplier(true, nil)

	check := a.CheckBatch([]string{"src/app.ts", ".env.local", "infra/main.tf"}, nil)
	assert.True(t, check.NeedProtectedConfirmation)
	assert.Equal(t, []string{".env.local", "infra/main.tf"}, check.ProtectedPaths)

	// Confirming one path still rejects the other
	check = a.CheckBatch([]string{".env.local", "infra/main.tf"}, []string{".env.local"})
	assert.True(t, check.NeedProtectedConfirmation)
	assert.Equal(t, []string{"infra/main.tf"}, check.ProtectedPaths)

	// All confirmed: batch passes
	check = a.CheckBatch([]string{".env.local", "infra/main.tf"},
		[]string{".env.local", "infra/main.tf"})
	assert.False(t, check.NeedProtectedConfirmation)
	assert.Empty(t, check.ProtectedPaths)
}

func TestCheckBatch_SafeEditModeOff(t *testing.T) {
	a := NewApplier(false, nil)
	check := a.CheckBatch([]string{".env.local"}, nil)
	assert.False(t, check.NeedProtectedConfirmation)
}

func TestApplyStep_FullReplace(t *testing.T) {
	a := NewApplier(true, nil)

	// New file
	res := a.ApplyStep(plan.FileEditStep{Path: "src/a.ts", NewContent: "export const x=1;"}, nil)
	require.True(t, res.Applied)
	assert.Equal(t, "export const x=1;", res.NewContent)
	assert.Nil(t, res.Conflict)
	assert.False(t, res.OverEdit)

	// Existing file: full replace flags an over-edit
	current := "a lot of existing content here"
	res = a.ApplyStep(plan.FileEditStep{Path: "src/a.ts", NewContent: "tiny"}, &current)
	require.True(t, res.Applied)
	assert.Equal(t, "tiny", res.NewContent)
	assert.True(t, res.OverEdit)
	assert.InDelta(t, 1.0, res.ReplacedRatio, 0.001)
}

func TestApplyStep_SnippetReplace(t *testing.T) {
	a := NewApplier(true, nil)
	current := "func main() {\n\tfmt.Println(\"old\")\n}\n"

	res := a.ApplyStep(plan.FileEditStep{
		Path:       "main.go",
		OldContent: strPtr(`fmt.Println("old")`),
		NewContent: `fmt.Println("new")`,
	}, &current)

	require.True(t, res.Applied)
	assert.Equal(t, "func main() {\n\tfmt.Println(\"new\")\n}\n", res.NewContent)
	assert.Nil(t, res.Conflict)
}

func TestApplyStep_SnippetReplacesFirstOccurrenceOnly(t *testing.T) {
	a := NewApplier(false, nil)
	current := "aaa bbb aaa"

	res := a.ApplyStep(plan.FileEditStep{
		Path:       "f.txt",
		OldContent: strPtr("aaa"),
		NewContent: "ccc",
	}, &current)

	require.True(t, res.Applied)
	assert.Equal(t, "ccc bbb aaa", res.NewContent)
}

func TestApplyStep_ContentDriftConflict(t *testing.T) {
	a := NewApplier(true, nil)
	current := "the file now says something else entirely"

	res := a.ApplyStep(plan.FileEditStep{
		Path:       "src/a.ts",
		OldContent: strPtr("original snippet"),
		NewContent: "replacement",
	}, &current)

	assert.False(t, res.Applied)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, ConflictContentMismatch, res.Conflict.Type)
	assert.Equal(t, "src/a.ts", res.Conflict.Path)
	assert.Equal(t, "the file now says something else entirely", current,
		"conflicting step must not modify content")
}

func TestApplyStep_SnippetAgainstMissingFile(t *testing.T) {
	a := NewApplier(true, nil)

	res := a.ApplyStep(plan.FileEditStep{
		Path:       "gone.ts",
		OldContent: strPtr("anything"),
		NewContent: "x",
	}, nil)

	assert.False(t, res.Applied)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, ConflictContentMismatch, res.Conflict.Type)
}

func TestApplyStep_OverEditStillApplied(t *testing.T) {
	a := NewApplier(true, nil)
	current := "0123456789" // snippet below replaces 50% of it

	res := a.ApplyStep(plan.FileEditStep{
		Path:       "f.txt",
		OldContent: strPtr("01234"),
		NewContent: "x",
	}, &current)

	require.True(t, res.Applied, "over-edit is a warning, not a rejection")
	assert.True(t, res.OverEdit)
	assert.Equal(t, "x56789", res.NewContent)
}

func TestApplyStep_OverEditIgnoredOutsideSafeEditMode(t *testing.T) {
	a := NewApplier(false, nil)
	current := "0123456789"

	res := a.ApplyStep(plan.FileEditStep{
		Path:       "f.txt",
		OldContent: strPtr("01234"),
		NewContent: "x",
	}, &current)

	require.True(t, res.Applied)
	assert.False(t, res.OverEdit)
}

func TestOverEditConflictShape(t *testing.T) {
	c := OverEditConflict("src/a.ts", 0.5)
	assert.Equal(t, ConflictOverEdit, c.Type)
	assert.Equal(t, "src/a.ts", c.Path)
	assert.Contains(t, c.Message, "50%")
}
