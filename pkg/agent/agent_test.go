package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workbench/pkg/classify"
	"workbench/pkg/plan"
	"workbench/pkg/repairscope"
)

func TestParsePlanResponse_PlainJSON(t *testing.T) {
	p, err := parsePlanResponse(`{"steps":[{"type":"command","command":"npm test"}],"summary":"run tests"}`)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, plan.StepTypeCommand, p.Steps[0].Type())
	assert.Equal(t, "run tests", p.Summary)
}

func TestParsePlanResponse_SurroundingProse(t *testing.T) {
	text := "Here is the plan:\n```json\n" +
		`{"steps":[{"type":"file_edit","path":"src/a.ts","newContent":"export const x=1;"}]}` +
		"\n```\nLet me know if that works."
	p, err := parsePlanResponse(text)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	edit, ok := p.Steps[0].(plan.FileEditStep)
	require.True(t, ok)
	assert.Equal(t, "src/a.ts", edit.Path)
}

func TestParsePlanResponse_NoJSON(t *testing.T) {
	_, err := parsePlanResponse("I cannot help with that.")
	assert.ErrorContains(t, err, "no JSON object")
}

func TestParsePlanResponse_InvalidPlan(t *testing.T) {
	_, err := parsePlanResponse(`{"steps":[{"type":"teleport"}]}`)
	assert.ErrorContains(t, err, "invalid plan")
}

func TestTokenCounter_Count(t *testing.T) {
	tc := NewTokenCounter()
	assert.Equal(t, 0, tc.Count(""))
	assert.Greater(t, tc.Count("hello world, this is a test"), 0)
}

func TestTokenCounter_TruncateHead(t *testing.T) {
	tc := NewTokenCounter()

	short := "one line of output"
	assert.Equal(t, short, tc.TruncateHead(short, 1000))

	long := strings.Repeat("some noisy build output line\n", 500) + "TypeError: at the very end"
	truncated := tc.TruncateHead(long, 50)
	assert.LessOrEqual(t, tc.Count(truncated), 51, "allowing for the ellipsis marker")
	assert.True(t, strings.HasPrefix(truncated, "..."))
	assert.Contains(t, truncated, "TypeError: at the very end", "the tail must survive")
}

func TestRepairPromptIncludesClassification(t *testing.T) {
	p := &ClaudeProposer{tokens: NewTokenCounter()}

	scope := repairscope.Build("node src/app.ts", "at src/app.ts:10:15", "", repairscope.Options{})
	prompt := p.repairPrompt(RepairRequest{
		Command: "node src/app.ts",
		Stderr:  "Cannot find module 'left-pad'",
		ExecErr: classify.ExecutionError{
			Type:              classify.ErrModuleNotFound,
			MissingDependency: "left-pad",
		},
		Scope: scope,
	})

	assert.Contains(t, prompt, "The command `node src/app.ts` failed.")
	assert.Contains(t, prompt, "Failure classification: MODULE_NOT_FOUND")
	assert.Contains(t, prompt, "Missing dependency: left-pad")
	assert.Contains(t, prompt, "src/app.ts")
}

func TestWriteFilesDeterministicAndBudgeted(t *testing.T) {
	p := &ClaudeProposer{tokens: NewTokenCounter()}

	var b strings.Builder
	p.writeFiles(&b, map[string]string{
		"b.ts": "export const b = 2;",
		"a.ts": "export const a = 1;",
	})
	out := b.String()
	assert.Less(t, strings.Index(out, "a.ts"), strings.Index(out, "b.ts"),
		"files are emitted in sorted order")
	assert.Contains(t, out, "export const a = 1;")
}
