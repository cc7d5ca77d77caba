// Package edit applies single file-edit steps to stored content, detecting
// conflicts and policy violations before anything is written back.
package edit

import (
	"fmt"
	"strings"

	"workbench/pkg/pathsafe"
	"workbench/pkg/plan"
)

// Conflict types attached to sandbox runs and apply responses.
const (
	ConflictContentMismatch = "content_mismatch"
	ConflictOverEdit        = "over_edit"
	ConflictCheckFailed     = "check_failed"
	ConflictCritical        = "critical"
	ConflictStaging         = "staging_error"
)

// Conflict describes why an edit or a check did not land cleanly. Path is
// empty for failures not tied to a specific file, such as staging errors.
type Conflict struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// BatchCheck is the outcome of the pre-apply policy pass over a whole batch.
// When NeedProtectedConfirmation is set the batch must not be applied; the
// caller re-submits with the listed paths confirmed.
type BatchCheck struct {
	NeedProtectedConfirmation bool     `json:"needProtectedConfirmation,omitempty"`
	ProtectedPaths            []string `json:"protectedPaths,omitempty"`
}

// Result is the outcome of applying one FileEditStep.
type Result struct {
	Applied       bool
	NewContent    string
	Conflict      *Conflict
	OverEdit      bool
	ReplacedRatio float64
}

// Applier applies file-edit steps under the protected-path and over-edit
// policy. Safe-edit mode gates the confirmation requirements; with it off,
// protected paths and over-edits pass through unchecked.
type Applier struct {
	safeEditMode      bool
	protectedPatterns []string
}

// NewApplier creates an Applier. Empty patterns fall back to the default
// protected set.
func NewApplier(safeEditMode bool, protectedPatterns []string) *Applier {
	if len(protectedPatterns) == 0 {
		protectedPatterns = pathsafe.DefaultProtectedPatterns()
	}
	return &Applier{
		safeEditMode:      safeEditMode,
		protectedPatterns: protectedPatterns,
	}
}

// CheckBatch runs the protected-path policy over every edited path before
// any step is applied. Paths already confirmed by the caller are exempt.
// The whole batch is rejected as a unit when any unconfirmed protected path
// is present, so a plan never lands partially.
func (a *Applier) CheckBatch(paths []string, confirmedPaths []string) BatchCheck {
	if !a.safeEditMode {
		return BatchCheck{}
	}

	confirmed := make(map[string]struct{}, len(confirmedPaths))
	for _, p := range confirmedPaths {
		confirmed[p] = struct{}{}
	}

	var offending []string
	for _, p := range pathsafe.ProtectedPaths(paths, a.protectedPatterns) {
		if _, ok := confirmed[p]; !ok {
			offending = append(offending, p)
		}
	}
	if len(offending) == 0 {
		return BatchCheck{}
	}
	return BatchCheck{
		NeedProtectedConfirmation: true,
		ProtectedPaths:            offending,
	}
}

// ApplyStep applies one edit step to the current stored content. current is
// nil when the file does not exist yet.
//
// With oldContent present, the step is an exact-snippet replace: the snippet
// must occur in the current content or the step reports a conflict and does
// not apply. Without oldContent the step is a full replace. An over-edit is
// flagged but still applied; callers surface it as a warning.
func (a *Applier) ApplyStep(step plan.FileEditStep, current *string) Result {
	if step.OldContent != nil {
		return a.applySnippet(step, current)
	}
	return a.applyReplace(step, current)
}

func (a *Applier) applySnippet(step plan.FileEditStep, current *string) Result {
	if current == nil {
		return Result{Conflict: &Conflict{
			Path:    step.Path,
			Type:    ConflictContentMismatch,
			Message: fmt.Sprintf("file %s does not exist but the edit expects existing content", step.Path),
		}}
	}
	old := *step.OldContent
	if !strings.Contains(*current, old) {
		return Result{Conflict: &Conflict{
			Path:    step.Path,
			Type:    ConflictContentMismatch,
			Message: fmt.Sprintf("content of %s has changed since the plan was generated", step.Path),
		}}
	}

	res := Result{
		Applied:    true,
		NewContent: strings.Replace(*current, old, step.NewContent, 1),
	}
	if a.safeEditMode {
		check := pathsafe.CheckOverEdit(len(*current), len(old), len(step.NewContent))
		res.OverEdit = check.OverEdit
		res.ReplacedRatio = check.ReplacedRatio
	}
	return res
}

func (a *Applier) applyReplace(step plan.FileEditStep, current *string) Result {
	res := Result{
		Applied:    true,
		NewContent: step.NewContent,
	}
	if a.safeEditMode && current != nil {
		// A full replace of an existing file rewrites all of it.
		check := pathsafe.CheckOverEdit(len(*current), len(*current), len(step.NewContent))
		res.OverEdit = check.OverEdit
		res.ReplacedRatio = check.ReplacedRatio
	}
	return res
}

// OverEditConflict builds the warning conflict for a flagged over-edit.
func OverEditConflict(path string, ratio float64) Conflict {
	return Conflict{
		Path:    path,
		Type:    ConflictOverEdit,
		Message: fmt.Sprintf("edit replaces %.0f%% of %s; confirm before relying on it", ratio*100, path),
	}
}
