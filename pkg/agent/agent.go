// Package agent is the boundary to the edit-proposing LLM collaborator.
// Everything past the Proposer interface is a black box that returns a
// plan; callers never see raw model output.
package agent

import (
	"context"

	"workbench/pkg/classify"
	"workbench/pkg/plan"
	"workbench/pkg/repairscope"
)

// PlanRequest asks the collaborator for a fresh edit plan.
type PlanRequest struct {
	// Instruction is the user's natural-language request.
	Instruction string

	// Files maps workspace-relative paths to current content for the
	// files the caller considers relevant context.
	Files map[string]string
}

// RepairRequest asks the collaborator to fix a failing command. The
// returned plan is constrained to Scope by the orchestrator; the scope is
// also passed here so the prompt can steer the model toward it.
type RepairRequest struct {
	Command string
	Stderr  string
	Stdout  string
	ExecErr classify.ExecutionError
	Scope   repairscope.Scope
	Files   map[string]string
}

// Proposer produces validated plans. Implementations must return only
// plans that passed plan.Parse; malformed model output is an error, never
// a partial plan.
type Proposer interface {
	ProposePlan(ctx context.Context, req PlanRequest) (*plan.Plan, error)
	ProposeRepair(ctx context.Context, req RepairRequest) (*plan.Plan, error)
}
