package agent

import (
	"context"
	"errors"

	"workbench/pkg/plan"
)

// MockProposer returns canned plans; used in tests and local development
// without an API key.
type MockProposer struct {
	Plan      *plan.Plan
	Repair    *plan.Plan
	Err       error
	PlanReqs  []PlanRequest
	RepairReq []RepairRequest
}

// ProposePlan implements Proposer.
func (m *MockProposer) ProposePlan(_ context.Context, req PlanRequest) (*plan.Plan, error) {
	m.PlanReqs = append(m.PlanReqs, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Plan == nil {
		return nil, errors.New("no plan configured")
	}
	return m.Plan, nil
}

// ProposeRepair implements Proposer.
func (m *MockProposer) ProposeRepair(_ context.Context, req RepairRequest) (*plan.Plan, error) {
	m.RepairReq = append(m.RepairReq, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Repair == nil {
		return nil, errors.New("no repair plan configured")
	}
	return m.Repair, nil
}
