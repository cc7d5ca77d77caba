// Package engine orchestrates plan execution: it walks a plan's steps,
// applies edits through the sandbox, executes commands, classifies
// outcomes, and drives the single bounded self-repair attempt.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"workbench/pkg/agent"
	"workbench/pkg/classify"
	"workbench/pkg/config"
	"workbench/pkg/edit"
	"workbench/pkg/exec"
	"workbench/pkg/history"
	"workbench/pkg/logx"
	"workbench/pkg/metrics"
	"workbench/pkg/plan"
	"workbench/pkg/repairscope"
	"workbench/pkg/sandbox"
)

// Step statuses recorded in the execution log.
const (
	StepOK      = "ok"
	StepSkipped = "skipped"
	StepError   = "error"
)

// LogEntry is one line of the per-step execution log returned to callers.
type LogEntry struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	StatusLine string `json:"statusLine"`
}

// Request is one plan execution against a workspace.
type Request struct {
	WorkspaceID             string
	UserID                  string
	Plan                    *plan.Plan
	ConfirmedProtectedPaths []string
}

// Result is the outcome of one plan execution.
type Result struct {
	NeedProtectedConfirmation bool                           `json:"needProtectedConfirmation,omitempty"`
	ProtectedPaths            []string                       `json:"protectedPaths,omitempty"`
	Success                   bool                           `json:"success"`
	Promoted                  bool                           `json:"promoted"`
	FilesEdited               []string                       `json:"filesEdited"`
	Log                       []LogEntry                     `json:"log"`
	Conflicts                 []edit.Conflict                `json:"conflicts"`
	SandboxRunID              string                         `json:"sandboxRunId,omitempty"`
	SandboxChecks             map[string]sandbox.CheckResult `json:"sandboxChecks,omitempty"`
	SecondRunStatus           string                         `json:"secondRunStatus,omitempty"`
}

// StackResolver returns the check configuration for a workspace. Returning
// false means no stack is configured and all checks are skipped.
type StackResolver func(workspaceID string) (config.WorkspaceStack, bool)

// Options configures the engine.
type Options struct {
	// RepairEnabled allows the single self-repair attempt on a failed
	// test command.
	RepairEnabled bool

	// CommandTimeout bounds each plan command. Zero means the executor
	// default.
	CommandTimeout time.Duration

	// Allowlist, when non-nil, restricts plan commands.
	Allowlist []string
}

// Engine executes plans. One engine serves all workspaces; per-run state
// lives in the sandbox manager.
type Engine struct {
	sandbox  *sandbox.Manager
	executor exec.Executor
	proposer agent.Proposer
	history  *history.Service
	stacks   StackResolver
	recorder metrics.Recorder
	logger   *logx.Logger
	opts     Options
}

// New creates an engine. recorder may be nil, in which case metrics are
// discarded.
func New(sb *sandbox.Manager, executor exec.Executor, proposer agent.Proposer,
	hist *history.Service, stacks StackResolver, recorder metrics.Recorder, opts Options) *Engine {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	if stacks == nil {
		stacks = func(string) (config.WorkspaceStack, bool) { return config.WorkspaceStack{}, false }
	}
	return &Engine{
		sandbox:  sb,
		executor: executor,
		proposer: proposer,
		history:  hist,
		stacks:   stacks,
		recorder: recorder,
		logger:   logx.NewLogger("engine"),
		opts:     opts,
	}
}

// ExecutePlan runs a validated plan against a workspace. Steps execute
// sequentially in plan order; a failed test command triggers at most one
// self-repair attempt restricted to the failure's repair scope.
func (e *Engine) ExecutePlan(ctx context.Context, req Request) (*Result, error) {
	if req.Plan == nil || len(req.Plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	// Reject the whole batch up front if unconfirmed protected paths are
	// touched anywhere in the plan. This is a normal branching outcome,
	// not an error.
	if check := e.sandbox.CheckProtected(req.Plan.EditPaths(), req.ConfirmedProtectedPaths); check.NeedProtectedConfirmation {
		return &Result{
			NeedProtectedConfirmation: true,
			ProtectedPaths:            check.ProtectedPaths,
		}, nil
	}

	run, err := e.sandbox.CreateRun(ctx, req.WorkspaceID, req.UserID)
	if err != nil {
		return nil, err
	}
	run.Summary = req.Plan.Summary
	defer func() {
		if cleanupErr := e.sandbox.Cleanup(run); cleanupErr != nil {
			e.logger.Warn("cleanup of run %s failed: %v", run.ID, cleanupErr)
		}
	}()

	stack, _ := e.stacks(req.WorkspaceID)

	exe := &execution{
		engine:    e,
		run:       run,
		stack:     stack,
		confirmed: req.ConfirmedProtectedPaths,
	}
	for _, step := range req.Plan.Steps {
		if err := exe.runStep(ctx, step); err != nil {
			return nil, err
		}
	}

	run.SecondRunStatus = exe.secondRunStatus
	if err := e.sandbox.RunChecks(ctx, run, stack); err != nil {
		return nil, err
	}
	promoted, err := e.sandbox.Finalize(run)
	if err != nil {
		return nil, err
	}
	e.recorder.ObservePromotion(req.WorkspaceID, promoted)

	if e.history != nil && len(exe.entries) > 0 && promoted {
		e.history.Push(req.WorkspaceID, history.EditBatch{Entries: exe.entries})
		if auditErr := e.sandbox.RecordEditBatch(run, exe.entries); auditErr != nil {
			e.logger.Warn("edit batch audit for run %s failed: %v", run.ID, auditErr)
		}
	}

	return &Result{
		Success:         promoted,
		Promoted:        promoted,
		FilesEdited:     run.FilesEdited,
		Log:             exe.log,
		Conflicts:       run.Conflicts,
		SandboxRunID:    run.ID,
		SandboxChecks:   run.CheckResults,
		SecondRunStatus: exe.secondRunStatus,
	}, nil
}

// execution carries the per-plan mutable state while steps run.
type execution struct {
	engine    *Engine
	run       *sandbox.Run
	stack     config.WorkspaceStack
	confirmed []string

	log             []LogEntry
	entries         []history.EditEntry
	repairAttempted bool
	secondRunStatus string
}

func (x *execution) logStep(step plan.Step, status, statusLine string) {
	x.log = append(x.log, LogEntry{
		Step:       step.Describe(),
		Status:     status,
		StatusLine: statusLine,
	})
	x.engine.recorder.ObserveStep(string(step.Type()), status)
}

func (x *execution) runStep(ctx context.Context, step plan.Step) error {
	switch s := step.(type) {
	case plan.FileEditStep:
		return x.runEditStep(s)
	case plan.CommandStep:
		return x.runCommandStep(ctx, s)
	default:
		x.logStep(step, StepSkipped, fmt.Sprintf("unknown step type %s", step.Type()))
		return nil
	}
}

func (x *execution) runEditStep(step plan.FileEditStep) error {
	before := len(x.run.Conflicts)
	_, entries, err := x.engine.sandbox.ApplyEdits(x.run, []plan.FileEditStep{step}, x.confirmed)
	if err != nil {
		return err
	}
	x.entries = append(x.entries, entries...)

	if len(entries) == 0 && len(x.run.Conflicts) > before {
		conflict := x.run.Conflicts[len(x.run.Conflicts)-1]
		x.logStep(step, StepError, conflict.Message)
		return nil
	}
	x.logStep(step, StepOK, fmt.Sprintf("edited %s", step.Path))
	return nil
}

func (x *execution) runCommandStep(ctx context.Context, step plan.CommandStep) error {
	kind := classify.CommandKind(step.Command)
	result := x.execCommand(ctx, step.Command)
	status, summary := classify.CommandResult(result)
	x.engine.recorder.ObserveCommand(string(kind), string(status), result.Duration)

	if status == classify.StatusSuccess {
		x.logStep(step, StepOK, summary)
		return nil
	}
	x.logStep(step, StepError, summary)

	// One bounded repair attempt, only for failing test commands.
	if kind == classify.KindTest && status == classify.StatusFailed &&
		x.engine.opts.RepairEnabled && !x.repairAttempted {
		x.repairAttempted = true
		x.attemptRepair(ctx, step, result)
	}
	return nil
}

func (x *execution) execCommand(ctx context.Context, command string) exec.Result {
	workDir := x.run.StageDir()
	if x.stack.Root != "" {
		workDir = filepath.Join(workDir, filepath.FromSlash(x.stack.Root))
	}
	result, err := x.engine.executor.RunShell(ctx, command, &exec.Opts{
		WorkDir:   workDir,
		Timeout:   x.engine.opts.CommandTimeout,
		Allowlist: x.engine.opts.Allowlist,
	})
	if err != nil {
		return exec.Result{ErrorMessage: err.Error()}
	}
	return result
}

// attemptRepair asks the collaborator for a fix scoped to the failure,
// applies only in-scope edits, and re-runs the failed command once. It
// never fails the surrounding plan; a broken repair leaves the original
// failure in place.
func (x *execution) attemptRepair(ctx context.Context, step plan.CommandStep, result exec.Result) {
	e := x.engine
	execErr := classify.ExecutionErrorFrom(result.Stderr, result.Stdout, result.ExitCode)
	scope := repairscope.Build(step.Command, result.Stderr, result.Stdout, repairscope.Options{
		FailingFile: execErr.FailingFile,
	})

	files := make(map[string]string)
	for _, path := range scope.Paths() {
		if content, ok := x.run.StagedContent(path); ok {
			files[path] = content
		}
	}

	repairPlan, err := e.proposer.ProposeRepair(ctx, agent.RepairRequest{
		Command: step.Command,
		Stderr:  result.Stderr,
		Stdout:  result.Stdout,
		ExecErr: execErr,
		Scope:   scope,
		Files:   files,
	})
	if err != nil {
		e.logger.Warn("repair proposal failed: %v", err)
		e.recorder.ObserveRepair("proposal_failed")
		x.log = append(x.log, LogEntry{
			Step:       "self-repair",
			Status:     StepError,
			StatusLine: fmt.Sprintf("repair proposal failed: %v", err),
		})
		return
	}

	// Scope is a hard lock: out-of-scope edits are dropped, not applied.
	var allowed []plan.FileEditStep
	for _, repairStep := range repairPlan.Steps {
		editStep, ok := repairStep.(plan.FileEditStep)
		if !ok {
			// Repair plans may only edit files; proposed commands are
			// ignored.
			continue
		}
		if !scope.Empty() && !scope.Contains(editStep.Path) {
			e.logger.Warn("repair edit to %s rejected: outside repair scope", editStep.Path)
			x.log = append(x.log, LogEntry{
				Step:       fmt.Sprintf("repair edit %s", editStep.Path),
				Status:     StepSkipped,
				StatusLine: fmt.Sprintf("rejected: %s is outside the repair scope", editStep.Path),
			})
			continue
		}
		allowed = append(allowed, editStep)
	}

	if len(allowed) > 0 {
		_, entries, applyErr := e.sandbox.ApplyEdits(x.run, allowed, x.confirmed)
		if applyErr != nil {
			e.logger.Warn("repair apply failed: %v", applyErr)
			e.recorder.ObserveRepair("apply_failed")
			return
		}
		x.entries = append(x.entries, entries...)
		for _, editStep := range allowed {
			x.log = append(x.log, LogEntry{
				Step:       fmt.Sprintf("repair edit %s", editStep.Path),
				Status:     StepOK,
				StatusLine: fmt.Sprintf("edited %s", editStep.Path),
			})
		}
	}

	// Re-run the failed command exactly once.
	second := x.execCommand(ctx, step.Command)
	secondStatus, secondSummary := classify.CommandResult(second)
	x.secondRunStatus = string(secondStatus)
	status := StepError
	outcome := "failed"
	if secondStatus == classify.StatusSuccess {
		status = StepOK
		outcome = "recovered"
	}
	e.recorder.ObserveRepair(outcome)
	x.log = append(x.log, LogEntry{
		Step:       fmt.Sprintf("re-run %s", step.Command),
		Status:     status,
		StatusLine: secondSummary,
	})
}
