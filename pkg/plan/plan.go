// Package plan defines the edit plan proposed by the LLM collaborator: an
// ordered sequence of file-edit and command steps. Plans arrive as tagged
// JSON unions and are validated strictly at parse time; downstream code never
// branches on untyped shape, and a malformed plan is rejected before any step
// executes.
package plan

import (
	"encoding/json"
	"fmt"

	"workbench/pkg/pathsafe"
)

// StepType tags the two step variants on the wire.
type StepType string

const (
	StepTypeFileEdit StepType = "file_edit"
	StepTypeCommand  StepType = "command"
)

// Step is one unit of work in a plan: either a FileEditStep or a CommandStep.
type Step interface {
	Type() StepType
	// Describe returns a short human-readable line for execution logs.
	Describe() string
}

// FileEditStep replaces file content. When OldContent is set the edit is an
// exact-snippet replace and the stored content must still match it; when nil
// the edit is a full replace. Path is always sanitized and workspace-relative.
type FileEditStep struct {
	Path        string  `json:"path"`
	OldContent  *string `json:"oldContent,omitempty"`
	NewContent  string  `json:"newContent"`
	Description string  `json:"description,omitempty"`
}

// Type implements Step.
func (s FileEditStep) Type() StepType { return StepTypeFileEdit }

// Describe implements Step.
func (s FileEditStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("edit %s", s.Path)
}

// CommandStep runs a shell command in the workspace.
type CommandStep struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// Type implements Step.
func (s CommandStep) Type() StepType { return StepTypeCommand }

// Describe implements Step.
func (s CommandStep) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("run %s", s.Command)
}

// Plan is an ordered sequence of steps plus an optional summary.
type Plan struct {
	Steps   []Step
	Summary string
}

// wireStep is the raw tagged-union shape used for decoding.
type wireStep struct {
	Type        string  `json:"type"`
	Path        string  `json:"path,omitempty"`
	OldContent  *string `json:"oldContent,omitempty"`
	NewContent  *string `json:"newContent,omitempty"`
	Command     string  `json:"command,omitempty"`
	Description string  `json:"description,omitempty"`
}

type wirePlan struct {
	Steps   []wireStep `json:"steps"`
	Summary string     `json:"summary,omitempty"`
}

// Parse decodes and validates a JSON plan. Any malformed step rejects the
// whole plan; a plan is never partially accepted.
func Parse(data []byte) (*Plan, error) {
	var wire wirePlan
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	return fromWire(&wire)
}

func fromWire(wire *wirePlan) (*Plan, error) {
	if len(wire.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	p := &Plan{
		Steps:   make([]Step, 0, len(wire.Steps)),
		Summary: wire.Summary,
	}

	for i, ws := range wire.Steps {
		step, err := stepFromWire(&ws)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		p.Steps = append(p.Steps, step)
	}

	return p, nil
}

func stepFromWire(ws *wireStep) (Step, error) {
	switch StepType(ws.Type) {
	case StepTypeFileEdit:
		if ws.NewContent == nil {
			return nil, fmt.Errorf("file_edit step is missing newContent")
		}
		clean, err := pathsafe.Sanitize(ws.Path)
		if err != nil {
			return nil, fmt.Errorf("file_edit path %q: %w", ws.Path, err)
		}
		return FileEditStep{
			Path:        clean,
			OldContent:  ws.OldContent,
			NewContent:  *ws.NewContent,
			Description: ws.Description,
		}, nil

	case StepTypeCommand:
		if ws.Command == "" {
			return nil, fmt.Errorf("command step is missing command")
		}
		return CommandStep{
			Command:     ws.Command,
			Description: ws.Description,
		}, nil

	default:
		return nil, fmt.Errorf("unknown step type %q", ws.Type)
	}
}

// MarshalJSON writes the plan back in the tagged-union wire shape.
func (p *Plan) MarshalJSON() ([]byte, error) {
	wire := wirePlan{Summary: p.Summary, Steps: make([]wireStep, 0, len(p.Steps))}
	for _, step := range p.Steps {
		switch s := step.(type) {
		case FileEditStep:
			content := s.NewContent
			wire.Steps = append(wire.Steps, wireStep{
				Type:        string(StepTypeFileEdit),
				Path:        s.Path,
				OldContent:  s.OldContent,
				NewContent:  &content,
				Description: s.Description,
			})
		case CommandStep:
			wire.Steps = append(wire.Steps, wireStep{
				Type:        string(StepTypeCommand),
				Command:     s.Command,
				Description: s.Description,
			})
		default:
			return nil, fmt.Errorf("unknown step type %T", step)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON applies the same strict validation as Parse.
func (p *Plan) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// EditPaths returns the paths of all file-edit steps in plan order.
func (p *Plan) EditPaths() []string {
	paths := make([]string, 0)
	for _, step := range p.Steps {
		if edit, ok := step.(FileEditStep); ok {
			paths = append(paths, edit.Path)
		}
	}
	return paths
}
