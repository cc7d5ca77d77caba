package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const stacksFileName = "stacks.yaml"

// WorkspaceStack declares how one workspace is checked before promotion.
// Any empty command skips the corresponding check.
type WorkspaceStack struct {
	Name        string `yaml:"name" json:"name"`
	Root        string `yaml:"root" json:"root"`
	Stack       string `yaml:"stack" json:"stack"`
	LintCommand string `yaml:"lintCommand,omitempty" json:"lintCommand,omitempty"`
	TestCommand string `yaml:"testCommand,omitempty" json:"testCommand,omitempty"`
	RunCommand  string `yaml:"runCommand,omitempty" json:"runCommand,omitempty"`
}

type stacksFile struct {
	Workspaces []WorkspaceStack `yaml:"workspaces"`
}

// LoadStacks reads per-workspace stack declarations from
// dir/.workbench/stacks.yaml. A missing file yields an empty map: workspaces
// without a declaration run no checks.
func LoadStacks(dir string) (map[string]WorkspaceStack, error) {
	path := filepath.Join(dir, ConfigDirName, stacksFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]WorkspaceStack{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stacks file %s: %w", path, err)
	}

	var file stacksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse stacks file %s: %w", path, err)
	}

	stacks := make(map[string]WorkspaceStack, len(file.Workspaces))
	for i := range file.Workspaces {
		ws := file.Workspaces[i]
		if ws.Name == "" {
			return nil, fmt.Errorf("stacks file %s: workspace %d has no name", path, i)
		}
		if _, dup := stacks[ws.Name]; dup {
			return nil, fmt.Errorf("stacks file %s: duplicate workspace %q", path, ws.Name)
		}
		stacks[ws.Name] = ws
	}
	return stacks, nil
}

// SaveStacks writes stack declarations back to the stacks file.
func SaveStacks(dir string, stacks []WorkspaceStack) error {
	data, err := yaml.Marshal(stacksFile{Workspaces: stacks})
	if err != nil {
		return fmt.Errorf("failed to marshal stacks: %w", err)
	}

	cfgDir := filepath.Join(dir, ConfigDirName)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(cfgDir, stacksFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write stacks file: %w", err)
	}
	return nil
}
