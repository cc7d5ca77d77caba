// Package classify maps shell commands and their execution results to
// semantic categories. Everything here is a pure function over strings and
// exit codes; classification never inspects the filesystem or the process
// table.
package classify

import (
	"fmt"
	"strings"

	"workbench/pkg/exec"
)

// Kind is the semantic category of a shell command.
type Kind string

const (
	// KindSetup covers dependency installation and project scaffolding.
	KindSetup Kind = "setup"
	// KindTest covers test-suite invocations. A failed test command is
	// what triggers the bounded self-repair attempt.
	KindTest Kind = "test"
	// KindOther is everything else.
	KindOther Kind = "other"
)

// setupPatterns match dependency installation invocations.
var setupPatterns = []string{
	"npm install", "npm ci",
	"yarn install", "yarn add",
	"pnpm install",
	"bun install",
	"pip install", "pip3 install",
	"poetry install",
	"go mod download", "go mod tidy", "go get",
	"bundle install",
	"composer install",
	"cargo fetch",
}

// testPatterns match test-suite invocations.
var testPatterns = []string{
	"npm test", "npm run test",
	"yarn test", "yarn run test",
	"pnpm test",
	"bun test",
	"jest", "vitest", "mocha",
	"pytest", "python -m pytest", "python3 -m pytest",
	"go test",
	"cargo test",
	"mvn test", "gradle test",
	"rspec", "phpunit",
}

// CommandKind classifies a raw shell command line as setup, test, or other.
func CommandKind(command string) Kind {
	normalized := strings.Join(strings.Fields(strings.TrimSpace(command)), " ")
	if normalized == "" {
		return KindOther
	}

	for _, p := range setupPatterns {
		if matchesInvocation(normalized, p) {
			return KindSetup
		}
	}
	for _, p := range testPatterns {
		if matchesInvocation(normalized, p) {
			return KindTest
		}
	}
	return KindOther
}

// matchesInvocation reports whether the command starts with the pattern as a
// whole-word invocation ("go test" matches "go test ./..." but not
// "go testdata-gen").
func matchesInvocation(command, pattern string) bool {
	if !strings.HasPrefix(command, pattern) {
		return false
	}
	return len(command) == len(pattern) || command[len(pattern)] == ' '
}

// Status is the terminal status of an executed command.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
	StatusTimeout Status = "timeout"
)

// CommandResult classifies an execution result into a status and a short
// human-readable summary. The mapping is total and deterministic.
func CommandResult(r exec.Result) (Status, string) {
	if r.ErrorMessage != "" {
		msg := strings.ToLower(r.ErrorMessage)
		switch {
		case strings.Contains(msg, "timeout"):
			return StatusTimeout, fmt.Sprintf("command timed out: %s", r.ErrorMessage)
		case strings.Contains(msg, "blocked"), strings.Contains(msg, "allowlist"):
			return StatusBlocked, fmt.Sprintf("command blocked: %s", r.ErrorMessage)
		default:
			return StatusFailed, fmt.Sprintf("command failed: %s", r.ErrorMessage)
		}
	}

	if r.ExitCode == nil {
		return StatusTimeout, "command timed out"
	}
	if *r.ExitCode == 0 {
		return StatusSuccess, "command succeeded"
	}
	return StatusFailed, fmt.Sprintf("command exited with code %d", *r.ExitCode)
}
