// Package exec provides bounded shell command execution for plan steps and
// sandbox checks. Commands run against a working directory with a hard
// wall-clock timeout, capped output, and an optional program allowlist.
package exec

import (
	"context"
	"strings"
	"time"
)

// Default execution bounds.
const (
	// DefaultTimeout is the hard wall-clock limit for a single command.
	DefaultTimeout = 60 * time.Second

	// ServerProcessTimeout is the ceiling for long-running dev-server
	// style commands started by a "run" check.
	ServerProcessTimeout = time.Hour

	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes = 64 * 1024
)

// Executor runs a single command and returns a structured result.
type Executor interface {
	// Run executes an argv-form command. A non-zero exit code is not an
	// error; err is reserved for failures of the executor itself.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// RunShell executes a raw shell command line via "sh -c".
	RunShell(ctx context.Context, command string, opts *Opts) (Result, error)
}

// Opts contains options for command execution.
type Opts struct {
	// WorkDir is the working directory for the command.
	WorkDir string

	// Env contains extra environment variables (KEY=VALUE format),
	// appended to the current environment.
	Env []string

	// Timeout is the maximum duration for command execution.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// Allowlist, when non-nil, restricts which programs may be spawned.
	// A command whose argv[0] basename is not listed is reported as
	// blocked without being spawned.
	Allowlist []string
}

// DefaultOpts returns execution options with the standard timeout.
func DefaultOpts() Opts {
	return Opts{Timeout: DefaultTimeout}
}

// Result contains the outcome of one command execution.
//
// ExitCode is nil when the process never produced an exit code: timeout,
// spawn failure, or an allowlist block. In those cases ErrorMessage
// describes what happened.
type Result struct {
	Stdout       string
	Stderr       string
	ErrorMessage string
	Duration     time.Duration
	ExitCode     *int
}

// Success reports whether the command ran to completion with exit code 0
// and no execution error.
func (r Result) Success() bool {
	return r.ErrorMessage == "" && r.ExitCode != nil && *r.ExitCode == 0
}

// TimedOut reports whether the command was killed by the timeout.
func (r Result) TimedOut() bool {
	return r.ExitCode == nil && strings.Contains(r.ErrorMessage, "timeout")
}

// Blocked reports whether the command was rejected by the allowlist.
func (r Result) Blocked() bool {
	return r.ExitCode == nil && strings.Contains(r.ErrorMessage, "blocked")
}
