package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LocalExec executes commands as child processes on the local system.
// It is the only component that touches the OS process table.
type LocalExec struct{}

// NewLocalExec creates a new local executor.
func NewLocalExec() *LocalExec {
	return &LocalExec{}
}

// RunShell executes a raw shell command line via "sh -c".
func (e *LocalExec) RunShell(ctx context.Context, command string, opts *Opts) (Result, error) {
	if opts != nil && opts.Allowlist != nil {
		if prog := shellProgram(command); prog != "" && !allowed(prog, opts.Allowlist) {
			return Result{
				ErrorMessage: fmt.Sprintf("command blocked by allowlist: %s", prog),
			}, nil
		}
	}
	return e.run(ctx, []string{"sh", "-c", command}, opts)
}

// Run executes an argv-form command locally with the given options.
func (e *LocalExec) Run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("command cannot be empty")
	}

	if opts != nil && opts.Allowlist != nil && !allowed(filepath.Base(cmd[0]), opts.Allowlist) {
		return Result{
			ErrorMessage: fmt.Sprintf("command blocked by allowlist: %s", filepath.Base(cmd[0])),
		}, nil
	}

	return e.run(ctx, cmd, opts)
}

func (e *LocalExec) run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	if opts == nil {
		def := DefaultOpts()
		opts = &def
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	startTime := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := osexec.CommandContext(runCtx, cmd[0], cmd[1:]...)

	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); os.IsNotExist(err) {
			return Result{
				ErrorMessage: fmt.Sprintf("working directory does not exist: %s", opts.WorkDir),
				Duration:     time.Since(startTime),
			}, nil
		}
		execCmd.Dir = opts.WorkDir
	}

	if len(opts.Env) > 0 {
		execCmd.Env = append(os.Environ(), opts.Env...)
	}

	// Run the child in its own process group so a timeout kills the whole
	// tree, not just the direct child.
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	execCmd.Cancel = func() error {
		if execCmd.Process != nil {
			return syscall.Kill(-execCmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	execCmd.WaitDelay = 5 * time.Second

	var stdout, stderr cappedBuffer
	stdout.max = MaxOutputBytes
	stderr.max = MaxOutputBytes
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	duration := time.Since(startTime)

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case err == nil:
		zero := 0
		result.ExitCode = &zero

	case runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.ErrorMessage = fmt.Sprintf("timeout after %s", timeout)

	case runCtx.Err() != nil:
		// Caller cancellation, e.g. an aborted HTTP request.
		result.ErrorMessage = fmt.Sprintf("execution canceled: %v", runCtx.Err())

	default:
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			result.ExitCode = &code
		} else {
			// Spawn failure: binary missing, permission denied, etc.
			result.ErrorMessage = fmt.Sprintf("failed to start command: %v", err)
		}
	}

	return result, nil
}

// shellProgram extracts the first program name from a raw shell command line.
func shellProgram(command string) string {
	for _, f := range strings.Fields(command) {
		// Skip leading VAR=value assignments.
		if i := strings.IndexByte(f, '='); i > 0 && !strings.Contains(f[:i], "/") {
			continue
		}
		return filepath.Base(f)
	}
	return ""
}

func allowed(prog string, allowlist []string) bool {
	for _, a := range allowlist {
		if a == prog {
			return true
		}
	}
	return false
}

// cappedBuffer collects output up to max bytes and drops the rest, noting
// truncation so classifiers still see the head of the stream.
type cappedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if len(b.buf) < b.max {
		room := b.max - len(b.buf)
		if len(p) <= room {
			b.buf = append(b.buf, p...)
		} else {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n... (output truncated)"
	}
	return string(b.buf)
}
