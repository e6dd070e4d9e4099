// Package process runs external tools with a hard timeout and captured output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is matched by every *TimeoutError
var ErrTimeout = errors.New("subprocess timed out")

// killGrace bounds how long Wait may block on pipes after the process group is killed.
const killGrace = 5 * time.Second

// Result captures one finished invocation.
type Result struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// CommandLine renders the invocation for logs.
func (r Result) CommandLine() string {
	return strings.Join(append([]string{r.Command}, r.Args...), " ")
}

// Runner executes external programs.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// SubprocessError reports a tool that could not start or exited non-zero.
type SubprocessError struct {
	Result Result
	Err    error
}

func (e *SubprocessError) Error() string {
	msg := lastLine(e.Result.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Result.Command, e.Result.ExitCode, msg)
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// TimeoutError reports a tool killed after exceeding its time limit.
type TimeoutError struct {
	Command string
	Timeout time.Duration
	Result  Result
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s killed after %s", e.Command, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ExecRunner runs commands through os/exec. Each command gets its own
// process group so a timeout also kills anything the tool spawned.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
}

// NewExecRunner returns a runner using the current working directory
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes one command and captures stdout/stderr and exit code.
// A zero timeout means only ctx bounds the call.
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = r.Dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = killGrace

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Command: name,
		Args:    args,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	// parent cancellation wins over our own deadline
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return result, fmt.Errorf("%s: %w", name, ctxErr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		limit := timeout
		if limit == 0 {
			if deadline, ok := ctx.Deadline(); ok {
				limit = deadline.Sub(start)
			}
		}
		return result, &TimeoutError{Command: name, Timeout: limit, Result: result}
	}
	return result, &SubprocessError{Result: result, Err: err}
}

// Require resolves a tool: an explicit configured path must exist, otherwise
// the name is looked up on PATH.
func Require(tool, configured string) (string, error) {
	candidate := configured
	if candidate == "" {
		candidate = tool
	}
	path, err := exec.LookPath(candidate)
	if err != nil {
		return "", &RequiredToolError{Tool: tool, Err: err}
	}
	return path, nil
}

// RequiredToolError reports a missing external program.
type RequiredToolError struct {
	Tool string
	Err  error
}

func (e *RequiredToolError) Error() string {
	return fmt.Sprintf("required tool %q not found: %v", e.Tool, e.Err)
}

func (e *RequiredToolError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
