// Package execx runs external commands with bounded timeouts.
//
// Building a charm shells out to pip (wheelhouse and installer tactics) and
// to version control tools (version file). All of that goes through the
// Runner interface so tactics can be tested without the tools installed.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultTimeout bounds commands that do not set their own timeout.
const DefaultTimeout = 10 * time.Minute

// ErrNotFound indicates the command's executable could not be found.
var ErrNotFound = errors.New("executable not found")

// Command describes a process to run.
type Command struct {
	// Name is the executable, looked up in PATH.
	Name string

	// Args are the arguments, excluding Name.
	Args []string

	// Dir is the working directory; empty means the current directory.
	Dir string

	// Env is added to the current environment.
	Env []string

	// Timeout overrides the runner's default timeout when positive.
	Timeout time.Duration
}

// String renders the command line.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Cmd    Command
	Code   int
	Output []byte
}

// Error includes the command line, exit code and trimmed output.
func (e *ExitError) Error() string {
	out := strings.TrimSpace(string(e.Output))
	if out == "" {
		return fmt.Sprintf("%s exited with status %d", e.Cmd, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Cmd, e.Code, out)
}

// Runner runs commands.
type Runner interface {
	// Run executes cmd and returns its combined output.
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// RealRunner runs commands with os/exec.
type RealRunner struct {
	// Timeout applies to commands without their own timeout.
	Timeout time.Duration

	logger hclog.Logger
}

// NewRealRunner creates a RealRunner. A nil logger discards output.
func NewRealRunner(logger hclog.Logger) *RealRunner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RealRunner{Timeout: DefaultTimeout, logger: logger}
}

// Run executes cmd, killing it when the timeout expires.
func (r *RealRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	r.logger.Debug("running command", "cmd", cmd.String(), "dir", cmd.Dir)
	err := c.Run()
	output := out.Bytes()
	if err == nil {
		return output, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return output, fmt.Errorf("%w: %s", ErrNotFound, cmd.Name)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("%s timed out after %s", cmd, timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, &ExitError{Cmd: cmd, Code: exitErr.ExitCode(), Output: output}
	}
	return output, fmt.Errorf("failed to run %s: %w", cmd, err)
}

// FakeRunner records commands and answers them with Handler.
type FakeRunner struct {
	// Calls holds every command run, in order.
	Calls []Command

	// Handler produces the result of a command. Nil means success with no output.
	Handler func(cmd Command) ([]byte, error)
}

// NewFakeRunner creates a FakeRunner.
func NewFakeRunner(handler func(cmd Command) ([]byte, error)) *FakeRunner {
	return &FakeRunner{Handler: handler}
}

// Run records cmd and delegates to Handler.
func (f *FakeRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	f.Calls = append(f.Calls, cmd)
	if f.Handler == nil {
		return nil, nil
	}
	return f.Handler(cmd)
}
