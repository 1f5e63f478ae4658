// Package service controls the kernel NFS server on the local host: package
// installation, daemon lifecycle, the daemon defaults file, and reloading the
// export table.
package service

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandError reports a failed external command together with its output.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q failed: %v: %s", e.Command, e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner executes external commands.
type Runner interface {
	// Run executes name with args and returns its combined output. A non-zero
	// exit status is returned as a *CommandError.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host with os/exec.
type ExecRunner struct {
	// Timeout bounds every command. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, &CommandError{
			Command: strings.Join(append([]string{name}, args...), " "),
			Output:  string(output),
			Err:     err,
		}
	}
	return output, nil
}

// exitedNonZero reports whether err is a command that ran and exited with a
// non-zero status, as opposed to one that could not be started at all.
func exitedNonZero(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
