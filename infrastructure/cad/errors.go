// Package cad adapts external CAD tooling to the exporter and geometry
// kernel ports. Both adapters drive command-line programs, so any CAD
// package with a batch or scripting mode can be plugged in, and a common
// middleware chain adds timeouts, pacing, circuit breaking and telemetry.
package cad

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ahrav/go-cadmark/internal/ports"
)

var (
	// ErrNoOutput indicates that an export command succeeded but did not
	// write the interchange file.
	ErrNoOutput = errors.New("command produced no output file")
	// ErrEmptyCommand indicates an argv template without a program.
	ErrEmptyCommand = errors.New("command cannot be empty")
	// ErrCircuitOpen indicates that the circuit breaker rejected a call.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ports.ErrServiceUnavailable)
)

// CommandError describes a failed external command. It keeps the exit
// status and the tail of stderr so a grader can tell a crashed CAD
// application from a missing licence.
type CommandError struct {
	// Op is the operation being performed, "export" or "read".
	Op string
	// Command is the program that was run.
	Command string
	// ExitCode is the process exit status, or -1 if it never exited
	// normally.
	ExitCode int
	// Stderr holds the tail of the command's standard error.
	Stderr string
	// Err is the underlying error.
	Err error
}

// Error returns a string representation of the CommandError.
func (e *CommandError) Error() string {
	base := fmt.Sprintf("%s command %q failed", e.Op, e.Command)
	if e.ExitCode >= 0 {
		base += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		base += ": " + s
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error { return e.Err }

// NewCommandError creates a new CommandError. Pass -1 as exitCode when the
// process was killed or never started.
func NewCommandError(op, command string, exitCode int, stderr string, err error) *CommandError {
	return &CommandError{Op: op, Command: command, ExitCode: exitCode, Stderr: stderr, Err: err}
}
