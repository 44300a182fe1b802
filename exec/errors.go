package exec

import "fmt"

// ExecError describes a failed run: the process could not start, exited
// non-zero, or was killed.
type ExecError struct {
	// Command is the argv that was executed.
	Command []string

	// ExitCode is the exit code, or -1.
	ExitCode int

	// Stderr is the captured standard error.
	Stderr string

	// TimedOut is set when the timeout or context deadline killed the process.
	TimedOut bool

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %v failed with exit code %d: %v", e.Command, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("command %v failed with exit code %d", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.Err
}
