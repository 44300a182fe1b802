package exec

import (
	"context"
	"io"
	"time"
)

// Executor runs commands. Configuration methods return the executor so calls
// can be chained.
type Executor interface {
	// WithEnv adds environment variables. Later values win.
	WithEnv(env map[string]string) Executor

	// WithDir sets the working directory.
	WithDir(dir string) Executor

	// WithContext sets the context; cancelling it kills the process.
	WithContext(ctx context.Context) Executor

	// WithTimeout bounds the lifetime of the process. Zero disables it.
	WithTimeout(timeout time.Duration) Executor

	// WithInheritEnv starts from the parent process environment.
	WithInheritEnv() Executor

	// WithStdin attaches r to the process standard input.
	WithStdin(r io.Reader) Executor

	// WithStdout streams standard output to w instead of capturing it.
	WithStdout(w io.Writer) Executor

	// Run executes the command and waits for it to exit.
	Run(args ...string) (*Result, error)

	// Clone returns an independent copy of the executor.
	Clone() Executor
}

// Result is the outcome of one run.
type Result struct {
	// Stdout is the captured standard output. It is nil when output was
	// streamed with WithStdout.
	Stdout []byte

	// Stderr is the captured standard error.
	Stderr []byte

	// ExitCode is the process exit code, or -1 if it never started or was
	// killed by a signal.
	ExitCode int

	// Duration is the wall time between start and exit.
	Duration time.Duration
}

// Option configures a Command at creation time.
type Option func(*Command)

// WithEnv returns an Option that sets environment variables.
func WithEnv(env map[string]string) Option {
	return func(c *Command) {
		c.WithEnv(env)
	}
}

// WithDir returns an Option that sets the working directory.
func WithDir(dir string) Option {
	return func(c *Command) {
		c.WithDir(dir)
	}
}

// WithTimeout returns an Option that sets a default timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Command) {
		c.WithTimeout(timeout)
	}
}

// WithInheritEnv returns an Option that inherits the parent environment.
func WithInheritEnv() Option {
	return func(c *Command) {
		c.WithInheritEnv()
	}
}
