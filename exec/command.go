package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"os"
	osexec "os/exec"
	"sort"
	"time"
)

const defaultWaitDelay = 5 * time.Second

// Command is the os/exec backed Executor.
type Command struct {
	env        map[string]string
	dir        string
	inheritEnv bool
	ctx        context.Context
	timeout    time.Duration
	waitDelay  time.Duration
	stdin      io.Reader
	stdout     io.Writer
}

// New creates a Command configured by opts.
func New(opts ...Option) *Command {
	cmd := &Command{
		env:       make(map[string]string),
		ctx:       context.Background(),
		waitDelay: defaultWaitDelay,
	}

	for _, opt := range opts {
		opt(cmd)
	}

	return cmd
}

// WithEnv adds environment variables.
func (c *Command) WithEnv(env map[string]string) Executor {
	maps.Copy(c.env, env)
	return c
}

// WithDir sets the working directory.
func (c *Command) WithDir(dir string) Executor {
	c.dir = dir
	return c
}

// WithContext sets the context.
func (c *Command) WithContext(ctx context.Context) Executor {
	c.ctx = ctx
	return c
}

// WithTimeout sets the timeout.
func (c *Command) WithTimeout(timeout time.Duration) Executor {
	c.timeout = timeout
	return c
}

// WithInheritEnv enables environment inheritance.
func (c *Command) WithInheritEnv() Executor {
	c.inheritEnv = true
	return c
}

// WithStdin sets standard input.
func (c *Command) WithStdin(r io.Reader) Executor {
	c.stdin = r
	return c
}

// WithStdout streams standard output to w.
func (c *Command) WithStdout(w io.Writer) Executor {
	c.stdout = w
	return c
}

// Run executes args[0] with the remaining arguments.
//
// Stdout and stderr are drained concurrently by os/exec, so a chatty
// process cannot deadlock on a full pipe. When the context ends or the
// timeout fires the process is killed, and Run returns once the pipes are
// closed or the wait delay passes.
func (c *Command) Run(args ...string) (*Result, error) {
	if len(args) == 0 {
		return nil, &ExecError{
			Command:  args,
			ExitCode: -1,
			Err:      osexec.ErrNotFound,
		}
	}

	ctx := c.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.dir
	cmd.Env = c.environ()
	cmd.WaitDelay = c.waitDelay
	if c.stdin != nil {
		cmd.Stdin = c.stdin
	}

	var stdout, stderr bytes.Buffer
	if c.stdout != nil {
		cmd.Stdout = c.stdout
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if c.stdout == nil {
		result.Stdout = stdout.Bytes()
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		execErr := &ExecError{
			Command:  args,
			ExitCode: result.ExitCode,
			Stderr:   string(result.Stderr),
			Err:      err,
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			execErr.Err = errors.Join(ctxErr, err)
			execErr.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		}
		return result, execErr
	}

	return result, nil
}

// Clone returns a copy sharing no mutable state with c. Stdin and stdout are
// not copied.
func (c *Command) Clone() Executor {
	return &Command{
		env:        maps.Clone(c.env),
		dir:        c.dir,
		inheritEnv: c.inheritEnv,
		ctx:        c.ctx,
		timeout:    c.timeout,
		waitDelay:  c.waitDelay,
	}
}

func (c *Command) environ() []string {
	var env []string
	if c.inheritEnv {
		env = os.Environ()
	}

	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.env[k])
	}

	// An empty, non-nil slice keeps os/exec from falling back to os.Environ.
	if env == nil {
		env = []string{}
	}
	return env
}
