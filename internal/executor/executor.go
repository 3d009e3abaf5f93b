package executor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExecFailedStatus is the status recorded for a command whose program could
// not be executed. It is indistinguishable from a program that ran and
// exited with 1.
const ExecFailedStatus = 1

// ErrNoLauncher is returned by Background when no Launcher is configured.
var ErrNoLauncher = errors.New("no background launcher configured")

// Launcher starts a prepared command without waiting for it. Completion is
// observed by whoever implements it.
type Launcher interface {
	Launch(cmd *exec.Cmd) (pid int, err error)
}

// Result describes one finished child.
type Result struct {
	Name     string
	Pid      int
	ExitCode int
	// Signal is set when the child was killed by a signal. ExitCode is -1
	// in that case.
	Signal  syscall.Signal
	Elapsed time.Duration
}

func (r *Result) Signaled() bool {
	return r.Signal != 0
}

// Status is the shell status of r: the exit code, or 128 plus the signal
// number when the child was killed.
func (r *Result) Status() int {
	if r.Signaled() {
		return 128 + int(r.Signal)
	}
	return r.ExitCode
}

func (r *Result) setState(ps *os.ProcessState) {
	if ps == nil {
		return
	}
	r.ExitCode = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		r.Signal = ws.Signal()
	}
}

// Executor runs external commands in the foreground, in the background and
// as pipelines. Nil streams fall back to the process's own.
type Executor struct {
	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer

	// Env is passed to every child. Nil means the process environment.
	Env []string

	// BackgroundStdin, if set, is opened as standard input for background
	// children so they never read from the terminal.
	BackgroundStdin string

	// ReportTiming prints "<name> exited, time used: <s> s" after each
	// foreground command.
	ReportTiming bool

	Launcher Launcher
	Log      *zap.Logger
}

func (e *Executor) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Executor) stdin() io.Reader {
	if e.Stdin == nil {
		return os.Stdin
	}
	return e.Stdin
}

func (e *Executor) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Executor) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}

// Getenv reads key from the environment children will receive.
func (e *Executor) Getenv(key string) string {
	v, _ := e.LookupEnv(key)
	return v
}

// LookupEnv is like Getenv but reports whether key is set at all.
func (e *Executor) LookupEnv(key string) (string, bool) {
	return lookupEnv(e.Env, key)
}

func (e *Executor) command(c Command) *exec.Cmd {
	argv := c.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	if e.Env != nil && !strings.Contains(argv[0], "/") {
		// exec.Command searched the shell's PATH, not the child's.
		path, err := e.LookPath(argv[0])
		cmd.Path, cmd.Err = path, err
		if err != nil {
			cmd.Path = argv[0]
		}
	}
	cmd.Env = e.Env
	cmd.Stdin = e.stdin()
	cmd.Stdout = e.stdout()
	cmd.Stderr = e.stderr()
	return cmd
}

// IsExecFailure reports whether a Start error means the program itself could
// not be executed, as opposed to the process not being created at all.
func IsExecFailure(err error) bool {
	var execErr *exec.Error
	switch {
	case errors.As(err, &execErr):
		return true
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return true
	case errors.Is(err, syscall.ENOEXEC), errors.Is(err, syscall.EISDIR):
		return true
	}
	return false
}

// Run dispatches c to the foreground or to the background launcher.
func (e *Executor) Run(c Command, background bool) (*Result, error) {
	if c.IsZero() {
		return nil, ErrEmptyCommand
	}
	if background {
		pid, err := e.Background(c)
		if err != nil {
			return nil, err
		}
		return &Result{Name: c.Name(), Pid: pid}, nil
	}
	return e.Foreground(c)
}

// Foreground runs c and blocks until that specific child terminates. There
// is no timeout: a child that never exits blocks the caller indefinitely.
func (e *Executor) Foreground(c Command) (*Result, error) {
	if c.IsZero() {
		return nil, ErrEmptyCommand
	}
	res := &Result{Name: c.Name()}
	cmd := e.command(c)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if !IsExecFailure(err) {
			e.log().Warn("fork failed", zap.String("command", c.Name()), zap.Error(err))
			return nil, fmt.Errorf("start %s: %w", c.Name(), err)
		}
		e.log().Info("exec failed", zap.String("command", c.Name()), zap.Error(err))
		res.ExitCode = ExecFailedStatus
		res.Elapsed = time.Since(start)
		e.report(res)
		return res, nil
	}
	res.Pid = cmd.Process.Pid

	err := cmd.Wait()
	res.Elapsed = time.Since(start)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		e.log().Warn("wait failed", zap.String("command", c.Name()), zap.Int("pid", res.Pid), zap.Error(err))
	}
	res.setState(cmd.ProcessState)
	e.report(res)
	return res, nil
}

func (e *Executor) report(r *Result) {
	if !e.ReportTiming {
		return
	}
	fmt.Fprintf(e.stdout(), "%s exited, time used: %f s\n", r.Name, r.Elapsed.Seconds())
}

// Background hands c to the Launcher and returns without waiting.
func (e *Executor) Background(c Command) (int, error) {
	if c.IsZero() {
		return 0, ErrEmptyCommand
	}
	if e.Launcher == nil {
		return 0, ErrNoLauncher
	}
	cmd := e.command(c)

	if e.BackgroundStdin != "" {
		f, err := os.Open(e.BackgroundStdin)
		if err != nil {
			e.log().Warn("open background stdin", zap.String("path", e.BackgroundStdin), zap.Error(err))
			return 0, fmt.Errorf("background stdin: %w", err)
		}
		// The child holds its own copy once started.
		defer f.Close()
		cmd.Stdin = f
	}

	pid, err := e.Launcher.Launch(cmd)
	if err != nil {
		e.log().Warn("background launch failed", zap.String("command", c.Name()), zap.Error(err))
		return 0, fmt.Errorf("launch %s: %w", c.Name(), err)
	}
	return pid, nil
}
