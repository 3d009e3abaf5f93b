// Package repl is the interactive loop: it reads a line, runs it as a builtin,
// a foreground command or a background command, and reports background
// completions before the next prompt.
package repl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"procshell/internal/builtins"
	"procshell/internal/config"
	"procshell/internal/executor"
	"procshell/internal/parser"
	"procshell/internal/pgroup"
	"procshell/internal/reaper"
	"procshell/internal/sig"
)

const DefaultPrompt = "$ "

// Options wires a Shell. Nil fields get working defaults, except Group: a
// shell without a group skips the shutdown broadcast.
type Options struct {
	Prompt string

	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer

	// Reader overrides the line reader chosen from Stdin.
	Reader sig.LineReader

	Exec   *executor.Executor
	Reaper reaper.Reaper
	Gate   *sig.Gate
	Group  *pgroup.Group

	ShutdownSignal syscall.Signal
	Pager          executor.PagerPolicy

	Log *zap.Logger
}

type Shell struct {
	prompt      string
	printPrompt bool
	stdout      io.Writer
	stderr      io.Writer
	colorize    bool

	reader *sig.InterruptibleReader
	closer io.Closer

	exec   *executor.Executor
	reaper reaper.Reaper
	gate   *sig.Gate
	group  *pgroup.Group
	signal syscall.Signal
	env    *builtins.Env
	log    *zap.Logger

	exiting  bool
	shutdown sync.Once
	status   int
}

// NewFromConfig builds the whole engine described by cfg: process group,
// reaper, signal gate and executor. Fields already set in opts are kept.
func NewFromConfig(cfg *config.Configuration, opts Options) (*Shell, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Group == nil {
		opts.Group = pgroup.Init(opts.Log)
	}
	if opts.Reaper == nil {
		r, err := reaper.New(reaper.Mode(cfg.Reaper.Mode), reaper.Options{
			Log:          opts.Log,
			PollInterval: cfg.PollInterval(),
		})
		if err != nil {
			return nil, err
		}
		opts.Reaper = r
	}
	if opts.Gate == nil {
		opts.Gate = sig.NewGate(sig.Handlers{Child: opts.Reaper.Trigger}, opts.Log)
	}
	if opts.Exec == nil {
		opts.Exec = &executor.Executor{
			Stdin:           opts.Stdin,
			Stdout:          opts.Stdout,
			Stderr:          opts.Stderr,
			BackgroundStdin: cfg.BackgroundStdin,
			ReportTiming:    cfg.ReportTiming,
			Launcher:        opts.Reaper,
			Log:             opts.Log,
		}
	}
	opts.Prompt = cfg.Prompt
	opts.ShutdownSignal = cfg.Signal()
	opts.Pager = executor.PagerPolicy{EnvVar: cfg.Pager.Env, Fallbacks: cfg.Pager.Fallbacks}
	return New(opts)
}

// New builds a shell and starts its signal gate.
func New(opts Options) (*Shell, error) {
	s := &Shell{
		prompt: opts.Prompt,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
		exec:   opts.Exec,
		reaper: opts.Reaper,
		gate:   opts.Gate,
		group:  opts.Group,
		signal: opts.ShutdownSignal,
		log:    opts.Log,
	}
	if s.prompt == "" {
		s.prompt = DefaultPrompt
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.signal == 0 {
		s.signal = unix.SIGTERM
	}
	if s.exec == nil {
		s.exec = &executor.Executor{Stdin: opts.Stdin, Stdout: s.stdout, Stderr: s.stderr, Launcher: s.reaper, Log: s.log}
	}
	if f, ok := s.stdout.(*os.File); ok {
		s.colorize = term.IsTerminal(int(f.Fd()))
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	src := opts.Reader
	switch {
	case src != nil:
		s.printPrompt = true
	case term.IsTerminal(int(stdin.Fd())):
		tr, err := newTerminalReader(stdin, s.stdout, s.stderr, s.prompt)
		if err != nil {
			return nil, fmt.Errorf("line editor: %w", err)
		}
		src, s.closer = tr, tr
	default:
		src = newPlainReader(stdin)
		s.printPrompt = true
	}
	s.reader = sig.NewInterruptibleReader(src)

	s.env = &builtins.Env{
		Stdout: s.stdout,
		Stderr: s.stderr,
		Exec:   s.exec,
		Pager:  opts.Pager,
		Exit:   func() { s.exiting = true },
		Log:    s.log,
	}
	if s.reaper != nil {
		s.env.Jobs = s.reaper.Jobs
	}

	if s.gate != nil {
		s.gate.Start()
	}
	return s, nil
}

func (s *Shell) readLine() (string, error) {
	if s.printPrompt {
		fmt.Fprint(s.stdout, s.prompt)
	}
	if s.gate == nil {
		return s.reader.ReadLine(nil)
	}
	return s.gate.ReadLine(s.reader)
}

// Run reads and evaluates lines until end of input or the exit builtin, then
// shuts the shell down and returns the process exit status.
func (s *Shell) Run() int {
	for !s.exiting {
		s.printNotices()
		line, err := s.readLine()
		switch {
		case errors.Is(err, sig.ErrInterrupted):
			s.endLine()
			continue
		case errors.Is(err, io.EOF):
			s.endLine()
			return s.Shutdown()
		case err != nil:
			s.log.Error("read failed", zap.Error(err))
			return s.Shutdown()
		}
		s.Eval(line)
	}
	return s.Shutdown()
}

// endLine moves past an abandoned prompt. The line editor does this itself.
func (s *Shell) endLine() {
	if s.printPrompt {
		fmt.Fprintln(s.stdout)
	}
}

// Eval runs one line and returns its status. A blank line starts nothing.
func (s *Shell) Eval(line string) int {
	cmd, background, err := parser.Parse(line)
	if errors.Is(err, executor.ErrEmptyCommand) {
		return 0
	}

	if b, ok := builtins.Lookup(cmd.Name()); ok {
		if background {
			s.log.Debug("builtin runs in the foreground", zap.String("builtin", cmd.Name()))
		}
		return b.Main(s.env, cmd.Argv())
	}

	res, err := s.exec.Run(cmd, background)
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", cmd.Name(), err)
		return 1
	}
	if background {
		fmt.Fprintf(s.stdout, "[bg] pid=%d\n", res.Pid)
		return 0
	}
	return res.Status()
}

// Exiting reports whether the exit builtin has run.
func (s *Shell) Exiting() bool {
	return s.exiting
}

func noticeColor(n reaper.Notice) *color.Color {
	switch {
	case n.State == reaper.Exited && n.Code == 0:
		return color.New(color.FgGreen)
	case n.State == reaper.Exited, n.State == reaper.Stopped:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func (s *Shell) printNotices() {
	if s.reaper == nil {
		return
	}
	for _, n := range s.reaper.Drain() {
		c := noticeColor(n)
		if s.colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		c.Fprintln(s.stdout, n.String())
	}
}

// Shutdown releases the line reader, the gate and the reaper, then sends the
// shutdown signal to the process group. It returns 1 if the broadcast failed.
// Calls after the first return the first result.
func (s *Shell) Shutdown() int {
	s.shutdown.Do(func() {
		if s.closer != nil {
			if err := s.closer.Close(); err != nil {
				s.log.Warn("close line reader", zap.Error(err))
			}
		}
		if s.gate != nil {
			s.gate.Stop()
		}
		if s.reaper != nil {
			if err := s.reaper.Close(); err != nil {
				s.log.Warn("close reaper", zap.Error(err))
			}
		}
		if s.group == nil {
			return
		}
		if err := s.group.Broadcast(s.signal); err != nil {
			fmt.Fprintf(s.stderr, "shutdown: %v\n", err)
			s.status = 1
		}
	})
	return s.status
}
