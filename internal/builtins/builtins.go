// Package builtins holds the commands the shell runs itself instead of
// starting a program.
package builtins

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"

	"procshell/internal/executor"
	"procshell/internal/reaper"
)

// ErrHomeNotSet is reported by cd without an argument when HOME is unset.
var ErrHomeNotSet = errors.New("HOME not set")

// Env is everything a builtin may touch.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer

	Exec  *executor.Executor
	Pager executor.PagerPolicy

	// Jobs lists outstanding background children.
	Jobs func() []reaper.Job
	// Exit asks the shell to stop after the current line.
	Exit func()

	Log *zap.Logger

	chdir func(string) error
	getwd func() (string, error)
}

func (e *Env) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Env) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}

func (e *Env) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Env) getenv(key string) (string, bool) {
	if e.Exec != nil {
		return e.Exec.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

// Builtin runs with args[0] set to its own name and returns an exit status.
type Builtin interface {
	Main(env *Env, args []string) int
}

type BuiltinFunc func(env *Env, args []string) int

func (f BuiltinFunc) Main(env *Env, args []string) int {
	return f(env, args)
}

var _ Builtin = (BuiltinFunc)(nil)

type entry struct {
	builtin Builtin
	short   string
}

// all holds every registered builtin.
var all = make(map[string]entry)

func register(name, short string, f BuiltinFunc) {
	all[name] = entry{builtin: f, short: short}
}

// Lookup returns the builtin called name.
func Lookup(name string) (Builtin, bool) {
	e, ok := all[name]
	return e.builtin, ok
}

// Names lists the builtins in sorted order.
func Names() []string {
	out := make([]string, 0, len(all))
	for name := range all {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Exit quits the shell.
func Exit(env *Env, args []string) int {
	if env.Exit != nil {
		env.Exit()
	}
	return 0
}

// Pwd prints the working directory.
func Pwd(env *Env, args []string) int {
	getwd := env.getwd
	if getwd == nil {
		getwd = os.Getwd
	}
	dir, err := getwd()
	if err != nil {
		fmt.Fprintf(env.stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	fmt.Fprintln(env.stdout(), dir)
	return 0
}

// Cd changes the working directory, to HOME when no directory is given. An
// empty HOME leaves the directory alone.
func Cd(env *Env, args []string) int {
	chdir := env.chdir
	if chdir == nil {
		chdir = os.Chdir
	}
	var dir string
	switch len(args) {
	case 1:
		home, ok := env.getenv("HOME")
		if !ok {
			fmt.Fprintf(env.stderr(), "%s: %v\n", args[0], ErrHomeNotSet)
			return 1
		}
		if home == "" {
			return 0
		}
		dir = home
	case 2:
		dir = args[1]
	default:
		fmt.Fprintf(env.stderr(), "%s: too many arguments\n", args[0])
		return 1
	}
	if err := chdir(dir); err != nil {
		fmt.Fprintf(env.stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

// CheckEnv pages the sorted environment, filtered through grep when
// arguments are given. Its status is the pager's, 128+signal if the pager
// was killed.
func CheckEnv(env *Env, args []string) int {
	if env.Exec == nil {
		fmt.Fprintf(env.stderr(), "%s: no executor\n", args[0])
		return 1
	}
	pager := env.Exec.PagerStage(env.Pager)
	p := executor.FilteredEnvListing(args[1:], pager)

	env.log().Debug("running pipeline", zap.Stringer("pipeline", p))
	results, err := env.Exec.RunPipeline(p)
	if err != nil {
		fmt.Fprintf(env.stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	return results[len(results)-1].Status()
}

func init() {
	register("exit", "leave the shell", Exit)
	register("pwd", "print the working directory", Pwd)
	register("cd", "change the working directory (default $HOME)", Cd)
	register("checkEnv", "page the sorted environment, filtered by grep ARGS if given", CheckEnv)
	register("jobs", "list background commands that have not finished", Jobs)
	register("help", "list the builtins", Help)
}
