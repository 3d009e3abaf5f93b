package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyPipeline is returned by RunPipeline for a pipeline with no stages.
	ErrEmptyPipeline = errors.New("empty pipeline")

	// ErrNotResolvable is returned when none of a stage's candidates can be
	// found on PATH.
	ErrNotResolvable = errors.New("no executable candidate")
)

// Stage is one process of a pipeline. The first candidate that resolves on
// PATH is executed. Most stages have exactly one candidate; the pager stage
// lists its fallbacks.
type Stage struct {
	Candidates []Command
}

// Single is a stage that runs exactly c.
func Single(c Command) Stage {
	return Stage{Candidates: []Command{c}}
}

func (s Stage) String() string {
	names := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		names = append(names, c.Name())
	}
	return strings.Join(names, "/")
}

// Resolve returns the first candidate whose program is found on path, a
// list of directories in PATH format.
func (s Stage) Resolve(path string) (Command, error) {
	for _, c := range s.Candidates {
		if c.IsZero() {
			continue
		}
		if _, err := lookPath(c.Name(), path); err == nil {
			return c, nil
		}
	}
	return Command{}, fmt.Errorf("%w: %s", ErrNotResolvable, s)
}

// Pipeline is an ordered list of stages; stage i writes to stage i+1.
type Pipeline []Stage

func (p Pipeline) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, " | ")
}

// EnvListing is printenv | sort | pager.
func EnvListing(pager Stage) Pipeline {
	return Pipeline{
		Single(MustCommand("printenv")),
		Single(MustCommand("sort")),
		pager,
	}
}

// FilteredEnvListing is printenv | grep filterArgs... | sort | pager. With no
// filter arguments it is the same as EnvListing.
func FilteredEnvListing(filterArgs []string, pager Stage) Pipeline {
	if len(filterArgs) == 0 {
		return EnvListing(pager)
	}
	return Pipeline{
		Single(MustCommand("printenv")),
		Single(MustCommand(append([]string{"grep"}, filterArgs...)...)),
		Single(MustCommand("sort")),
		pager,
	}
}

type pipePair struct {
	r, w *os.File
}

func (e *Executor) closePipes(pipes []pipePair) {
	for _, p := range pipes {
		if err := p.r.Close(); err != nil {
			e.log().Warn("close pipe read end", zap.Error(err))
		}
		if err := p.w.Close(); err != nil {
			e.log().Warn("close pipe write end", zap.Error(err))
		}
	}
}

// RunPipeline starts every stage of p with its standard streams wired through
// pipes and waits for all of them. The first stage reads the executor's
// stdin and the last writes its stdout.
//
// All pipes are created before the first child is started. Pipe descriptors
// are close-on-exec, so a child keeps only the two ends installed as its
// stdin and stdout; the parent closes every end once all stages are started.
// A stage that cannot be started is recorded with ExecFailedStatus and its
// neighbours see end-of-stream or a broken pipe instead of hanging.
func (e *Executor) RunPipeline(p Pipeline) ([]Result, error) {
	if len(p) == 0 {
		return nil, ErrEmptyPipeline
	}

	pipes := make([]pipePair, 0, len(p)-1)
	for i := 0; i < len(p)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			e.log().Error("pipe failed", zap.Int("stage", i), zap.Error(err))
			e.closePipes(pipes)
			return nil, fmt.Errorf("pipe: %w", err)
		}
		pipes = append(pipes, pipePair{r: r, w: w})
	}

	start := time.Now()
	results := make([]Result, len(p))
	cmds := make([]*exec.Cmd, len(p))
	for i, stage := range p {
		results[i].Name = stage.String()

		c, err := stage.Resolve(searchPath(e.Env))
		if err != nil {
			e.log().Error("pipeline stage not executable", zap.Int("stage", i), zap.Error(err))
			results[i].ExitCode = ExecFailedStatus
			continue
		}
		results[i].Name = c.Name()

		cmd := e.command(c)
		if i > 0 {
			cmd.Stdin = pipes[i-1].r
		}
		if i < len(p)-1 {
			cmd.Stdout = pipes[i].w
		}
		if err := cmd.Start(); err != nil {
			if IsExecFailure(err) {
				e.log().Info("exec failed", zap.String("command", c.Name()), zap.Error(err))
			} else {
				e.log().Warn("fork failed", zap.String("command", c.Name()), zap.Error(err))
			}
			results[i].ExitCode = ExecFailedStatus
			continue
		}
		results[i].Pid = cmd.Process.Pid
		cmds[i] = cmd
	}

	e.closePipes(pipes)

	type exited struct {
		stage int
		err   error
	}
	done := make(chan exited)
	running := 0
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		running++
		go func(i int, cmd *exec.Cmd) {
			done <- exited{stage: i, err: cmd.Wait()}
		}(i, cmd)
	}
	for ; running > 0; running-- {
		ex := <-done
		res := &results[ex.stage]
		res.Elapsed = time.Since(start)
		var exitErr *exec.ExitError
		if ex.err != nil && !errors.As(ex.err, &exitErr) {
			e.log().Warn("wait failed", zap.String("command", res.Name), zap.Int("pid", res.Pid), zap.Error(ex.err))
		}
		res.setState(cmds[ex.stage].ProcessState)
	}
	return results, nil
}
