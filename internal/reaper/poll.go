package reaper

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Poller runs every background command under a supervisor process that polls
// its child without blocking. The shell itself only waits for the
// supervisor, by pid, from a goroutine per job.
type Poller struct {
	*table

	exe      string
	interval time.Duration
	log      *zap.Logger
	wg       sync.WaitGroup
}

var _ Reaper = (*Poller)(nil)

func NewPoller(exe string, interval time.Duration, log *zap.Logger) *Poller {
	return &Poller{
		table:    newTable(),
		exe:      exe,
		interval: interval,
		log:      log,
	}
}

// Launch starts a supervisor for cmd. The returned pid is the supervisor's.
// A program that cannot be executed shows up as the supervisor exiting 1,
// like any other failing child.
func (p *Poller) Launch(cmd *exec.Cmd) (int, error) {
	argv := cmd.Args
	if cmd.Err == nil && cmd.Path != "" {
		// Already resolved against the child's PATH.
		argv = append([]string{cmd.Path}, cmd.Args[1:]...)
	}
	sup := exec.Command(p.exe, SupervisorArgs(p.interval, argv)...)
	sup.Env = cmd.Env
	sup.Dir = cmd.Dir
	sup.Stdin = cmd.Stdin
	sup.Stdout = cmd.Stdout
	sup.Stderr = cmd.Stderr
	if err := sup.Start(); err != nil {
		return 0, err
	}

	pid := sup.Process.Pid
	name := cmd.Args[0]
	p.track(pid, name)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := sup.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.log.Warn("supervisor wait failed", zap.Int("pid", pid), zap.Error(err))
			p.finish(Notice{Pid: pid, Name: name, State: Lost, Err: err, Supervised: true})
			return
		}
		n := Notice{Pid: pid, Name: name, Supervised: true}
		if ws, ok := sup.ProcessState.Sys().(syscall.WaitStatus); ok {
			n = noticeFor(pid, name, unix.WaitStatus(ws))
			n.Supervised = true
		} else {
			n.Code = sup.ProcessState.ExitCode()
		}
		p.finish(n)
	}()
	return pid, nil
}

// Trigger is a no-op: supervisors are observed by their own goroutines.
func (p *Poller) Trigger() {}

// Wait blocks until every supervisor launched so far has exited.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) Close() error {
	return nil
}
