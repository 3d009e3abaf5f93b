package reaper

import (
	"os/exec"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"procshell/internal/executor"
)

type wait4Func func(pid int, ws *unix.WaitStatus, options int, ru *unix.Rusage) (int, error)

// SignalReaper reaps background children when told a child changed state.
// Every trigger sweeps all outstanding children, so several children exiting
// between two triggers are still collected.
//
// Only pids started through Launch are ever waited for. Foreground children
// and pipeline stages are waited for by their own callers, so the two never
// compete for the same pid.
type SignalReaper struct {
	*table

	log     *zap.Logger
	wait4   wait4Func
	trigger chan struct{}
	done    chan struct{}
	sweepMu sync.Mutex
	wg      sync.WaitGroup
	once    sync.Once
}

var _ Reaper = (*SignalReaper)(nil)

func NewSignalReaper(log *zap.Logger) *SignalReaper {
	r := &SignalReaper{
		table:   newTable(),
		log:     log,
		wait4:   unix.Wait4,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *SignalReaper) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.trigger:
			r.Sweep()
		case <-r.done:
			return
		}
	}
}

// Launch starts cmd and hands it to the sweeper. The os.Process handle is
// released straight away; the child is waited for by pid only.
//
// A program that cannot be executed is not an error: no process exists, so
// pid 0 is returned and a notice with ExecFailedStatus is recorded, as if the
// child had run and exited with it.
func (r *SignalReaper) Launch(cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		if !executor.IsExecFailure(err) {
			return 0, err
		}
		r.log.Info("exec failed", zap.String("command", cmd.Args[0]), zap.Error(err))
		r.finish(Notice{Name: cmd.Args[0], State: Exited, Code: executor.ExecFailedStatus})
		return 0, nil
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		r.log.Warn("release process handle", zap.Int("pid", pid), zap.Error(err))
	}
	r.track(pid, cmd.Args[0])
	// The child may already have exited before it was tracked.
	r.Trigger()
	return pid, nil
}

func (r *SignalReaper) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Sweep waits without blocking for every tracked child and returns how many
// changed state.
func (r *SignalReaper) Sweep() int {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	changed := 0
	for _, pid := range r.pids() {
		if r.reap(pid) {
			changed++
		}
	}
	return changed
}

func (r *SignalReaper) reap(pid int) bool {
	var ws unix.WaitStatus
	for {
		wpid, err := r.wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			r.log.Warn("reap failed", zap.Int("pid", pid), zap.Error(err))
			r.finish(Notice{Pid: pid, Name: r.name(pid), State: Lost, Err: err})
			return true
		case err != nil:
			r.log.Warn("reap failed", zap.Int("pid", pid), zap.Error(err))
			return false
		case wpid == 0:
			return false
		}
		r.finish(noticeFor(pid, r.name(pid), ws))
		return true
	}
}

func noticeFor(pid int, name string, ws unix.WaitStatus) Notice {
	n := Notice{Pid: pid, Name: name}
	switch {
	case ws.Exited():
		n.State = Exited
		n.Code = ws.ExitStatus()
	case ws.Signaled():
		n.State = Signaled
		n.Code = -1
		n.Signal = ws.Signal()
	case ws.Stopped():
		n.State = Stopped
		n.Signal = ws.StopSignal()
	}
	return n
}

func (r *SignalReaper) Close() error {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}
