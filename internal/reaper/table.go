package reaper

import (
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"
)

// State is the terminal or stopped state of a reaped child.
type State int

const (
	Exited State = iota
	Signaled
	Stopped
	// Lost means the child could not be waited for; Err says why.
	Lost
)

// Notice reports one background child changing state.
type Notice struct {
	Pid    int
	Name   string
	State  State
	Code   int
	Signal syscall.Signal
	Err    error

	// Supervised notices come from a polling supervisor's exit status. The
	// supervisor mirrors its child's status on a best-effort basis only.
	Supervised bool
}

func (n Notice) String() string {
	switch n.State {
	case Exited:
		return fmt.Sprintf("[%d] %s exited (code %d)", n.Pid, n.Name, n.Code)
	case Signaled:
		return fmt.Sprintf("[%d] %s killed by signal: %v", n.Pid, n.Name, n.Signal)
	case Stopped:
		return fmt.Sprintf("[%d] %s stopped by signal: %v", n.Pid, n.Name, n.Signal)
	default:
		return fmt.Sprintf("[%d] %s lost: %v", n.Pid, n.Name, n.Err)
	}
}

// Job is an outstanding background child.
type Job struct {
	Pid     int
	Name    string
	Started time.Time
}

// table is the bookkeeping shared by both strategies.
type table struct {
	mu      sync.Mutex
	jobs    map[int]Job
	notices []Notice
}

func newTable() *table {
	return &table{jobs: make(map[int]Job)}
}

func (t *table) track(pid int, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[pid] = Job{Pid: pid, Name: name, Started: time.Now()}
}

func (t *table) pids() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.jobs))
	for pid := range t.jobs {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

func (t *table) name(pid int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[pid].Name
}

// finish records n and forgets the job unless it only stopped.
func (t *table) finish(n Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.State != Stopped {
		delete(t.jobs, n.Pid)
	}
	t.notices = append(t.notices, n)
}

func (t *table) Drain() []Notice {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.notices
	t.notices = nil
	return out
}

func (t *table) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pid < out[j].Pid })
	return out
}
