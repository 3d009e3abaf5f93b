// Package reaper observes the completion of background commands so they
// never linger as zombies. Two interchangeable strategies exist: a sweeper
// driven by child-termination signals, and a polling supervisor process per
// command. Exactly one is chosen when the shell starts.
package reaper

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"procshell/internal/executor"
)

// Mode selects the reaping strategy.
type Mode string

const (
	ModeSignal Mode = "signal"
	ModePoll   Mode = "poll"
)

// DefaultPollInterval is how long a polling supervisor sleeps between checks.
const DefaultPollInterval = 10 * time.Millisecond

// ErrUnknownMode is returned by New for an unsupported Mode.
var ErrUnknownMode = errors.New("unknown reaper mode")

// Reaper launches background commands and reports their completion.
type Reaper interface {
	executor.Launcher

	// Trigger tells the reaper that a child changed state. It never blocks.
	Trigger()
	// Drain returns and clears the completion notices gathered so far.
	Drain() []Notice
	// Jobs lists background children that have not been reaped yet.
	Jobs() []Job
	Close() error
}

type Options struct {
	Log *zap.Logger

	// PollInterval and Executable only apply to ModePoll. Executable is the
	// binary re-executed as the supervisor; it defaults to os.Executable.
	PollInterval time.Duration
	Executable   string
}

// New builds the reaper for mode. An empty mode means ModeSignal.
func New(mode Mode, opts Options) (Reaper, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	switch mode {
	case ModeSignal, "":
		return NewSignalReaper(opts.Log), nil
	case ModePoll:
		if opts.Executable == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate supervisor executable: %w", err)
			}
			opts.Executable = exe
		}
		if opts.PollInterval <= 0 {
			opts.PollInterval = DefaultPollInterval
		}
		return NewPoller(opts.Executable, opts.PollInterval, opts.Log), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}
