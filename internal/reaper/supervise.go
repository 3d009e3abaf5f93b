package reaper

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// SuperviseCommand is the hidden subcommand a polling supervisor runs as.
const SuperviseCommand = "supervise"

const intervalFlag = "--interval="

// SupervisorArgs is the argument list (after the executable) that makes the
// shell binary supervise argv.
func SupervisorArgs(interval time.Duration, argv []string) []string {
	args := []string{SuperviseCommand, intervalFlag + interval.String(), "--"}
	return append(args, argv...)
}

// ParseSupervisorArgs is the inverse of SupervisorArgs, without the leading
// subcommand name.
func ParseSupervisorArgs(args []string) (time.Duration, []string, error) {
	interval := DefaultPollInterval
	for i, arg := range args {
		switch {
		case arg == "--":
			if i+1 >= len(args) {
				return 0, nil, errors.New("supervise: no command")
			}
			return interval, args[i+1:], nil
		case strings.HasPrefix(arg, intervalFlag):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, intervalFlag))
			if err != nil {
				return 0, nil, fmt.Errorf("supervise: %w", err)
			}
			interval = d
		default:
			return 0, nil, fmt.Errorf("supervise: unexpected argument %q", arg)
		}
	}
	return 0, nil, errors.New("supervise: missing --")
}

// Supervise starts argv as a child, polls it without blocking until it
// terminates and returns the status the supervisor should exit with. The
// status mirrors the child's only as a courtesy: exit code when it exited,
// 128+signal when it was killed, 1 when it could not be started.
func Supervise(argv []string, interval time.Duration, log *zap.Logger) int {
	if len(argv) == 0 {
		return 1
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Info("exec failed", zap.String("command", argv[0]), zap.Error(err))
		return 1
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Warn("release process handle", zap.Int("pid", pid), zap.Error(err))
	}

	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			log.Warn("poll failed", zap.Int("pid", pid), zap.Error(err))
			return 1
		case wpid == pid:
			return exitStatus(ws)
		}
		time.Sleep(interval)
	}
}

func exitStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	}
	return 0
}
