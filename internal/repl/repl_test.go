package repl

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"procshell/internal/config"
	"procshell/internal/pgroup"
	"procshell/internal/reaper"
	"procshell/internal/sig"
)

// TestMain lets the test binary act as the polling supervisor.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == reaper.SuperviseCommand {
		interval, argv, err := reaper.ParseSupervisorArgs(os.Args[2:])
		if err != nil {
			os.Exit(2)
		}
		os.Exit(reaper.Supervise(argv, interval, zap.NewNop()))
	}
	os.Exit(m.Run())
}

// scriptReader hands out lines as the test sends them; closing lines is
// end of input.
type scriptReader struct {
	lines chan string
}

func newScriptReader(lines ...string) *scriptReader {
	r := &scriptReader{lines: make(chan string, 16)}
	for _, l := range lines {
		r.lines <- l
	}
	return r
}

func (r *scriptReader) ReadLine() (string, error) {
	line, ok := <-r.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

// syncBuffer is written by the shell and by children's copy goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func devNull(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// sleeperGroup starts a sleeper in its own process group, standing in for
// the shell's group so the shutdown broadcast stays inside the test.
func sleeperGroup(t *testing.T) (*pgroup.Group, *exec.Cmd) {
	t.Helper()
	c := exec.Command("sleep", "30")
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = unix.Kill(-c.Process.Pid, unix.SIGKILL) })
	return pgroup.Of(c.Process.Pid, nil), c
}

type testShell struct {
	*Shell
	out, errOut *syncBuffer
	reader      *scriptReader
	reaper      *reaper.SignalReaper
}

func newTestShell(t *testing.T, lines ...string) *testShell {
	t.Helper()
	ts := &testShell{
		out:    &syncBuffer{},
		errOut: &syncBuffer{},
		reader: newScriptReader(lines...),
		reaper: reaper.NewSignalReaper(zap.NewNop()),
	}
	s, err := New(Options{
		Stdin:  devNull(t),
		Stdout: ts.out,
		Stderr: ts.errOut,
		Reader: ts.reader,
		Reaper: ts.reaper,
		Gate:   sig.NewGate(sig.Handlers{Child: ts.reaper.Trigger}, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })
	ts.Shell = s
	return ts
}

func TestEvalStatus(t *testing.T) {
	ts := newTestShell(t)

	assert.Equal(t, 0, ts.Eval(""))
	assert.Equal(t, 0, ts.Eval("   \t"))
	assert.Equal(t, 0, ts.Eval("true"))
	assert.Equal(t, 1, ts.Eval("false"))
	assert.Equal(t, 1, ts.Eval("procshell-test-no-such-program"))
	assert.Empty(t, ts.reaper.Jobs())
}

func TestEvalBuiltin(t *testing.T) {
	ts := newTestShell(t)
	assert.Equal(t, 0, ts.Eval("pwd"))
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd+"\n", ts.out.String())

	assert.False(t, ts.Exiting())
	assert.Equal(t, 0, ts.Eval("exit"))
	assert.True(t, ts.Exiting())
}

func TestEvalBackground(t *testing.T) {
	ts := newTestShell(t)

	assert.Equal(t, 0, ts.Eval("sleep 0 & ignored words"))
	assert.Regexp(t, regexp.MustCompile(`^\[bg\] pid=\d+\n$`), ts.out.String())

	require.Eventually(t, func() bool {
		return len(ts.reaper.Jobs()) == 0
	}, 10*time.Second, 5*time.Millisecond)
	notices := ts.reaper.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, "sleep", notices[0].Name)
}

func TestRunStopsAtExit(t *testing.T) {
	ts := newTestShell(t, "pwd", "exit", "echo unreachable")
	assert.Equal(t, 0, ts.Run())

	out := ts.out.String()
	assert.Contains(t, out, "$ ")
	assert.NotContains(t, out, "unreachable")
	assert.Len(t, ts.reader.lines, 1)
}

func TestRunStopsAtEndOfInput(t *testing.T) {
	ts := newTestShell(t, "true")
	close(ts.reader.lines)
	assert.Equal(t, 0, ts.Run())
	assert.Equal(t, "$ $ \n", ts.out.String())
}

func TestRunReportsBackgroundCompletion(t *testing.T) {
	ts := newTestShell(t, "true &")
	done := make(chan int)
	go func() { done <- ts.Run() }()

	require.Eventually(t, func() bool {
		return len(ts.reaper.Jobs()) == 0 && len(ts.reader.lines) == 0
	}, 10*time.Second, 5*time.Millisecond)

	ts.reader.lines <- "pwd"
	ts.reader.lines <- "exit"
	assert.Equal(t, 0, <-done)
	assert.Regexp(t, regexp.MustCompile(`\[\d+\] true exited \(code 0\)\n\$ `), ts.out.String())
}

func TestRunReapsWhileWaitingForInput(t *testing.T) {
	ts := newTestShell(t, "sleep 0.2 &")
	done := make(chan int)
	go func() { done <- ts.Run() }()

	require.Eventually(t, func() bool {
		return len(ts.reader.lines) == 0 && strings.Contains(ts.out.String(), "[bg] pid=")
	}, 5*time.Second, time.Millisecond)

	// Run is blocked reading the next line; only the child's exit signal
	// can get the job reaped.
	require.Eventually(t, func() bool {
		return len(ts.reaper.Jobs()) == 0
	}, 10*time.Second, 10*time.Millisecond)
	assert.NotContains(t, ts.out.String(), "sleep exited", "notices wait for the next prompt")

	ts.reader.lines <- "pwd"
	ts.reader.lines <- "exit"
	assert.Equal(t, 0, <-done)
	assert.Regexp(t, `\[\d+\] sleep exited \(code 0\)\n\$ `, ts.out.String())
}

func TestEvalBackgroundExecFailure(t *testing.T) {
	ts := newTestShell(t)

	assert.Equal(t, 0, ts.Eval("procshell-test-no-such-program &"))
	assert.Equal(t, "[bg] pid=0\n", ts.out.String())
	assert.Empty(t, ts.errOut.String())

	notices := ts.reaper.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, "[0] procshell-test-no-such-program exited (code 1)", notices[0].String())
}

func TestRunSurvivesInterrupt(t *testing.T) {
	ts := newTestShell(t)
	done := make(chan int)
	go func() { done <- ts.Run() }()

	// An interrupt outside the read is dropped, so keep sending until one
	// lands inside it.
	require.Eventually(t, func() bool {
		ts.gate.Interrupt()
		return strings.Contains(ts.out.String(), "\n")
	}, 5*time.Second, time.Millisecond)

	ts.reader.lines <- "exit"
	assert.Equal(t, 0, <-done)
	assert.Regexp(t, `^\$ (\n\$ )+$`, ts.out.String())
}

func TestShutdownBroadcast(t *testing.T) {
	group, sleeper := sleeperGroup(t)
	ts := newTestShell(t)
	ts.group = group

	assert.Equal(t, 0, ts.Shutdown())
	err := sleeper.Wait()
	require.Error(t, err)
	ws := sleeper.ProcessState.Sys().(syscall.WaitStatus)
	assert.Equal(t, syscall.SIGTERM, ws.Signal())

	// Only the first call does anything.
	assert.Equal(t, 0, ts.Shutdown())
}

func TestShutdownBroadcastFailure(t *testing.T) {
	group, sleeper := sleeperGroup(t)
	require.NoError(t, unix.Kill(-group.ID(), unix.SIGKILL))
	_ = sleeper.Wait()

	ts := newTestShell(t)
	ts.group = group
	assert.Equal(t, 1, ts.Shutdown())
	assert.Contains(t, ts.errOut.String(), "shutdown: broadcast")
}

func TestNewFromConfig(t *testing.T) {
	for _, mode := range []string{"signal", "poll"} {
		t.Run(mode, func(t *testing.T) {
			group, sleeper := sleeperGroup(t)
			cfg := config.Default()
			cfg.Reaper.Mode = mode
			cfg.Reaper.PollInterval = "1ms"
			cfg.Prompt = "> "
			require.NoError(t, cfg.Validate())

			out := &syncBuffer{}
			reader := newScriptReader("true", "sleep 0 &")
			s, err := NewFromConfig(cfg, Options{
				Stdin:  devNull(t),
				Stdout: out,
				Stderr: &syncBuffer{},
				Reader: reader,
				Group:  group,
			})
			require.NoError(t, err)

			done := make(chan int)
			go func() { done <- s.Run() }()

			require.Eventually(t, func() bool {
				return len(reader.lines) == 0 && len(s.reaper.Jobs()) == 0
			}, 10*time.Second, 5*time.Millisecond)
			reader.lines <- "exit"
			assert.Equal(t, 0, <-done)

			assert.Regexp(t, `^> true exited, time used: \d+\.\d{6} s\n> \[bg\] pid=\d+\n`, out.String())
			_ = sleeper.Wait()
			assert.Equal(t, syscall.SIGTERM, sleeper.ProcessState.Sys().(syscall.WaitStatus).Signal())
		})
	}
}
