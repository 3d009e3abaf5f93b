// Package sig turns interrupt and child-termination signals into ordinary
// Go events and keeps them away from the shell while it reads input.
package sig

import (
	"errors"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	// ErrInterrupted is returned by ReadLine when an interrupt arrives
	// while waiting for input.
	ErrInterrupted = errors.New("interrupted")

	// ErrGateClosed is returned when the gate is not running.
	ErrGateClosed = errors.New("signal gate closed")
)

// Handlers are called from the gate's dispatch goroutine, never from a
// signal context. They must not touch the line reader.
type Handlers struct {
	// Child is called for every child-termination signal, including those
	// that arrive during a masked read.
	Child func()
}

// Gate receives SIGINT and SIGCHLD. Interrupts are never fatal: outside a
// masked read they are dropped, inside one they abort the read. Child
// signals are passed on as they arrive, so background children are reaped
// while the shell waits for input; what is reported to the user is printed
// between reads.
type Gate struct {
	handlers Handlers
	log      *zap.Logger

	signals chan os.Signal
	notify  bool

	mu          sync.Mutex
	running     bool
	held        bool
	interrupted chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

func NewGate(h Handlers, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		handlers: h,
		log:      log,
		signals:  make(chan os.Signal, 16),
		notify:   true,
	}
}

// newGateFrom builds a gate fed from ch instead of the process's signals.
func newGateFrom(ch chan os.Signal, h Handlers, log *zap.Logger) *Gate {
	g := NewGate(h, log)
	g.signals = ch
	g.notify = false
	return g
}

// Start installs the signal handlers. Once it returns SIGINT no longer
// terminates the process.
func (g *Gate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	if g.notify {
		signal.Notify(g.signals, unix.SIGINT, unix.SIGCHLD)
	}
	g.running = true
	g.done = make(chan struct{})
	g.wg.Add(1)
	go g.dispatch(g.done)
}

// Stop removes the handlers and waits for the dispatcher to finish.
func (g *Gate) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	if g.notify {
		signal.Stop(g.signals)
	}
	close(g.done)
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gate) dispatch(done <-chan struct{}) {
	defer g.wg.Done()
	for {
		select {
		case s := <-g.signals:
			switch s {
			case unix.SIGINT:
				g.interrupt()
			case unix.SIGCHLD:
				g.child()
			}
		case <-done:
			return
		}
	}
}

func (g *Gate) interrupt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held || g.interrupted == nil {
		return
	}
	select {
	case <-g.interrupted:
	default:
		close(g.interrupted)
	}
}

func (g *Gate) child() {
	if g.handlers.Child != nil {
		g.handlers.Child()
	}
}

// Interrupt behaves as if SIGINT had been received.
func (g *Gate) Interrupt() {
	g.interrupt()
}

func (g *Gate) hold() (<-chan struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil, ErrGateClosed
	}
	g.held = true
	g.interrupted = make(chan struct{})
	return g.interrupted, nil
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
	g.interrupted = nil
}

// MaskDuringRead runs read as an interruptible read. The channel passed to
// read is closed if an interrupt arrives. The mask is released on every exit
// path, including a panic in read. If the gate is not running the failure is
// logged and read runs unprotected.
func (g *Gate) MaskDuringRead(read func(interrupted <-chan struct{}) error) error {
	interrupted, err := g.hold()
	if err != nil {
		g.log.Warn("mask signals for read", zap.Error(err))
		return read(nil)
	}
	defer g.release()
	return read(interrupted)
}
