package sig

// LineReader reads one line of input without its terminator.
type LineReader interface {
	ReadLine() (string, error)
}

type lineResult struct {
	line string
	err  error
}

// InterruptibleReader lets a blocked read be abandoned. An abandoned read is
// kept pending and its result is returned by the next call, so no input is
// lost and the source is never read from two goroutines at once.
type InterruptibleReader struct {
	src     LineReader
	pending chan lineResult
}

func NewInterruptibleReader(src LineReader) *InterruptibleReader {
	return &InterruptibleReader{src: src}
}

// ReadLine returns the next line, or ErrInterrupted as soon as interrupted
// is closed. A nil channel never interrupts.
func (r *InterruptibleReader) ReadLine(interrupted <-chan struct{}) (string, error) {
	if r.pending == nil {
		ch := make(chan lineResult, 1)
		r.pending = ch
		go func() {
			line, err := r.src.ReadLine()
			ch <- lineResult{line: line, err: err}
		}()
	}
	select {
	case res := <-r.pending:
		r.pending = nil
		return res.line, res.err
	case <-interrupted:
		return "", ErrInterrupted
	}
}

// ReadLine reads one line from r with the gate masked.
func (g *Gate) ReadLine(r *InterruptibleReader) (string, error) {
	var line string
	err := g.MaskDuringRead(func(interrupted <-chan struct{}) error {
		var err error
		line, err = r.ReadLine(interrupted)
		return err
	})
	return line, err
}
