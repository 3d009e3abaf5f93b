package repl

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/abiosoft/readline"

	"procshell/internal/sig"
)

// byteReader hands out at most one byte per Read. Line readers built on it
// never consume input past the end of the current line, so typeahead is left
// for the next foreground command.
type byteReader struct {
	r io.Reader
}

func (b byteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return b.r.Read(p)
}

// plainReader reads newline-terminated lines from a pipe or file.
type plainReader struct {
	r *bufio.Reader
}

func newPlainReader(in io.Reader) *plainReader {
	return &plainReader{r: bufio.NewReader(byteReader{r: in})}
}

func (p *plainReader) ReadLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err == io.EOF && line != "" {
		// Last line without a terminator.
		err = nil
	}
	return strings.TrimSuffix(line, "\n"), err
}

// terminalReader edits lines interactively. History is disabled.
type terminalReader struct {
	rl *readline.Instance
}

func newTerminalReader(in *os.File, stdout, stderr io.Writer, prompt string) (*terminalReader, error) {
	cfg := &readline.Config{
		Prompt:         prompt,
		HistoryLimit:   -1,
		Stdin:          readline.NewCancelableStdin(byteReader{r: in}),
		Stdout:         stdout,
		Stderr:         stderr,
		FuncIsTerminal: func() bool { return true },
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, err
	}
	return &terminalReader{rl: rl}, nil
}

func (t *terminalReader) ReadLine() (string, error) {
	line, err := t.rl.Readline()
	if err == readline.ErrInterrupt {
		return "", sig.ErrInterrupted
	}
	return line, err
}

func (t *terminalReader) Close() error {
	return t.rl.Close()
}
