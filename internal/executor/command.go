package executor

import (
	"errors"
	"strings"
)

// ErrEmptyCommand is returned when a command has no program name.
var ErrEmptyCommand = errors.New("empty command")

// Command is a program name followed by its arguments. The zero value is an
// empty command. A Command never shares its backing slice with the caller.
type Command struct {
	argv []string
}

// NewCommand builds a Command from argv, where argv[0] is the program name.
func NewCommand(argv ...string) (Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return Command{}, ErrEmptyCommand
	}
	return Command{argv: append([]string(nil), argv...)}, nil
}

// MustCommand is like NewCommand but panics on an empty argument list. It is
// meant for the fixed commands of the built-in pipelines.
func MustCommand(argv ...string) Command {
	c, err := NewCommand(argv...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Command) Name() string {
	if len(c.argv) == 0 {
		return ""
	}
	return c.argv[0]
}

// Argv returns a copy of the full argument vector including the name.
func (c Command) Argv() []string {
	return append([]string(nil), c.argv...)
}

func (c Command) IsZero() bool {
	return len(c.argv) == 0
}

func (c Command) String() string {
	return strings.Join(c.argv, " ")
}
