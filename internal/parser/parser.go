// Package parser turns an input line into a command.
package parser

import (
	"strings"

	"procshell/internal/executor"
)

// BackgroundMarker, as a token of its own, makes the command run in the
// background.
const BackgroundMarker = "&"

// Fields splits line on runs of whitespace. There is no quoting or escaping.
func Fields(line string) []string {
	return strings.Fields(line)
}

// Parse tokenizes line. The first BackgroundMarker token ends the command and
// marks it as background; anything after it is discarded. A blank line, or
// one made only of the marker, yields executor.ErrEmptyCommand.
func Parse(line string) (executor.Command, bool, error) {
	tokens := Fields(line)
	background := false
	for i, tok := range tokens {
		if tok == BackgroundMarker {
			tokens = tokens[:i]
			background = true
			break
		}
	}
	cmd, err := executor.NewCommand(tokens...)
	if err != nil {
		return executor.Command{}, background, err
	}
	return cmd, background, nil
}
