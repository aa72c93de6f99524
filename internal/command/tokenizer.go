package command

import (
	"strings"

	shlex "github.com/anmitsu/go-shlex"
)

// Tokenize splits a command line into a command name followed by its
// arguments. Single and double quotes group words and backslash escapes
// the next character, as in a POSIX shell.
func Tokenize(payload string) ([]string, error) {
	return shlex.Split(payload, true)
}

// TokenizeOrSplit is Tokenize with a plain whitespace split as fallback
// for lines the shell grammar rejects, such as an unbalanced quote.
func TokenizeOrSplit(payload string) []string {
	args, err := Tokenize(payload)
	if err != nil {
		return strings.Fields(payload)
	}
	return args
}
