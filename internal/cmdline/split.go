// Package cmdline tokenizes target-command strings for subprocess
// spawning. There is no shell interpolation: the first token is the
// executable and the rest are passed as literal arguments.
package cmdline

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyCommand is returned when a command string has no tokens.
var ErrEmptyCommand = errors.New("command string is empty")

// Split tokenizes a command string. Contiguous non-whitespace runs are
// tokens; `"..."` and `'...'` starting a token delimit a literal token
// that may contain whitespace. An unmatched opening quote is treated as
// an ordinary character.
func Split(command string) []string {
	var tokens []string
	runes := []rune(command)
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		if runes[i] == '"' || runes[i] == '\'' {
			if end := indexRune(runes, i+1, runes[i]); end >= 0 {
				tokens = append(tokens, string(runes[i+1:end]))
				i = end + 1
				continue
			}
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		tokens = append(tokens, string(runes[start:i]))
	}
	return tokens
}

// Parse splits a command string into an executable and its arguments.
func Parse(command string) (name string, args []string, err error) {
	tokens := Split(command)
	if len(tokens) == 0 {
		return "", nil, ErrEmptyCommand
	}
	return tokens[0], tokens[1:], nil
}

// String renders tokens back into a display command, quoting tokens
// that contain whitespace. For logging only, not for re-parsing.
func String(tokens []string) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		if strings.ContainsFunc(tok, unicode.IsSpace) {
			parts[i] = `"` + tok + `"`
		} else {
			parts[i] = tok
		}
	}
	return strings.Join(parts, " ")
}

func indexRune(runes []rune, from int, r rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
