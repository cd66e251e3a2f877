package command

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyCommand is returned by ParseLine for blank input.
var ErrEmptyCommand = errors.New("empty command")

// ParseLine turns a line typed at the shell into an envelope. When reg knows
// the command, its key positions are tagged so cluster routing works.
func ParseLine(line string, reg *Registry) (Envelope, error) {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return Envelope{}, ErrEmptyCommand
	}

	name := strings.ToUpper(tokens[0])
	args := make([]any, len(tokens)-1)
	for i, tok := range tokens[1:] {
		args[i] = tok
	}

	if reg != nil {
		if doc := reg.Get(name); doc != nil {
			for _, pos := range doc.keyPositions(len(args)) {
				args[pos] = NewKey(tokens[pos+1])
			}
		}
	}
	return New(name, args...), nil
}

// tokenize splits input on whitespace, honouring double quotes and
// backslash escapes. An escaped quote becomes a literal quote.
func tokenize(input string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	escaped := false
	started := false

	for _, r := range input {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		switch {
		case r == '\\':
			escaped = true
			started = true
		case r == '"':
			inQuotes = !inQuotes
			started = true
		case unicode.IsSpace(r) && !inQuotes:
			if started {
				tokens = append(tokens, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}

	if started {
		tokens = append(tokens, current.String())
	}
	return tokens
}
