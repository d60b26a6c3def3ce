package bridge

import (
	"fmt"
	"strings"
)

// SplitCommand tokenizes a command line with shell-style quoting: single and
// double quotes group words, backslash escapes the next character outside
// single quotes.
func SplitCommand(command string) ([]string, error) {
	var (
		parts    []string
		current  strings.Builder
		inSingle bool
		inDouble bool
		escaped  bool
		hasToken bool
	)

	for _, ch := range command {
		if escaped {
			current.WriteRune(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && !inSingle:
			escaped = true
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			hasToken = true
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			hasToken = true
		case !inSingle && !inDouble && (ch == ' ' || ch == '\t'):
			if current.Len() > 0 || hasToken {
				parts = append(parts, current.String())
				current.Reset()
				hasToken = false
			}
		default:
			current.WriteRune(ch)
		}
	}

	if escaped {
		return nil, fmt.Errorf("trailing escape character")
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	if current.Len() > 0 || hasToken {
		parts = append(parts, current.String())
	}
	return parts, nil
}
