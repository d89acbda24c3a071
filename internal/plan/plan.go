// Package plan implements the Execution Plan Builder (4.4): for each
// rebuild-required target, it expands the recipe body and strips leading
// sigils into graph.Command modifiers.
package plan

import (
	"strings"

	"ymake/internal/graph"
	"ymake/internal/variable"
)

// RawLine is one unexpanded recipe line as parsed, decoupled from the
// parse package's own type so plan only depends on graph and variable.
type RawLine struct {
	Text string
	File string
	Line int
}

// Build expands each raw recipe line against scope and strips its leading
// sigils, producing the target's ordered Commands (4.4).
func Build(scope *variable.Scope, lines []RawLine) ([]graph.Command, error) {
	commands := make([]graph.Command, 0, len(lines))
	for _, l := range lines {
		expanded, _, err := variable.Expand(scope, l.Text, 0)
		if err != nil {
			return nil, err
		}

		text, silent, ignoreErrors := stripSigils(expanded)
		commands = append(commands, graph.Command{
			Text:         text,
			Silent:       silent,
			IgnoreErrors: ignoreErrors,
			File:         l.File,
			Line:         l.Line,
		})
	}
	return commands, nil
}

// stripSigils removes any combination of leading '@' (silent) and '-'
// (ignore-errors) sigils, in any order, returning the remaining command
// text and the two modifiers it carried.
func stripSigils(s string) (text string, silent, ignoreErrors bool) {
	s = strings.TrimLeft(s, " \t")
	for len(s) > 0 {
		switch s[0] {
		case '@':
			silent = true
			s = s[1:]
		case '-':
			ignoreErrors = true
			s = s[1:]
		default:
			return s, silent, ignoreErrors
		}
	}
	return s, silent, ignoreErrors
}
