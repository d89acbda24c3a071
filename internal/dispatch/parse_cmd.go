package dispatch

import (
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// stage is one pipeline stage: an argument vector plus its redirection
// descriptors (step 1 of the classification algorithm).
type stage struct {
	Argv   []string
	Stdin  Redirect
	Stdout Redirect
	Stderr Redirect
}

// parseExecPlan parses command into its pipeline stages. More than one
// stage means the whole command is delegated to the host shell (step 2).
func parseExecPlan(command string) ([]stage, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, nil
	}

	var stages []stage
	for _, segment := range splitTopLevel(command, '|') {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		tokens, err := shellquote.Split(segment)
		if err != nil {
			return nil, err
		}
		st, err := buildStage(tokens)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

// splitTopLevel splits s on sep, ignoring occurrences inside single or
// double quotes (a bounded stand-in for full shell grammar, per the
// Non-goals in section 1).
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	var cur strings.Builder
	var inSingle, inDouble bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteByte(c)
		case c == sep && !inSingle && !inDouble:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// buildStage pulls redirection operators out of tokens, leaving argv.
func buildStage(tokens []string) (stage, error) {
	var st stage
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch {
		case tok == "<":
			if i+1 >= len(tokens) {
				return st, errBadRedirect(tok)
			}
			st.Stdin = Redirect{Kind: RedirectFile, Path: tokens[i+1]}
			i += 2
		case tok == ">" || tok == "1>":
			if i+1 >= len(tokens) {
				return st, errBadRedirect(tok)
			}
			st.Stdout = fileOrNull(tokens[i+1], false)
			i += 2
		case tok == ">>" || tok == "1>>":
			if i+1 >= len(tokens) {
				return st, errBadRedirect(tok)
			}
			st.Stdout = fileOrNull(tokens[i+1], true)
			i += 2
		case tok == "2>":
			if i+1 >= len(tokens) {
				return st, errBadRedirect(tok)
			}
			st.Stderr = fileOrNull(tokens[i+1], false)
			i += 2
		case tok == "2>>":
			if i+1 >= len(tokens) {
				return st, errBadRedirect(tok)
			}
			st.Stderr = fileOrNull(tokens[i+1], true)
			i += 2
		default:
			st.Argv = append(st.Argv, tok)
			i++
		}
	}
	return st, nil
}

func fileOrNull(path string, appendMode bool) Redirect {
	if isNullPath(path) {
		return Redirect{Kind: RedirectNull}
	}
	return Redirect{Kind: RedirectFile, Path: path, Append: appendMode}
}

type redirectError string

func (e redirectError) Error() string { return string(e) }

func errBadRedirect(tok string) error {
	return redirectError("dangling redirection operator " + tok)
}
