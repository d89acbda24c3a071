package variable

import (
	"os"
	"strings"

	"ymake/internal/errs"
)

// maxExpansionDepth bounds re-entrant expansion: a value that references
// itself (directly or through a cycle of variables) fails instead of
// looping forever.
const maxExpansionDepth = 64

// Expand resolves every $(name) and $NAME$ reference in line against scope,
// returning the expanded text and the set of variable names that were
// referenced but undefined (the diagnostic flag from 4.1). depth is the
// current re-entrancy depth; callers expanding a top-level line pass 0.
func Expand(scope *Scope, line string, depth int) (string, []string, error) {
	if depth > maxExpansionDepth {
		return "", nil, errs.New(errs.VariableExpansionTooDeep,
			"variable expansion exceeded depth %d while expanding %q", maxExpansionDepth, line)
	}

	var out strings.Builder
	var undefined []string
	i := 0
	for i < len(line) {
		j := strings.IndexByte(line[i:], '$')
		if j < 0 {
			out.WriteString(line[i:])
			break
		}
		out.WriteString(line[i : i+j])
		i += j

		if i+1 < len(line) && line[i+1] == '$' {
			out.WriteByte('$')
			i += 2
			continue
		}

		if i+1 < len(line) && line[i+1] == '(' {
			name, rest, ok := scanParenName(line[i+2:])
			if !ok {
				out.WriteByte('$')
				i++
				continue
			}
			val, def, err := lookupExpanded(scope, name, depth)
			if err != nil {
				return "", nil, err
			}
			if !def {
				undefined = append(undefined, name)
			}
			out.WriteString(val)
			i = len(line) - len(rest)
			continue
		}

		if name, rest, ok := scanDollarName(line[i+1:]); ok {
			val, def, err := lookupExpanded(scope, name, depth)
			if err != nil {
				return "", nil, err
			}
			if !def {
				undefined = append(undefined, name)
			}
			out.WriteString(val)
			i = len(line) - len(rest)
			continue
		}

		// Lone '$' with no recognized form: pass through literally.
		out.WriteByte('$')
		i++
	}

	return out.String(), undefined, nil
}

// scanParenName consumes up to the matching ')' after "$(", returning the
// enclosed name and the remainder of the string after the ')'.
func scanParenName(s string) (name, rest string, ok bool) {
	k := strings.IndexByte(s, ')')
	if k < 0 {
		return "", s, false
	}
	return s[:k], s[k+1:], true
}

// scanDollarName recognizes the recipe-local "$NAME$" alternative form: a
// run of identifier characters terminated by a second '$'.
func scanDollarName(s string) (name, rest string, ok bool) {
	k := 0
	for k < len(s) && isNameRune(s[k]) {
		k++
	}
	if k == 0 || k >= len(s) || s[k] != '$' {
		return "", s, false
	}
	return s[:k], s[k+1:], true
}

func isNameRune(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// lookupExpanded resolves name and, if its binding is itself referenced
// through further expansion, recurses with depth+1 (re-entrant expansion,
// 4.1).
func lookupExpanded(scope *Scope, name string, depth int) (string, bool, error) {
	var val string
	b, found := scope.lookupRaw(name)
	switch {
	case found && b.lazy:
		val = b.raw
	case found:
		val = b.value
	default:
		env, ok := os.LookupEnv(name)
		if !ok {
			return "", false, nil
		}
		val = env
	}
	if !strings.ContainsRune(val, '$') {
		return val, true, nil
	}
	expanded, _, err := Expand(scope, val, depth+1)
	if err != nil {
		return "", true, err
	}
	return expanded, true, nil
}
