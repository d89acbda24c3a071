package parse

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ymake/internal/errs"
	"ymake/internal/variable"
)

// RecipeLine is one raw, unexpanded recipe line (the leading tab already
// stripped). Variable expansion happens later, in the Execution Plan
// Builder (4.4), against the scope active when the plan is built.
type RecipeLine struct {
	Text string
	File string
	Line int
}

// Attrs carries the rule-level attribute sigils from the teacher's
// attribSet: `Q` suppresses echo for every command in the recipe, `E`
// ignores errors for every command, `V` marks the target phony, `X`
// makes the target exclusive (the Scheduler never runs it alongside any
// other recipe).
type Attrs struct {
	Quiet     bool
	NonStop   bool
	Virtual   bool
	Exclusive bool
}

func (a *Attrs) merge(b Attrs) {
	a.Quiet = a.Quiet || b.Quiet
	a.NonStop = a.NonStop || b.NonStop
	a.Virtual = a.Virtual || b.Virtual
	a.Exclusive = a.Exclusive || b.Exclusive
}

// ExplicitRule is a parsed "target : deps" rule with its recipe body.
type ExplicitRule struct {
	Target  string
	Prereqs []string
	Attrs   Attrs
	Recipe  []RecipeLine
	Scope   *variable.Scope
	File    string
	Line    int

	recipeOwnerLine int // line of the header that first attached a recipe, 0 if none yet
}

// InferencePattern is a parsed ".ext1.ext2:" rule.
type InferencePattern struct {
	FromExt string
	ToExt   string
	Attrs   Attrs
	Recipe  []RecipeLine
	Scope   *variable.Scope
	File    string
	Line    int
}

// File is the flattened result of parsing one makefile and everything it
// transitively !includes: every explicit rule and inference rule found,
// in source order, each tagged with the scope it was parsed under.
type File struct {
	Rules         []*ExplicitRule
	Patterns      []*InferencePattern
	DefaultTarget string
}

var assignRE = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(:=|=)\s*(.*)$`)
var inferencePatternRE = regexp.MustCompile(`^\.([A-Za-z0-9_]+)\.([A-Za-z0-9_]+)$`)

type condFrame struct {
	active bool // this branch currently emits lines
	taken  bool // some branch in this if/else chain has already been true
	parent bool // whether the enclosing frame is active (gates this one)
}

// parser holds state threaded through one makefile's parse (and its
// includes), merging rules for the same target as 4.2 specifies.
type parser struct {
	byTarget map[string]*ExplicitRule
	file     *File
	seenDirs map[string]bool // cycle guard for !include
}

// Parse reads filename's logical lines and recursively follows !include,
// returning the flattened rule set. scope is the root scope; nested
// includes get a child scope per new directory (4.2's Include row).
func Parse(filename string, scope *variable.Scope) (*File, error) {
	p := &parser{byTarget: make(map[string]*ExplicitRule), file: &File{}, seenDirs: make(map[string]bool)}
	if err := p.parseFile(filename, scope); err != nil {
		return nil, err
	}
	return p.file, nil
}

func (p *parser) parseFile(filename string, scope *variable.Scope) error {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return errs.New(errs.IoError, "resolving path %q: %v", filename, err)
	}
	if p.seenDirs[abs] {
		return errs.At(errs.ParseError, filename, 0, 0, "circular !include of %q", filename)
	}
	p.seenDirs[abs] = true

	data, err := os.ReadFile(filename)
	if err != nil {
		return errs.At(errs.ParseError, filename, 0, 0, "reading makefile: %v", err)
	}

	lines := ReadLogicalLines(data, filename)

	var stack []condFrame
	active := func() bool {
		for _, f := range stack {
			if !f.active {
				return false
			}
		}
		return true
	}

	var pendingRule *ExplicitRule
	var pendingHeaderLine int
	var pendingPattern *InferencePattern

	flushPending := func() {
		pendingRule = nil
		pendingPattern = nil
	}

	for i := 0; i < len(lines); i++ {
		ln := lines[i]

		if ln.IsRecipe {
			if !active() {
				continue
			}
			text := strings.TrimPrefix(ln.Text, "\t")
			rl := RecipeLine{Text: text, File: ln.File, Line: ln.LineNo}
			switch {
			case pendingRule != nil:
				if pendingRule.recipeOwnerLine != 0 && pendingRule.recipeOwnerLine != pendingHeaderLine {
					return errs.At(errs.ParseError, ln.File, ln.LineNo, 0,
						"DuplicateRecipe: target %q already has a recipe (from line %d)",
						pendingRule.Target, pendingRule.recipeOwnerLine)
				}
				if pendingRule.recipeOwnerLine == 0 {
					pendingRule.recipeOwnerLine = pendingHeaderLine
				}
				pendingRule.Recipe = append(pendingRule.Recipe, rl)
			case pendingPattern != nil:
				pendingPattern.Recipe = append(pendingPattern.Recipe, rl)
			default:
				return errs.At(errs.ParseError, ln.File, ln.LineNo, 0, "recipe line with no preceding rule")
			}
			continue
		}

		trimmed := strings.TrimSpace(ln.Text)
		if trimmed == "" {
			flushPending()
			continue
		}

		if strings.HasPrefix(trimmed, "!") {
			if err := p.handleDirective(trimmed, ln, scope, &stack, active, &pendingRule, &pendingPattern); err != nil {
				return err
			}
			continue
		}

		if !active() {
			continue
		}

		if m := assignRE.FindStringSubmatch(trimmed); m != nil {
			flushPending()
			name, op, rawValue := m[1], m[2], m[3]
			if op == ":=" {
				expanded, _, err := variable.Expand(scope, rawValue, 0)
				if err != nil {
					return err
				}
				scope.SetEager(name, expanded)
			} else {
				scope.SetLazy(name, rawValue)
			}
			continue
		}

		if err := p.handleRuleHeader(trimmed, ln, scope, &pendingRule, &pendingPattern); err != nil {
			return err
		}
		pendingHeaderLine = ln.LineNo
	}

	if !active() && len(stack) > 0 {
		return errs.At(errs.ParseError, filename, 0, 0, "unterminated !if at end of file")
	}
	return nil
}

func (p *parser) handleDirective(line string, ln Line, scope *variable.Scope, stack *[]condFrame,
	active func() bool, pendingRule **ExplicitRule, pendingPattern **InferencePattern) error {

	*pendingRule = nil
	*pendingPattern = nil

	word, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	word = strings.ToLower(strings.TrimSpace(word))

	switch word {
	case "if", "ifdef", "ifndef":
		parentActive := active()
		var cond bool
		if parentActive {
			expanded, _, err := variable.Expand(scope, rest, 0)
			if err != nil {
				return err
			}
			switch word {
			case "ifdef":
				_, cond = scope.Lookup(rest)
			case "ifndef":
				_, defined := scope.Lookup(rest)
				cond = !defined
			default:
				var err error
				cond, err = evalCondition(expanded)
				if err != nil {
					return errs.At(errs.ParseError, ln.File, ln.LineNo, 0, "%v", err)
				}
			}
		}
		*stack = append(*stack, condFrame{active: parentActive && cond, taken: cond, parent: parentActive})
		return nil

	case "else":
		if len(*stack) == 0 {
			return errs.At(errs.ParseError, ln.File, ln.LineNo, 0, "!else without matching !if")
		}
		top := &(*stack)[len(*stack)-1]
		top.active = top.parent && !top.taken
		if top.active {
			top.taken = true
		}
		return nil

	case "endif":
		if len(*stack) == 0 {
			return errs.At(errs.ParseError, ln.File, ln.LineNo, 0, "!endif without matching !if")
		}
		*stack = (*stack)[:len(*stack)-1]
		return nil

	case "include":
		if !active() {
			return nil
		}
		path, _, err := variable.Expand(scope, rest, 0)
		if err != nil {
			return err
		}
		path = strings.Trim(path, "\"")
		if !filepath.IsAbs(path) {
			path = filepath.Join(scope.Dir, path)
		}
		incScope := scope
		if dir := filepath.Dir(path); dir != scope.Dir {
			incScope = scope.Child(dir)
		}
		return p.parseFile(path, incScope)

	default:
		return errs.At(errs.ParseError, ln.File, ln.LineNo, 0, "unrecognized directive %q", word)
	}
}

func (p *parser) handleRuleHeader(line string, ln Line, scope *variable.Scope,
	pendingRule **ExplicitRule, pendingPattern **InferencePattern) error {

	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return errs.At(errs.ParseError, ln.File, ln.LineNo, 0, "expected assignment or rule, got %q", line)
	}

	targetsPart, err := expandFields(scope, line[:colon])
	if err != nil {
		return err
	}

	attrs, rest := parseRuleAttrs(line[colon+1:])
	prereqsPart, err := expandFields(scope, rest)
	if err != nil {
		return err
	}

	if len(targetsPart) == 1 {
		if m := inferencePatternRE.FindStringSubmatch(targetsPart[0]); m != nil {
			pat := &InferencePattern{FromExt: m[1], ToExt: m[2], Attrs: attrs, Scope: scope, File: ln.File, Line: ln.LineNo}
			p.file.Patterns = append(p.file.Patterns, pat)
			*pendingPattern = pat
			return nil
		}
	}
	if len(targetsPart) == 0 {
		return errs.At(errs.ParseError, ln.File, ln.LineNo, 0, "rule with no target")
	}

	var last *ExplicitRule
	for _, t := range targetsPart {
		if existing, ok := p.byTarget[t]; ok {
			existing.Prereqs = unionStrings(existing.Prereqs, prereqsPart)
			existing.Attrs.merge(attrs)
			last = existing
			continue
		}
		r := &ExplicitRule{Target: t, Prereqs: append([]string{}, prereqsPart...), Attrs: attrs, Scope: scope, File: ln.File, Line: ln.LineNo}
		p.byTarget[t] = r
		p.file.Rules = append(p.file.Rules, r)
		if p.file.DefaultTarget == "" && len(prereqsPart) > 0 {
			p.file.DefaultTarget = t
		}
		last = r
	}
	*pendingRule = last
	return nil
}

// parseRuleAttrs recognizes the teacher's "target:ATTRS:prereqs" form: an
// attribute letter run immediately after the first colon, terminated by a
// second colon. Absent that second colon, text is returned untouched as
// plain prerequisites (the common "target: deps" case).
func parseRuleAttrs(text string) (Attrs, string) {
	var a Attrs
	remaining := text
	for strings.ContainsRune(remaining, ':') {
		switch remaining[0] {
		case 'Q':
			a.Quiet = true
			remaining = remaining[1:]
		case 'E':
			a.NonStop = true
			remaining = remaining[1:]
		case 'V':
			a.Virtual = true
			remaining = remaining[1:]
		case 'X':
			a.Exclusive = true
			remaining = remaining[1:]
		case ':':
			remaining = remaining[1:]
			return a, remaining
		default:
			return Attrs{}, text
		}
	}
	return Attrs{}, text
}

func expandFields(scope *variable.Scope, s string) ([]string, error) {
	expanded, _, err := variable.Expand(scope, strings.TrimSpace(s), 0)
	if err != nil {
		return nil, err
	}
	return strings.Fields(expanded), nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, x := range a {
		seen[x] = true
	}
	for _, x := range b {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}

// evalCondition evaluates the small boolean subset supported by !if:
// string equality/inequality ("A"=="B") and bare nonempty-string
// truthiness, optionally negated with a leading '!'.
func evalCondition(expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	negate := false
	for strings.HasPrefix(expr, "!") {
		negate = !negate
		expr = strings.TrimSpace(expr[1:])
	}

	var result bool
	switch {
	case strings.Contains(expr, "=="):
		a, b, _ := strings.Cut(expr, "==")
		result = unquote(a) == unquote(b)
	case strings.Contains(expr, "!="):
		a, b, _ := strings.Cut(expr, "!=")
		result = unquote(a) != unquote(b)
	default:
		result = strings.TrimSpace(expr) != ""
	}
	if negate {
		result = !result
	}
	return result, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
