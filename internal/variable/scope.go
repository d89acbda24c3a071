// Package variable implements the multi-scope variable store and the
// $(name) / $NAME$ expansion grammar described by the lexical layer.
package variable

import (
	"os"
	"strings"
)

// Store holds state that is process-wide rather than scope-local:
// command-line overrides, which outrank every scope and the environment.
type Store struct {
	Overrides map[string]string
}

// NewStore builds a Store from "name=value" command-line arguments.
func NewStore(overrides []string) *Store {
	s := &Store{Overrides: make(map[string]string, len(overrides))}
	for _, o := range overrides {
		name, value, ok := strings.Cut(o, "=")
		if !ok {
			continue
		}
		s.Overrides[normalize(name)] = value
	}
	return s
}

type binding struct {
	raw   string // unexpanded text for lazy ('=') assignments
	value string // resolved text for eager (':=') assignments
	lazy  bool
}

// Scope is a context bound to one directory of makefile input. Scopes
// form a tree mirroring !include structure; variable lookup consults the
// scope, then ancestor scopes nearest first, then the process environment.
type Scope struct {
	store  *Store
	Dir    string
	Parent *Scope
	vars   map[string]binding
}

// NewRootScope creates the top-level scope for the engine. The process
// environment is not copied in; Lookup consults it last, at the lowest
// precedence.
func NewRootScope(store *Store, dir string) *Scope {
	return &Scope{store: store, Dir: dir, vars: make(map[string]binding)}
}

// Child creates a nested scope for an !include'd file's directory.
func (s *Scope) Child(dir string) *Scope {
	return &Scope{store: s.store, Dir: dir, Parent: s, vars: make(map[string]binding)}
}

func normalize(name string) string {
	return strings.ToUpper(name)
}

// SetLazy records a '=' assignment: the value is expanded on every lookup.
func (s *Scope) SetLazy(name, raw string) {
	s.vars[normalize(name)] = binding{raw: raw, lazy: true}
}

// SetEager records a ':=' assignment: value is expanded now, once.
func (s *Scope) SetEager(name, expanded string) {
	s.vars[normalize(name)] = binding{value: expanded}
}

// lookupRaw returns the nearest binding for name without resolving a lazy
// one, walking command-line overrides, this scope, then ancestors.
func (s *Scope) lookupRaw(name string) (binding, bool) {
	key := normalize(name)
	if s.store != nil {
		if v, ok := s.store.Overrides[key]; ok {
			return binding{value: v}, true
		}
	}
	for sc := s; sc != nil; sc = sc.Parent {
		if b, ok := sc.vars[key]; ok {
			return b, true
		}
	}
	return binding{}, false
}

// Lookup resolves name per 4.1's precedence: overrides, scope, ancestors,
// environment, empty. ok is false only when the name fell through to
// environment-miss (callers use this to set the undefined-variable
// diagnostic flag).
func (s *Scope) Lookup(name string) (string, bool) {
	b, found := s.lookupRaw(name)
	if found {
		if b.lazy {
			v, _, _ := Expand(s, b.raw, 0)
			return v, true
		}
		return b.value, true
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	return "", false
}
