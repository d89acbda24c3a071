package parse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ymake/internal/variable"
)

func writeMakefile(t *testing.T, dir, text string) string {
	t.Helper()
	path := filepath.Join(dir, "makefile")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseMergesDependenciesAcrossRules(t *testing.T) {
	dir := t.TempDir()
	path := writeMakefile(t, dir, "all : a\n"+
		"all : b\n\t@echo building\n")

	scope := variable.NewRootScope(nil, dir)
	f, err := Parse(path, scope)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Rules) != 1 {
		t.Fatalf("expected 1 merged rule, got %d", len(f.Rules))
	}
	got := f.Rules[0].Prereqs
	want := []string{"a", "b"}
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("prereqs mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDuplicateRecipeIsError(t *testing.T) {
	dir := t.TempDir()
	path := writeMakefile(t, dir, "all : a\n\t@echo one\n"+
		"all : b\n\t@echo two\n")

	scope := variable.NewRootScope(nil, dir)
	_, err := Parse(path, scope)
	if err == nil {
		t.Fatal("expected DuplicateRecipe error, got nil")
	}
}

func TestParseConditional(t *testing.T) {
	dir := t.TempDir()
	path := writeMakefile(t, dir, "OS = linux\n"+
		"!if \"$(OS)\" == \"linux\"\n"+
		"target : linux-dep\n"+
		"!else\n"+
		"target : other-dep\n"+
		"!endif\n")

	scope := variable.NewRootScope(nil, dir)
	f, err := Parse(path, scope)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Rules) != 1 || f.Rules[0].Prereqs[0] != "linux-dep" {
		t.Fatalf("expected the true branch's rule only, got %+v", f.Rules)
	}
}

func TestParseRuleAttributes(t *testing.T) {
	dir := t.TempDir()
	path := writeMakefile(t, dir, "clean:QV: \n\trm -rf build\n")

	scope := variable.NewRootScope(nil, dir)
	f, err := Parse(path, scope)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(f.Rules))
	}
	r := f.Rules[0]
	if !r.Attrs.Quiet || !r.Attrs.Virtual {
		t.Errorf("Attrs = %+v, want Quiet and Virtual set", r.Attrs)
	}
	if r.Attrs.NonStop || r.Attrs.Exclusive {
		t.Errorf("Attrs = %+v, want NonStop and Exclusive clear", r.Attrs)
	}
}

func TestParseRuleWithoutAttributesUnaffected(t *testing.T) {
	dir := t.TempDir()
	path := writeMakefile(t, dir, "all : a b\n\t@echo building\n")

	scope := variable.NewRootScope(nil, dir)
	f, err := Parse(path, scope)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r := f.Rules[0]
	if r.Attrs != (Attrs{}) {
		t.Errorf("Attrs = %+v, want zero value", r.Attrs)
	}
	want := []string{"a", "b"}
	if diff := cmp.Diff(want, r.Prereqs); diff != "" {
		t.Errorf("prereqs mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDefaultTarget(t *testing.T) {
	dir := t.TempDir()
	path := writeMakefile(t, dir, "first : dep1\n\t@echo first\n"+
		"second : dep2\n\t@echo second\n")

	scope := variable.NewRootScope(nil, dir)
	f, err := Parse(path, scope)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.DefaultTarget != "first" {
		t.Errorf("DefaultTarget = %q, want %q", f.DefaultTarget, "first")
	}
}
