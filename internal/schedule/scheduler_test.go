package schedule

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"ymake/internal/graph"
	"ymake/internal/variable"
)

func newGraph(t *testing.T) (*graph.Graph, *variable.Scope) {
	t.Helper()
	dir := t.TempDir()
	return graph.New(), variable.NewRootScope(nil, dir)
}

func phony(g *graph.Graph, scope *variable.Scope, name string, cmds ...string) *graph.Target {
	t := g.Resolve(name, scope)
	t.Virtual = true
	t.ExplicitRecipe = true
	for _, c := range cmds {
		t.Commands = append(t.Commands, graph.Command{Text: c})
	}
	return t
}

func seedAllRebuildRequired(g *graph.Graph) {
	for _, t := range g.All() {
		t.RebuildRequired = true
		n := 0
		for _, p := range t.Parents {
			if p.RebuildRequired {
				n++
			}
		}
		t.NumberParentsToBuild = n
	}
	g.SeedReady()
}

func TestSchedulerDiamondOrdering(t *testing.T) {
	g, scope := newGraph(t)
	a := phony(g, scope, "a", "echo A")
	b := phony(g, scope, "b", "echo B")
	c := phony(g, scope, "c", "echo C")
	d := phony(g, scope, "d", "echo D")

	must(t, g.AddDependency(b, a))
	must(t, g.AddDependency(c, a))
	must(t, g.AddDependency(d, b))
	must(t, g.AddDependency(d, c))

	seedAllRebuildRequired(g)

	var buf bytes.Buffer
	s := New(g, Options{N: 2, Stdout: &buf, Silent: true})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Fields(buf.String())
	if len(lines) != 4 {
		t.Fatalf("got %d output lines, want 4: %v", len(lines), lines)
	}
	if lines[0] != "A" || lines[3] != "D" {
		t.Fatalf("output order = %v, want A first and D last", lines)
	}
	mid := map[string]bool{lines[1]: true, lines[2]: true}
	if !mid["B"] || !mid["C"] {
		t.Fatalf("middle outputs = %v, want {B, C}", lines[1:3])
	}
}

func TestSchedulerIgnoreErrorsModifier(t *testing.T) {
	g, scope := newGraph(t)
	target := phony(g, scope, "x")
	target.Commands = []graph.Command{
		{Text: "false", IgnoreErrors: true},
		{Text: "echo ok"},
	}
	seedAllRebuildRequired(g)

	var buf bytes.Buffer
	s := New(g, Options{N: 1, Stdout: &buf, Silent: true})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v, want success", err)
	}
	if buf.String() != "ok\n" {
		t.Fatalf("output = %q, want %q", buf.String(), "ok\n")
	}
}

func TestSchedulerFatalWithoutKeepGoing(t *testing.T) {
	g, scope := newGraph(t)
	phony(g, scope, "x", "false")
	phony(g, scope, "y", "false")
	seedAllRebuildRequired(g)

	s := New(g, Options{N: 2, Stdout: &bytes.Buffer{}, Silent: true, KeepGoing: false})
	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("want failure")
	}
}

func TestSchedulerCdLocality(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("assumes POSIX shell")
	}
	g, scope := newGraph(t)
	sub := filepath.Join(scope.Dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	target := g.Resolve("x", scope)
	target.Virtual = true
	target.Commands = []graph.Command{
		{Text: "cd sub"},
		{Text: "pwd"},
	}
	other := phony(g, scope, "y", "pwd")
	_ = other
	seedAllRebuildRequired(g)

	var buf bytes.Buffer
	s := New(g, Options{N: 1, Stdout: &buf, Silent: true})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantSub, _ := filepath.EvalSymlinks(sub)
	wantRoot, _ := filepath.EvalSymlinks(scope.Dir)
	found, foundRoot := false, false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		resolved, _ := filepath.EvalSymlinks(line)
		if resolved == wantSub {
			found = true
		}
		if resolved == wantRoot {
			foundRoot = true
		}
	}
	if !found {
		t.Fatalf("output = %q, want a line naming %q", buf.String(), wantSub)
	}
	if !foundRoot {
		t.Fatalf("output = %q, want target y to print the unchanged scope dir %q", buf.String(), wantRoot)
	}
}

func TestSchedulerTempDirIsolation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("assumes POSIX shell")
	}
	g, scope := newGraph(t)
	for _, name := range []string{"j0", "j1", "j2", "j3"} {
		phony(g, scope, name, `sh -c "echo x > $TEMP/f && cat $TEMP/f && rm $TEMP/f"`)
	}
	seedAllRebuildRequired(g)

	engineTemp := t.TempDir()
	var buf bytes.Buffer
	s := New(g, Options{N: 4, Stdout: &buf, Silent: true, Shell: "/bin/sh", EngineTemp: engineTemp})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 0; i < 4; i++ {
		dir := filepath.Join(engineTemp, jobDirName(i))
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("job dir %s still present after run", dir)
		}
	}
}

func jobDirName(id int) string {
	return "YMAKE" + string(rune('0'+id))
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
