package graph

import (
	"os"
	"path/filepath"
)

// statTarget fills Exists/ModTime from the filesystem, relative to the
// target's scope directory when the path isn't already absolute.
func (t *Target) statTarget() {
	path := t.Path
	if t.Scope != nil && !filepath.IsAbs(path) {
		path = filepath.Join(t.Scope.Dir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Exists = false
		return
	}
	t.Exists = true
	t.ModTime = info.ModTime()
}

// MarkRebuildRequired performs the DFS described in 4.3: parents are
// visited (and stat'd) before the target itself, so "any parent is
// rebuild-required" and timestamp comparisons see final parent state.
func (g *Graph) MarkRebuildRequired(root *Target) {
	g.markRebuildRequired(root, make(map[*Target]bool))
}

func (g *Graph) markRebuildRequired(t *Target, visited map[*Target]bool) {
	if visited[t] {
		return
	}
	visited[t] = true

	for _, p := range t.Parents {
		g.markRebuildRequired(p, visited)
	}

	if !t.Virtual {
		t.statTarget()
	}

	required := t.Virtual || !t.Exists
	if !required {
		for _, p := range t.Parents {
			if p.RebuildRequired {
				required = true
				break
			}
			// Equal timestamps are "not newer": no rebuild on that edge.
			if !p.Virtual && p.Exists && p.ModTime.After(t.ModTime) {
				required = true
				break
			}
		}
	}
	t.RebuildRequired = required

	count := 0
	for _, p := range t.Parents {
		if p.RebuildRequired {
			count++
		}
	}
	t.NumberParentsToBuild = count
}

// SeedReady places every rebuild-required target with zero pending
// parents onto Ready; everything else (rebuild-required or not) stays on
// Waiting, matching invariant 1 in the testable-properties section.
func (g *Graph) SeedReady() {
	for _, t := range g.All() {
		if t.RebuildRequired && t.NumberParentsToBuild == 0 && t.State == Waiting {
			g.MoveToReady(t)
		}
	}
}
