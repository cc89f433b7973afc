package pregel

import (
	"cmp"
	"slices"

	"github.com/google/uuid"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
)

type visitKey struct {
	node string
	path graph.PathID
}

// PathTracker counts how often each node is scheduled on each causal
// path. Forked paths are derived from their parent so a loop that keeps
// returning to the same lineage accumulates visits, while sibling
// branches converging on one node do not count against each other.
type PathTracker struct {
	max     int
	visits  map[visitKey]int
	lineage map[graph.PathID]graph.PathID
}

// NewPathTracker creates a tracker failing once a node is scheduled more
// than maxVisits times on one path. Zero disables the limit.
func NewPathTracker(maxVisits int) *PathTracker {
	return &PathTracker{
		max:     maxVisits,
		visits:  make(map[visitKey]int),
		lineage: make(map[graph.PathID]graph.PathID),
	}
}

// RestoreTracker rebuilds a tracker from checkpointed counts.
func RestoreTracker(maxVisits int, visits []checkpoint.Visit, lineage map[string]string) *PathTracker {
	t := NewPathTracker(maxVisits)
	for _, v := range visits {
		t.visits[visitKey{node: v.Node, path: graph.PathID(v.Path)}] = v.Count
	}
	for child, parent := range lineage {
		t.lineage[graph.PathID(child)] = graph.PathID(parent)
	}
	return t
}

// Root returns a fresh path for the start of a run.
func (t *PathTracker) Root() graph.PathID {
	return graph.PathID(uuid.NewString())
}

// Fork derives the path of one fan-out branch. The result is a pure
// function of parent and target.
func (t *PathTracker) Fork(parent graph.PathID, target string) graph.PathID {
	ns, err := uuid.Parse(string(parent))
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(parent))
	}
	child := graph.PathID(uuid.NewSHA1(ns, []byte(target)).String())
	t.lineage[child] = parent
	return child
}

// Join returns the path a fan-in continues on: the closest common
// ancestor of the converging paths, or the first path when they share none.
func (t *PathTracker) Join(paths []graph.PathID) graph.PathID {
	if len(paths) == 0 {
		return ""
	}
	for _, candidate := range t.ancestry(paths[0]) {
		shared := true
		for _, p := range paths[1:] {
			if !slices.Contains(t.ancestry(p), candidate) {
				shared = false
				break
			}
		}
		if shared {
			return candidate
		}
	}
	return paths[0]
}

// ancestry lists p followed by its ancestors, nearest first.
func (t *PathTracker) ancestry(p graph.PathID) []graph.PathID {
	out := []graph.PathID{p}
	seen := map[graph.PathID]bool{p: true}
	for {
		parent, ok := t.lineage[p]
		if !ok || seen[parent] {
			return out
		}
		out = append(out, parent)
		seen[parent] = true
		p = parent
	}
}

// Schedule records one scheduling of node on path and fails with a
// CycleError once the count exceeds the limit.
func (t *PathTracker) Schedule(node string, path graph.PathID) error {
	key := visitKey{node: node, path: path}
	t.visits[key]++
	if t.max > 0 && t.visits[key] > t.max {
		return &CycleError{Node: node, Path: path, Visits: t.visits[key], Max: t.max}
	}
	return nil
}

// Count returns how often node was scheduled on path.
func (t *PathTracker) Count(node string, path graph.PathID) int {
	return t.visits[visitKey{node: node, path: path}]
}

// Prune drops lineage entries that no live path descends through.
func (t *PathTracker) Prune(live []graph.PathID) {
	keep := make(map[graph.PathID]bool)
	for _, p := range live {
		for _, a := range t.ancestry(p) {
			keep[a] = true
		}
	}
	for child := range t.lineage {
		if !keep[child] {
			delete(t.lineage, child)
		}
	}
}

// Visits exports the counts in a stable order.
func (t *PathTracker) Visits() []checkpoint.Visit {
	out := make([]checkpoint.Visit, 0, len(t.visits))
	for k, n := range t.visits {
		out = append(out, checkpoint.Visit{Node: k.node, Path: string(k.path), Count: n})
	}
	slices.SortFunc(out, func(a, b checkpoint.Visit) int {
		return cmp.Or(cmp.Compare(a.Node, b.Node), cmp.Compare(a.Path, b.Path))
	})
	return out
}

// Lineage exports the parent links.
func (t *PathTracker) Lineage() map[string]string {
	out := make(map[string]string, len(t.lineage))
	for child, parent := range t.lineage {
		out[string(child)] = string(parent)
	}
	return out
}
