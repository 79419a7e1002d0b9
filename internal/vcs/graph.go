package vcs

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"github.com/kilupskalvis/vcsmine/internal/models"
)

// Node is a commit as seen by the graph: its id, parents and committer time.
type Node struct {
	ID      string
	Parents []string
	Time    time.Time
}

// Ref is a named reference resolved to a commit.
type Ref struct {
	Name   string
	Target string
}

// GraphInput is everything a backend collected while enumerating references.
type GraphInput struct {
	// Nodes must contain every commit reachable from Branches and Tags.
	// Parents outside the set (shallow clones) are ignored.
	Nodes    []Node
	Branches []Ref
	Tags     []*models.TagRecord
	Tips     []models.BranchTip
	// TrackBranches enables per-commit branch membership.
	TrackBranches bool
}

// Graph is the commit graph of a repository at one point in time. Commits are
// kept in topological order, children before parents, newest first among
// commits that are ready at the same time.
type Graph struct {
	ids      []string
	index    map[string]int
	parents  [][]int
	branches []string
	members  []bitset
	tags     map[string][]*models.TagRecord
	tips     []models.BranchTip
	track    bool
}

// NewGraph orders the commits and propagates branch membership from every
// branch tip to all of its ancestors.
func NewGraph(in GraphInput) (*Graph, error) {
	pos := make(map[string]int, len(in.Nodes))
	for i, n := range in.Nodes {
		if _, dup := pos[n.ID]; dup {
			return nil, fmt.Errorf("duplicate commit %s", n.ID)
		}
		pos[n.ID] = i
	}

	// children counts distinct in-set children per node
	children := make([]int, len(in.Nodes))
	edges := make([][]int, len(in.Nodes))
	for i, n := range in.Nodes {
		seen := make(map[int]bool, len(n.Parents))
		for _, p := range n.Parents {
			j, ok := pos[p]
			if !ok || seen[j] {
				continue
			}
			seen[j] = true
			edges[i] = append(edges[i], j)
			children[j]++
		}
	}

	ready := &timeHeap{nodes: in.Nodes}
	for i := range in.Nodes {
		if children[i] == 0 {
			ready.items = append(ready.items, i)
		}
	}
	heap.Init(ready)

	order := make([]int, 0, len(in.Nodes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, j := range edges[i] {
			children[j]--
			if children[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	if len(order) != len(in.Nodes) {
		return nil, fmt.Errorf("commit graph has a cycle")
	}

	g := &Graph{
		ids:     make([]string, len(order)),
		index:   make(map[string]int, len(order)),
		parents: make([][]int, len(order)),
		tags:    make(map[string][]*models.TagRecord),
		tips:    in.Tips,
		track:   in.TrackBranches,
	}
	rank := make([]int, len(in.Nodes))
	for r, i := range order {
		rank[i] = r
		g.ids[r] = in.Nodes[i].ID
		g.index[in.Nodes[i].ID] = r
	}
	for r, i := range order {
		for _, j := range edges[i] {
			g.parents[r] = append(g.parents[r], rank[j])
		}
	}

	if g.track {
		if err := g.propagate(in.Branches); err != nil {
			return nil, err
		}
	}

	for _, t := range in.Tags {
		if _, ok := g.index[t.CommitID]; !ok {
			return nil, fmt.Errorf("tag %s: unknown commit %s", t.Name, t.CommitID)
		}
		g.tags[t.CommitID] = append(g.tags[t.CommitID], t)
	}
	for _, ts := range g.tags {
		sort.Slice(ts, func(a, b int) bool { return ts[a].Name < ts[b].Name })
	}

	return g, nil
}

func (g *Graph) propagate(refs []Ref) error {
	names := make(map[string]int)
	for _, ref := range refs {
		if _, ok := names[ref.Name]; !ok {
			names[ref.Name] = 0
			g.branches = append(g.branches, ref.Name)
		}
	}
	sort.Strings(g.branches)
	for i, name := range g.branches {
		names[name] = i
	}

	g.members = make([]bitset, len(g.ids))
	for i := range g.members {
		g.members[i] = newBitset(len(g.branches))
	}
	for _, ref := range refs {
		r, ok := g.index[ref.Target]
		if !ok {
			return fmt.Errorf("branch %s: unknown commit %s", ref.Name, ref.Target)
		}
		g.members[r].set(names[ref.Name])
	}

	// every child precedes its parents, so one pass is enough
	for r := range g.ids {
		for _, p := range g.parents[r] {
			g.members[p].or(g.members[r])
		}
	}
	return nil
}

// Len returns the number of commits in the graph.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Commits returns every commit id in topological order.
func (g *Graph) Commits() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Contains reports whether id is reachable from a live reference.
func (g *Graph) Contains(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Branches returns the sorted names of the branches containing id. Commits
// reachable only through tags, and graphs built without branch tracking,
// have no branches.
func (g *Graph) Branches(id string) []string {
	r, ok := g.index[id]
	if !ok || !g.track {
		return nil
	}
	set := g.members[r]
	if set.count() == 0 {
		return nil
	}
	out := make([]string, 0, set.count())
	for i, name := range g.branches {
		if set.has(i) {
			out = append(out, name)
		}
	}
	return out
}

// Tags returns the tags pointing at id, sorted by name.
func (g *Graph) Tags(id string) []*models.TagRecord {
	return g.tags[id]
}

// LiveTags returns every tag of the repository ordered by target and name.
func (g *Graph) LiveTags() []*models.TagRecord {
	var out []*models.TagRecord
	for _, id := range g.ids {
		out = append(out, g.tags[id]...)
	}
	return out
}

// Tips returns the branch tips reported for the repository.
func (g *Graph) Tips() []models.BranchTip {
	return g.tips
}

// timeHeap pops the newest ready commit first.
type timeHeap struct {
	nodes []Node
	items []int
}

func (h *timeHeap) Len() int { return len(h.items) }

func (h *timeHeap) Less(a, b int) bool {
	na, nb := h.nodes[h.items[a]], h.nodes[h.items[b]]
	if !na.Time.Equal(nb.Time) {
		return na.Time.After(nb.Time)
	}
	return na.ID < nb.ID
}

func (h *timeHeap) Swap(a, b int) { h.items[a], h.items[b] = h.items[b], h.items[a] }

func (h *timeHeap) Push(x any) { h.items = append(h.items, x.(int)) }

func (h *timeHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}
