package cycles

import (
	"slices"

	"gonum.org/v1/gonum/graph"
)

// TarjanSCC finds strongly connected components of a directed graph.
// The walk is iterative and visits nodes and successors in ID order, so the
// result does not depend on map iteration.
type TarjanSCC struct {
	g       graph.Directed
	counter int
	order   map[int64]int // Discovery index
	low     map[int64]int
	open    []int64 // Nodes of components not yet closed
	isOpen  map[int64]bool
	found   [][]int64
}

// visit is one frame of the explicit DFS stack
type visit struct {
	id   int64
	succ []int64
	next int
}

// NewTarjanSCC creates a new Tarjan SCC finder
func NewTarjanSCC(g graph.Directed) *TarjanSCC {
	return &TarjanSCC{
		g:      g,
		order:  make(map[int64]int),
		low:    make(map[int64]int),
		isOpen: make(map[int64]bool),
	}
}

// FindSCCs returns every component that forms a cycle: components with more
// than one node, and single nodes with an edge to themselves
func (t *TarjanSCC) FindSCCs() [][]int64 {
	for _, id := range sortedIDs(t.g.Nodes()) {
		if _, seen := t.order[id]; !seen {
			t.walk(id)
		}
	}
	return t.found
}

func (t *TarjanSCC) walk(start int64) {
	frames := []*visit{t.enter(start)}
	for len(frames) > 0 {
		top := frames[len(frames)-1]
		if top.next < len(top.succ) {
			w := top.succ[top.next]
			top.next++
			if _, seen := t.order[w]; !seen {
				frames = append(frames, t.enter(w))
			} else if t.isOpen[w] {
				t.low[top.id] = min(t.low[top.id], t.order[w])
			}
			continue
		}

		frames = frames[:len(frames)-1]
		if len(frames) > 0 {
			caller := frames[len(frames)-1].id
			t.low[caller] = min(t.low[caller], t.low[top.id])
		}
		if t.low[top.id] == t.order[top.id] {
			t.close(top.id)
		}
	}
}

func (t *TarjanSCC) enter(id int64) *visit {
	t.order[id] = t.counter
	t.low[id] = t.counter
	t.counter++
	t.open = append(t.open, id)
	t.isOpen[id] = true
	return &visit{id: id, succ: sortedIDs(t.g.From(id))}
}

// close pops the component rooted at id off the open stack
func (t *TarjanSCC) close(id int64) {
	i := slices.Index(t.open, id)
	members := slices.Clone(t.open[i:])
	t.open = t.open[:i]
	for _, m := range members {
		t.isOpen[m] = false
	}
	if len(members) == 1 && !t.g.HasEdgeFromTo(id, id) {
		return
	}
	slices.Sort(members)
	t.found = append(t.found, members)
}

func sortedIDs(it graph.Nodes) []int64 {
	var ids []int64
	for it.Next() {
		ids = append(ids, it.Node().ID())
	}
	slices.Sort(ids)
	return ids
}
