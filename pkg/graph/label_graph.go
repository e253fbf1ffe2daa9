package graph

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/ritzau/cctflow/pkg/model"
)

// ErrSelfLoop is returned when an edge would connect a label to itself
var ErrSelfLoop = errors.New("self-loop in label graph")

// LabelGraph is the directed adjacency graph between group keys (labels)
type LabelGraph struct {
	graph  *simple.DirectedGraph
	ids    map[model.GroupKey]int64 // Map from label to graph ID
	labels map[int64]model.GroupKey // Map from graph ID to label
	nextID int64
}

// NewLabelGraph creates an empty label graph
func NewLabelGraph() *LabelGraph {
	return &LabelGraph{
		graph:  simple.NewDirectedGraph(),
		ids:    make(map[model.GroupKey]int64),
		labels: make(map[int64]model.GroupKey),
	}
}

// AddLabel adds a label to the graph
func (lg *LabelGraph) AddLabel(label model.GroupKey) {
	if _, exists := lg.ids[label]; exists {
		return
	}
	lg.ids[label] = lg.nextID
	lg.labels[lg.nextID] = label
	lg.graph.AddNode(simple.Node(lg.nextID))
	lg.nextID++
}

// HasLabel reports whether a label is present
func (lg *LabelGraph) HasLabel(label model.GroupKey) bool {
	_, ok := lg.ids[label]
	return ok
}

// AddEdge adds a directed edge between two labels, adding the labels if needed.
// The underlying gonum graph panics on self edges, so they are rejected here.
func (lg *LabelGraph) AddEdge(from, to model.GroupKey) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfLoop, from)
	}
	lg.AddLabel(from)
	lg.AddLabel(to)

	fromID, toID := lg.ids[from], lg.ids[to]
	if !lg.graph.HasEdgeFromTo(fromID, toID) {
		lg.graph.SetEdge(lg.graph.NewEdge(lg.graph.Node(fromID), lg.graph.Node(toID)))
	}
	return nil
}

// RemoveEdge deletes the edge between two labels if present
func (lg *LabelGraph) RemoveEdge(from, to model.GroupKey) {
	fromID, ok1 := lg.ids[from]
	toID, ok2 := lg.ids[to]
	if ok1 && ok2 {
		lg.graph.RemoveEdge(fromID, toID)
	}
}

// HasEdge reports whether from -> to exists
func (lg *LabelGraph) HasEdge(from, to model.GroupKey) bool {
	fromID, ok1 := lg.ids[from]
	toID, ok2 := lg.ids[to]
	return ok1 && ok2 && lg.graph.HasEdgeFromTo(fromID, toID)
}

// Reachable reports whether a path from -> ... -> to exists. A label always
// reaches itself, so connecting a label to itself counts as a cycle.
func (lg *LabelGraph) Reachable(from, to model.GroupKey) bool {
	if from == to {
		return true
	}
	fromID, ok1 := lg.ids[from]
	toID, ok2 := lg.ids[to]
	if !ok1 || !ok2 {
		return false
	}

	var bfs traverse.BreadthFirst
	found := bfs.Walk(lg.graph, lg.graph.Node(fromID), func(n graph.Node, _ int) bool {
		return n.ID() == toID
	})
	return found != nil
}

// Labels returns all labels sorted
func (lg *LabelGraph) Labels() []model.GroupKey {
	labels := make([]model.GroupKey, 0, len(lg.ids))
	for label := range lg.ids {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// Edges returns all edges as [source, target] pairs in sorted order
func (lg *LabelGraph) Edges() [][2]model.GroupKey {
	var edges [][2]model.GroupKey

	iter := lg.graph.Edges()
	for iter.Next() {
		e := iter.Edge()
		edges = append(edges, [2]model.GroupKey{lg.labels[e.From().ID()], lg.labels[e.To().ID()]})
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// Successors returns the labels directly reachable from label
func (lg *LabelGraph) Successors(label model.GroupKey) []model.GroupKey {
	id, exists := lg.ids[label]
	if !exists {
		return nil
	}

	var out []model.GroupKey
	iter := lg.graph.From(id)
	for iter.Next() {
		out = append(out, lg.labels[iter.Node().ID()])
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LabelOf returns the label of a graph node ID
func (lg *LabelGraph) LabelOf(id int64) (model.GroupKey, bool) {
	label, ok := lg.labels[id]
	return label, ok
}

// Graph returns the underlying directed graph
func (lg *LabelGraph) Graph() *simple.DirectedGraph {
	return lg.graph
}

// TopologicalOrder returns the labels in dependency order, or an error when
// the graph contains a cycle
func (lg *LabelGraph) TopologicalOrder() ([]model.GroupKey, error) {
	sorted, err := topo.Sort(lg.graph)
	if err != nil {
		return nil, fmt.Errorf("label graph is not acyclic: %w", err)
	}
	order := make([]model.GroupKey, 0, len(sorted))
	for _, n := range sorted {
		order = append(order, lg.labels[n.ID()])
	}
	return order, nil
}

// IsAcyclic reports whether the graph has no directed cycle
func (lg *LabelGraph) IsAcyclic() bool {
	_, err := topo.Sort(lg.graph)
	return err == nil
}
