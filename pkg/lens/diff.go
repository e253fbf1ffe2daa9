package lens

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/ritzau/cctflow/pkg/model"
)

// GraphDiff represents the difference between two graph states
type GraphDiff struct {
	AddedNodes    []*model.FlowNode `json:"addedNodes"`
	RemovedNodes  []model.GroupKey  `json:"removedNodes"`
	ModifiedNodes []*model.FlowNode `json:"modifiedNodes"` // Nodes with changed runtime or members
	AddedEdges    []model.FlowEdge  `json:"addedEdges"`
	RemovedEdges  []string          `json:"removedEdges"`  // Edge keys (source|target)
	ModifiedEdges []model.FlowEdge  `json:"modifiedEdges"` // Edges with a changed weight
	FullGraph     bool              `json:"fullGraph"`     // True if this is a full graph, not a diff
}

// Empty reports whether the diff carries no change
func (d *GraphDiff) Empty() bool {
	return !d.FullGraph &&
		len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 && len(d.ModifiedNodes) == 0 &&
		len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0 && len(d.ModifiedEdges) == 0
}

// GraphSnapshot represents a cached graph state for diffing
type GraphSnapshot struct {
	Hash  string
	Nodes map[model.GroupKey]*model.FlowNode
	Edges map[string]model.FlowEdge // edgeKey -> edge
}

// ComputeHash returns the hex SHA-256 of the JSON encoding of v, or "" when v
// cannot be encoded
func ComputeHash(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(jsonData)
	return fmt.Sprintf("%x", hash)
}

// CreateSnapshot creates a snapshot from graph data for diffing
func CreateSnapshot(g *model.FlowGraph) *GraphSnapshot {
	snapshot := &GraphSnapshot{
		Hash:  ComputeHash(g),
		Nodes: make(map[model.GroupKey]*model.FlowNode, len(g.Nodes)),
		Edges: make(map[string]model.FlowEdge, len(g.Edges)),
	}
	for key, node := range g.Nodes {
		snapshot.Nodes[key] = node
	}
	for _, edge := range g.Edges {
		snapshot.Edges[edgeKey(edge.Source, edge.Target)] = edge
	}
	return snapshot
}

// ComputeDiff computes the difference between a snapshot and a new graph.
// Result slices are sorted so equal inputs give identical diffs.
func ComputeDiff(oldSnapshot *GraphSnapshot, newGraph *model.FlowGraph) *GraphDiff {
	if oldSnapshot == nil {
		diff := &GraphDiff{AddedEdges: newGraph.Edges, FullGraph: true}
		for _, key := range newGraph.SortedKeys() {
			diff.AddedNodes = append(diff.AddedNodes, newGraph.Nodes[key])
		}
		return diff
	}

	diff := &GraphDiff{
		AddedNodes:    make([]*model.FlowNode, 0),
		RemovedNodes:  make([]model.GroupKey, 0),
		ModifiedNodes: make([]*model.FlowNode, 0),
		AddedEdges:    make([]model.FlowEdge, 0),
		RemovedEdges:  make([]string, 0),
		ModifiedEdges: make([]model.FlowEdge, 0),
	}

	for _, key := range newGraph.SortedKeys() {
		newNode := newGraph.Nodes[key]
		if oldNode, exists := oldSnapshot.Nodes[key]; exists {
			if !nodesEqual(oldNode, newNode) {
				diff.ModifiedNodes = append(diff.ModifiedNodes, newNode)
			}
		} else {
			diff.AddedNodes = append(diff.AddedNodes, newNode)
		}
	}

	for key := range oldSnapshot.Nodes {
		if _, exists := newGraph.Nodes[key]; !exists {
			diff.RemovedNodes = append(diff.RemovedNodes, key)
		}
	}
	sort.Slice(diff.RemovedNodes, func(i, j int) bool { return diff.RemovedNodes[i] < diff.RemovedNodes[j] })

	newEdges := make(map[string]bool, len(newGraph.Edges))
	for _, edge := range newGraph.Edges {
		key := edgeKey(edge.Source, edge.Target)
		newEdges[key] = true
		if oldEdge, exists := oldSnapshot.Edges[key]; !exists {
			diff.AddedEdges = append(diff.AddedEdges, edge)
		} else if oldEdge.Weight != edge.Weight {
			diff.ModifiedEdges = append(diff.ModifiedEdges, edge)
		}
	}

	for key := range oldSnapshot.Edges {
		if !newEdges[key] {
			diff.RemovedEdges = append(diff.RemovedEdges, key)
		}
	}
	sort.Strings(diff.RemovedEdges)

	return diff
}

// edgeKey creates a unique key for an edge
func edgeKey(source, target model.GroupKey) string {
	return fmt.Sprintf("%s|%s", source, target)
}

// nodesEqual compares the fields a client renders; occurrence bookkeeping is
// covered by the raw id list
func nodesEqual(a, b *model.FlowNode) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Kind != b.Kind || a.Runtime != b.Runtime {
		return false
	}
	if len(a.RawIDs) != len(b.RawIDs) {
		return false
	}
	for i := range a.RawIDs {
		if a.RawIDs[i] != b.RawIDs[i] {
			return false
		}
	}
	return true
}
