package lens

import (
	"sort"
	"strings"

	"github.com/ritzau/cctflow/pkg/model"
)

// distanceQueueNode represents a node in the BFS queue
type distanceQueueNode struct {
	key      model.GroupKey
	distance int
}

// expandAlternates replaces each focus key by every graph node that shares its
// base key, so selecting "LM1" also selects "LM1_0" created by cycle breaking
func expandAlternates(focus []model.GroupKey, g *model.FlowGraph) []model.GroupKey {
	expanded := make(map[model.GroupKey]bool)

	for _, key := range focus {
		if _, ok := g.Nodes[key]; ok {
			expanded[key] = true
		}
		for _, node := range g.Nodes {
			if node.BaseKey == key || isAlternateOf(node.Key, key) {
				expanded[node.Key] = true
			}
		}
	}

	result := make([]model.GroupKey, 0, len(expanded))
	for key := range expanded {
		result = append(result, key)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func isAlternateOf(key, base model.GroupKey) bool {
	suffix, ok := strings.CutPrefix(string(key), string(base)+"_")
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ComputeDistances calculates the undirected hop distance from each node to
// the nearest focus node. Nodes not connected to the focus set get Unreachable.
func ComputeDistances(g *model.FlowGraph, focus []model.GroupKey) map[model.GroupKey]int {
	distances := make(map[model.GroupKey]int, len(g.Nodes))

	adjacency := buildAdjacencyList(g)

	queue := []distanceQueueNode{}
	for _, key := range expandAlternates(focus, g) {
		distances[key] = 0
		queue = append(queue, distanceQueueNode{key: key})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, neighbor := range adjacency[current.key] {
			if _, exists := distances[neighbor]; !exists {
				distances[neighbor] = current.distance + 1
				queue = append(queue, distanceQueueNode{key: neighbor, distance: current.distance + 1})
			}
		}
	}

	for key := range g.Nodes {
		if _, exists := distances[key]; !exists {
			distances[key] = Unreachable
		}
	}
	return distances
}

// buildAdjacencyList creates an undirected adjacency list from graph edges,
// neighbours sorted for a deterministic traversal
func buildAdjacencyList(g *model.FlowGraph) map[model.GroupKey][]model.GroupKey {
	adjacency := make(map[model.GroupKey][]model.GroupKey)

	for _, edge := range g.Edges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		adjacency[edge.Target] = append(adjacency[edge.Target], edge.Source)
	}
	for key, neighbors := range adjacency {
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		adjacency[key] = neighbors
	}
	return adjacency
}
