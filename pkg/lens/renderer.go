package lens

import "github.com/ritzau/cctflow/pkg/model"

// Render applies a lens to a graph and returns the visible subgraph. Node ids,
// occurrence lists and entry/exit tables of visible nodes are preserved so a
// client can still drill down into them. The input graph is not modified.
func Render(g *model.FlowGraph, cfg Config) *model.FlowGraph {
	if cfg.IsIdentity() {
		return g
	}

	var distances map[model.GroupKey]int
	if len(cfg.Focus) > 0 {
		distances = ComputeDistances(g, cfg.Focus)
	}

	out := model.NewFlowGraph()
	out.Threshold = g.Threshold
	out.Root = g.Root

	for key, node := range g.Nodes {
		if !isNodeVisible(node, distances, cfg) {
			continue
		}
		out.Nodes[key] = node
		for _, id := range node.OccurrenceIDs {
			if occ, ok := g.NodeList[id]; ok {
				out.NodeList[id] = occ
			}
			if records, ok := g.EdgeList[id]; ok {
				out.EdgeList[id] = records
			}
		}
		if entry, ok := g.Entry[key]; ok {
			out.Entry[key] = entry
		}
		if exit, ok := g.Exit[key]; ok {
			out.Exit[key] = exit
		}
	}

	for _, edge := range g.Edges {
		if edge.Weight < cfg.MinWeight {
			continue
		}
		if _, ok := out.Nodes[edge.Source]; !ok {
			continue
		}
		if _, ok := out.Nodes[edge.Target]; !ok {
			continue
		}
		out.Edges = append(out.Edges, edge)
	}
	return out
}

func isNodeVisible(node *model.FlowNode, distances map[model.GroupKey]int, cfg Config) bool {
	// The root anchors every view
	if node.Kind == model.KeyRoot {
		return true
	}
	if cfg.hides(node.Kind) {
		return false
	}
	if distances == nil {
		return true
	}
	d := distances[node.Key]
	if d == Unreachable {
		return false
	}
	return cfg.Depth < 0 || d <= cfg.Depth
}
