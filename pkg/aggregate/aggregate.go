// Package aggregate computes node sizes and edge weights for the final labels
// and emits the serializable flow graph.
package aggregate

import (
	"context"
	"sort"

	"github.com/ritzau/cctflow/pkg/cycles"
	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/model"
)

// EdgeAggregator builds the flow graph from ground-truth linkage records
type EdgeAggregator struct{}

// NewEdgeAggregator creates an aggregator
func NewEdgeAggregator() *EdgeAggregator {
	return &EdgeAggregator{}
}

type pairKey [2]model.GroupKey

type edgeSum struct {
	weight float64
	rawIDs map[int64]struct{}
}

// Run emits nodes, threshold-filtered edges, the occurrence list and the
// incoming linkage per occurrence
func (a *EdgeAggregator) Run(ctx context.Context, labelled *cycles.Result, state *model.RunState) (*model.FlowGraph, error) {
	g := model.NewFlowGraph()
	g.Threshold = state.Threshold

	for _, occ := range labelled.Occurrences {
		g.NodeList[occ.ID] = occ
		g.EdgeList[occ.ID] = make([]model.LinkageRecord, 0)
	}

	for i, label := range labelled.Labels() {
		ids := labelled.Membership[label]
		first := labelled.Occurrences[ids[0]]

		node := &model.FlowNode{
			ID:            i,
			Key:           label,
			BaseKey:       first.Key,
			Name:          first.Name,
			Kind:          first.Kind,
			OccurrenceIDs: append([]int(nil), ids...),
		}
		seen := make(map[int64]struct{})
		for _, id := range ids {
			for _, raw := range labelled.Occurrences[id].RawIDs {
				if _, dup := seen[raw]; dup {
					continue
				}
				seen[raw] = struct{}{}
				node.RawIDs = append(node.RawIDs, raw)
				node.Runtime += state.Inclusive(raw)
			}
		}
		sort.Slice(node.RawIDs, func(x, y int) bool { return node.RawIDs[x] < node.RawIDs[y] })
		g.Nodes[label] = node
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sums := make(map[pairKey]*edgeSum)
	for _, rec := range state.Linkage {
		if child, ok := labelled.OccurrenceOf(rec.ChildRawID); ok {
			g.EdgeList[child] = append(g.EdgeList[child], rec)
		}
		if !rec.IsCallBoundary() {
			continue
		}
		// Weights use direct membership of both endpoints
		parent, ok := labelled.OccurrenceOf(rec.ParentRawID)
		if !ok {
			continue
		}
		child, ok := labelled.OccurrenceOf(rec.ChildRawID)
		if !ok || child == parent {
			continue
		}
		k := pairKey{labelled.Label(parent), labelled.Label(child)}
		s, exists := sums[k]
		if !exists {
			s = &edgeSum{rawIDs: make(map[int64]struct{})}
			sums[k] = s
		}
		s.weight += rec.Runtime
		s.rawIDs[rec.ChildRawID] = struct{}{}
	}

	dropped := 0
	for _, e := range labelled.Graph.Edges() {
		s, ok := sums[pairKey{e[0], e[1]}]
		if !ok || len(s.rawIDs) == 0 || s.weight < state.Threshold {
			dropped++
			continue
		}
		src, dst := g.Nodes[e[0]], g.Nodes[e[1]]
		if src == nil || dst == nil {
			dropped++
			continue
		}
		raw := make([]int64, 0, len(s.rawIDs))
		for id := range s.rawIDs {
			raw = append(raw, id)
		}
		sort.Slice(raw, func(x, y int) bool { return raw[x] < raw[y] })
		g.Edges = append(g.Edges, model.FlowEdge{
			Source:   e[0],
			Target:   e[1],
			SourceID: src.ID,
			TargetID: dst.ID,
			Weight:   s.weight,
			RawIDs:   raw,
		})
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].SourceID != g.Edges[j].SourceID {
			return g.Edges[i].SourceID < g.Edges[j].SourceID
		}
		return g.Edges[i].TargetID < g.Edges[j].TargetID
	})

	g.Entry = model.SortedSet(state.Entry)
	g.Exit = model.SortedSet(state.Exit)

	logging.DebugContext(ctx, "edges aggregated",
		"nodes", len(g.Nodes),
		"edges", len(g.Edges),
		"dropped", dropped,
		"threshold", state.Threshold)
	return g, nil
}
