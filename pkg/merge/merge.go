// Package merge folds surviving aggregated nodes into shallower occurrences of
// the same group key when the fold is unambiguous.
package merge

import (
	"context"
	"sort"

	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/model"
)

// GroupMerger produces the merged occurrence table
type GroupMerger struct{}

// NewGroupMerger creates a merger
func NewGroupMerger() *GroupMerger {
	return &GroupMerger{}
}

// run holds the per-invocation bookkeeping
type run struct {
	out      *model.NodeTable
	resolved map[model.NodeRef]*model.AggregatedNode // Input ref -> output node
	byKey    map[model.GroupKey][]*model.AggregatedNode
	folds    int
}

// Run processes levels in ascending order. The input table is consumed.
func (m *GroupMerger) Run(ctx context.Context, retained *model.NodeTable, state *model.RunState) (*model.NodeTable, error) {
	r := &run{
		out:      model.NewNodeTable(),
		resolved: make(map[model.NodeRef]*model.AggregatedNode),
		byKey:    make(map[model.GroupKey][]*model.AggregatedNode),
	}

	for level := 0; level < retained.Depth(); level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, n := range retained.AtLevel(level) {
			r.place(ctx, n)
		}
	}

	for _, n := range r.out.All() {
		state.Recompute(n)
	}

	logging.DebugContext(ctx, "groups merged",
		"occurrences", r.out.Len(),
		"folds", r.folds)
	return r.out, nil
}

func (r *run) place(ctx context.Context, n *model.AggregatedNode) {
	parents := r.resolveParents(n)

	if len(parents) == 0 {
		// A lone same-key parent that could not be resolved still folds upward
		if refs := n.Parents(); len(refs) == 1 && refs[0].Key == n.Key {
			if target := r.nearestSameKey(n.Key, n.Level); target != nil {
				r.fold(ctx, target, n, nil, "recursion")
				return
			}
		}
		r.emit(n, nil)
		return
	}

	if target := r.siblingTarget(n, parents); target != nil {
		r.fold(ctx, target, n, parents, "sibling")
		return
	}

	if len(parents) > 1 {
		if target := r.ancestorTarget(n, parents); target != nil {
			r.fold(ctx, target, n, parents, "ancestor")
			return
		}
		r.emit(n, parents)
		return
	}

	if parents[0].Key == n.Key {
		r.fold(ctx, parents[0], n, parents, "recursion")
		return
	}
	r.emit(n, parents)
}

// resolveParents maps parent references to output nodes, sorted by (level, key)
func (r *run) resolveParents(n *model.AggregatedNode) []*model.AggregatedNode {
	seen := make(map[*model.AggregatedNode]bool)
	var parents []*model.AggregatedNode
	for _, ref := range n.Parents() {
		p, ok := r.resolved[ref]
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		parents = append(parents, p)
	}
	sortNodes(parents)
	return parents
}

// siblingTarget finds the deepest shallower output node with the same key
// whose parents cover every parent of n
func (r *run) siblingTarget(n *model.AggregatedNode, parents []*model.AggregatedNode) *model.AggregatedNode {
	candidates := r.byKey[n.Key]
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if c.Level >= n.Level {
			continue
		}
		have := make(map[model.NodeRef]bool, len(c.Parents()))
		for _, p := range c.Parents() {
			have[p] = true
		}
		covered := true
		for _, p := range parents {
			if !have[p.Ref()] {
				covered = false
				break
			}
		}
		if covered {
			return c
		}
	}
	return nil
}

// ancestorTarget finds the strictly deepest same-keyed ancestor reachable
// through parent references. It qualifies only when every other parent lies
// above it.
func (r *run) ancestorTarget(n *model.AggregatedNode, parents []*model.AggregatedNode) *model.AggregatedNode {
	visited := make(map[*model.AggregatedNode]bool)
	queue := append([]*model.AggregatedNode(nil), parents...)
	var matches []*model.AggregatedNode
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur.Key == n.Key {
			matches = append(matches, cur)
		}
		for _, ref := range cur.Parents() {
			if p, ok := r.out.Get(ref); ok && !visited[p] {
				queue = append(queue, p)
			}
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sortNodes(matches)
	deepest := matches[len(matches)-1]
	if len(matches) > 1 && matches[len(matches)-2].Level == deepest.Level {
		return nil
	}
	for _, p := range parents {
		if p != deepest && p.Level >= deepest.Level {
			return nil
		}
	}
	return deepest
}

// nearestSameKey searches upward for the closest output node with key
func (r *run) nearestSameKey(key model.GroupKey, level int) *model.AggregatedNode {
	candidates := r.byKey[key]
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].Level < level {
			return candidates[i]
		}
	}
	return nil
}

func (r *run) emit(n *model.AggregatedNode, parents []*model.AggregatedNode) {
	out := model.NewAggregatedNode(n.Key, n.Name, n.Kind, n.Level)
	out.TakeMembers(n)
	for _, p := range parents {
		out.AddParent(p.Ref())
	}
	r.out.Add(out)
	r.byKey[out.Key] = append(r.byKey[out.Key], out)
	r.resolved[n.Ref()] = out
}

func (r *run) fold(ctx context.Context, target, n *model.AggregatedNode, parents []*model.AggregatedNode, rule string) {
	target.TakeMembers(n)
	for _, p := range parents {
		if p != target {
			target.AddParent(p.Ref())
		}
	}
	r.resolved[n.Ref()] = target
	r.folds++

	logging.TraceContext(ctx, "occurrence folded",
		"rule", rule,
		"from", n.Ref().String(),
		"into", target.Ref().String())
}

func sortNodes(nodes []*model.AggregatedNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Level != nodes[j].Level {
			return nodes[i].Level < nodes[j].Level
		}
		return nodes[i].Key < nodes[j].Key
	})
}
