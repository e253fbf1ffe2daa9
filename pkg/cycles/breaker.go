// Package cycles assigns final labels to merged occurrences so that the label
// adjacency graph stays acyclic.
package cycles

import (
	"context"
	"fmt"
	"sort"

	"github.com/ritzau/cctflow/pkg/graph"
	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/model"
)

// Result is the labelled occurrence set produced by the breaker
type Result struct {
	Occurrences []*model.Occurrence      // Indexed by occurrence id
	Membership  map[model.GroupKey][]int // Label -> occurrence ids, ascending
	Graph       *graph.LabelGraph        // Final label adjacency
	Alternates  map[model.GroupKey][]model.GroupKey
	Relabels    int

	tree     *model.Tree
	rawToOcc map[int64]int
}

// OccurrenceOf returns the occurrence id holding a raw node
func (r *Result) OccurrenceOf(rawID int64) (int, bool) {
	id, ok := r.rawToOcc[rawID]
	return id, ok
}

// Label returns the final label of an occurrence
func (r *Result) Label(id int) model.GroupKey {
	return r.Occurrences[id].Label
}

// Labels returns every label that owns at least one occurrence, ordered by
// its lowest occurrence id
func (r *Result) Labels() []model.GroupKey {
	labels := make([]model.GroupKey, 0, len(r.Membership))
	for label, ids := range r.Membership {
		if len(ids) > 0 {
			labels = append(labels, label)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		return r.Membership[labels[i]][0] < r.Membership[labels[j]][0]
	})
	return labels
}

// ResolveParent maps a linkage record to (parent, child) occurrence ids. The
// parent is the nearest raw ancestor-or-self of the record's parent whose
// occurrence sits at a shallower level than the child's. ok is false when the
// child did not survive or the record is internal to one occurrence.
func (r *Result) ResolveParent(rec model.LinkageRecord) (parent, child int, ok bool) {
	child, ok = r.rawToOcc[rec.ChildRawID]
	if !ok {
		return 0, 0, false
	}
	childLevel := r.Occurrences[child].Level

	for id := rec.ParentRawID; ; {
		if p, found := r.rawToOcc[id]; found {
			if p == child {
				return 0, 0, false
			}
			if r.Occurrences[p].Level < childLevel {
				return p, child, true
			}
		}
		node, exists := r.tree.Node(id)
		if !exists || node.ParentID < 0 {
			return 0, 0, false
		}
		id = node.ParentID
	}
}

// CycleBreaker relabels occurrences whose natural label would close a cycle
type CycleBreaker struct{}

// NewCycleBreaker creates a breaker
func NewCycleBreaker() *CycleBreaker {
	return &CycleBreaker{}
}

type edgeKey [2]model.GroupKey

// breakRun holds the mutable tables of one invocation
type breakRun struct {
	res      *Result
	support  map[edgeKey]int // Number of id edges backing each label edge
	incoming map[int][]int   // Occurrence id -> processed source ids
}

// Run assigns ids in (level, key) order and processes them ascending
func (b *CycleBreaker) Run(ctx context.Context, merged *model.NodeTable, state *model.RunState) (*Result, error) {
	res := &Result{
		Membership: make(map[model.GroupKey][]int),
		Graph:      graph.NewLabelGraph(),
		Alternates: make(map[model.GroupKey][]model.GroupKey),
		tree:       state.Tree,
		rawToOcc:   make(map[int64]int),
	}

	for i, n := range merged.All() {
		raw := append([]int64(nil), n.Members...)
		sort.Slice(raw, func(a, b int) bool { return raw[a] < raw[b] })
		res.Occurrences = append(res.Occurrences, &model.Occurrence{
			ID:     i,
			Key:    n.Key,
			Label:  n.Key,
			Name:   n.Name,
			Kind:   n.Kind,
			Level:  n.Level,
			RawIDs: raw,
		})
		for _, id := range raw {
			res.rawToOcc[id] = i
		}
		res.Membership[n.Key] = append(res.Membership[n.Key], i)
		res.Graph.AddLabel(n.Key)
	}

	out := idEdges(res, state.Linkage)

	r := &breakRun{
		res:      res,
		support:  make(map[edgeKey]int),
		incoming: make(map[int][]int),
	}

	level := -1
	for id, occ := range res.Occurrences {
		if occ.Level != level {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			level = occ.Level
		}

		own := occ.Label
		for _, target := range out[id] {
			label := res.Label(target)
			if res.Graph.Reachable(label, own) {
				var err error
				if label, err = r.relabel(ctx, target, own); err != nil {
					return nil, err
				}
			}
			if err := r.addSupport(own, label); err != nil {
				return nil, err
			}
			r.incoming[target] = append(r.incoming[target], id)
		}
	}

	logging.DebugContext(ctx, "cycles broken",
		"occurrences", len(res.Occurrences),
		"labels", len(res.Labels()),
		"relabels", res.Relabels)
	return res, nil
}

// idEdges builds the sorted, de-duplicated occurrence adjacency from linkage
func idEdges(res *Result, linkage []model.LinkageRecord) [][]int {
	seen := make(map[[2]int]bool)
	out := make([][]int, len(res.Occurrences))
	for _, rec := range linkage {
		p, c, ok := res.ResolveParent(rec)
		if !ok || seen[[2]int{p, c}] {
			continue
		}
		seen[[2]int{p, c}] = true
		out[p] = append(out[p], c)
	}
	for _, targets := range out {
		sort.Ints(targets)
	}
	return out
}

// relabel moves an occurrence to the lowest-index alternate of its key that
// closes no cycle with its sources, minting a new alternate when none does
func (r *breakRun) relabel(ctx context.Context, id int, own model.GroupKey) (model.GroupKey, error) {
	res := r.res
	occ := res.Occurrences[id]
	old := occ.Label
	base := occ.Key
	sources := r.incoming[id]

	acceptable := func(candidate model.GroupKey) bool {
		if candidate == old || res.Graph.Reachable(candidate, own) {
			return false
		}
		for _, s := range sources {
			if res.Graph.Reachable(candidate, res.Label(s)) {
				return false
			}
		}
		return true
	}

	target := model.GroupKey("")
	for _, alt := range res.Alternates[base] {
		if acceptable(alt) {
			target = alt
			break
		}
	}
	if target == "" {
		k := len(res.Alternates[base])
		for res.Graph.HasLabel(model.AlternateKey(base, k)) {
			k++
		}
		target = model.AlternateKey(base, k)
		res.Alternates[base] = append(res.Alternates[base], target)
		res.Graph.AddLabel(target)
	}

	res.Membership[old] = removeID(res.Membership[old], id)
	res.Membership[target] = insertID(res.Membership[target], id)
	occ.Label = target
	res.Relabels++

	// Re-home label edges contributed by already processed sources
	for _, s := range sources {
		src := res.Label(s)
		r.dropSupport(src, old)
		if err := r.addSupport(src, target); err != nil {
			return "", err
		}
	}

	logging.TraceContext(ctx, "occurrence relabelled",
		"occurrence", id,
		"from", string(old),
		"to", string(target),
		"caller", string(own))
	return target, nil
}

func (r *breakRun) addSupport(from, to model.GroupKey) error {
	if err := r.res.Graph.AddEdge(from, to); err != nil {
		return fmt.Errorf("cycle breaking produced an invalid edge: %w", err)
	}
	r.support[edgeKey{from, to}]++
	return nil
}

func (r *breakRun) dropSupport(from, to model.GroupKey) {
	k := edgeKey{from, to}
	if r.support[k] == 0 {
		return
	}
	r.support[k]--
	if r.support[k] == 0 {
		delete(r.support, k)
		r.res.Graph.RemoveEdge(from, to)
	}
}

func removeID(ids []int, id int) []int {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func insertID(ids []int, id int) []int {
	i := sort.SearchInts(ids, id)
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
