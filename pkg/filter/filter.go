// Package filter drops aggregated nodes below the relative runtime threshold.
package filter

import (
	"context"
	"sort"

	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/model"
)

// Result is the outcome of level filtering
type Result struct {
	Retained  *model.NodeTable
	Removed   map[int][]model.GroupKey // Level -> removed keys, sorted
	Threshold float64
}

// LevelFilter keeps nodes whose inclusive runtime reaches a fraction of the root's
type LevelFilter struct {
	fraction float64
}

// NewLevelFilter creates a filter for the given root fraction
func NewLevelFilter(fraction float64) *LevelFilter {
	return &LevelFilter{fraction: fraction}
}

// Threshold returns the absolute runtime threshold for a run
func (f *LevelFilter) Threshold(state *model.RunState) float64 {
	return f.fraction * state.RootRuntime()
}

// Run filters table level by level. The root is always retained.
func (f *LevelFilter) Run(ctx context.Context, table *model.NodeTable, state *model.RunState) (*Result, error) {
	threshold := f.Threshold(state)
	state.Threshold = threshold

	res := &Result{
		Retained:  model.NewNodeTable(),
		Removed:   make(map[int][]model.GroupKey),
		Threshold: threshold,
	}
	removedRefs := make(map[model.NodeRef]bool)

	for level := 0; level < table.Depth(); level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, n := range table.AtLevel(level) {
			state.Recompute(n)
			isRoot := level == 0 && n.Key == model.RootKey
			if isRoot || n.Inclusive >= threshold {
				res.Retained.Add(n)
				continue
			}
			removedRefs[n.Ref()] = true
			res.Removed[level] = append(res.Removed[level], n.Key)
		}
	}

	// Repair parent references once every removal is known
	for level := 0; level < res.Retained.Depth(); level++ {
		removedAbove := make(map[model.GroupKey]bool)
		for _, k := range res.Removed[level-1] {
			removedAbove[k] = true
		}
		for _, n := range res.Retained.AtLevel(level) {
			n.RetainParents(func(p model.NodeRef) bool {
				return !removedRefs[p] && !removedAbove[p.Key]
			})
		}
	}

	removed := 0
	for level := range res.Removed {
		sort.Slice(res.Removed[level], func(i, j int) bool { return res.Removed[level][i] < res.Removed[level][j] })
		removed += len(res.Removed[level])
	}

	logging.DebugContext(ctx, "level filter applied",
		"threshold", threshold,
		"retained", res.Retained.Len(),
		"removed", removed)
	return res, nil
}
