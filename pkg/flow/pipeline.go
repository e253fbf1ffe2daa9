// Package flow runs the full calling-context tree to dataflow graph pipeline.
package flow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ritzau/cctflow/pkg/aggregate"
	"github.com/ritzau/cctflow/pkg/classify"
	"github.com/ritzau/cctflow/pkg/config"
	"github.com/ritzau/cctflow/pkg/cycles"
	"github.com/ritzau/cctflow/pkg/filter"
	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/merge"
	"github.com/ritzau/cctflow/pkg/metrics"
	"github.com/ritzau/cctflow/pkg/model"
	"github.com/ritzau/cctflow/pkg/tree"
)

// Options parameterize one build
type Options struct {
	FilterFraction float64           `json:"filterFraction"`
	Procedures     []string          `json:"procedures,omitempty"` // Names or numeric ids
	SplitRules     config.SplitRules `json:"splitRules,omitempty"`
	SplitByParent  []string          `json:"splitByParent,omitempty"` // Group keys
	Keep           []int64           `json:"keep,omitempty"`          // Raw ids; empty keeps everything
}

// Normalized returns a copy with sorted, de-duplicated lists so equal
// options compare (and hash) equal
func (o Options) Normalized() Options {
	o.Procedures = uniqueStrings(o.Procedures)
	o.SplitByParent = uniqueStrings(o.SplitByParent)
	if len(o.Keep) > 0 {
		seen := make(map[int64]bool)
		keep := make([]int64, 0, len(o.Keep))
		for _, id := range o.Keep {
			if !seen[id] {
				seen[id] = true
				keep = append(keep, id)
			}
		}
		sort.Slice(keep, func(i, j int) bool { return keep[i] < keep[j] })
		o.Keep = keep
	}
	return o
}

// Result is one complete build
type Result struct {
	Graph    *model.FlowGraph
	Relabels int
	Cycles   []cycles.LabelCycle // Always empty for a correct build
	Unknown  []string            // Procedures of interest that matched nothing
}

// Build runs every phase over a tree. The tree is not modified; all mutable
// state lives in a fresh model.RunState.
func Build(ctx context.Context, t *model.Tree, opts Options) (*Result, error) {
	if t == nil || t.Root() == nil {
		return nil, fmt.Errorf("cannot build graph: tree has no root")
	}
	if opts.FilterFraction < 0 || opts.FilterFraction > 1 {
		return nil, fmt.Errorf("filter fraction must be within [0, 1], got %v", opts.FilterFraction)
	}

	state := model.NewRunState(t)

	procedures, unknown := classify.ResolveProcedures(t, opts.Procedures)
	for _, name := range unknown {
		logging.WarnContext(ctx, "procedure of interest not found", "procedure", name)
	}
	classifier := classify.New(classify.Options{
		Procedures:    procedures,
		Rules:         opts.SplitRules,
		SplitByParent: classify.KeySet(opts.SplitByParent),
	})

	var keep map[int64]struct{}
	if len(opts.Keep) > 0 {
		keep = make(map[int64]struct{}, len(opts.Keep))
		for _, id := range opts.Keep {
			keep[id] = struct{}{}
		}
	}

	var table *model.NodeTable
	if err := phase(ctx, "tree", func() (err error) {
		table, err = tree.NewBuilder(classifier, keep).Build(ctx, state)
		return err
	}); err != nil {
		return nil, err
	}

	var filtered *filter.Result
	if err := phase(ctx, "filter", func() (err error) {
		filtered, err = filter.NewLevelFilter(opts.FilterFraction).Run(ctx, table, state)
		return err
	}); err != nil {
		return nil, err
	}

	var merged *model.NodeTable
	if err := phase(ctx, "merge", func() (err error) {
		merged, err = merge.NewGroupMerger().Run(ctx, filtered.Retained, state)
		return err
	}); err != nil {
		return nil, err
	}

	var labelled *cycles.Result
	if err := phase(ctx, "cycles", func() (err error) {
		labelled, err = cycles.NewCycleBreaker().Run(ctx, merged, state)
		return err
	}); err != nil {
		return nil, err
	}

	var g *model.FlowGraph
	if err := phase(ctx, "aggregate", func() (err error) {
		g, err = aggregate.NewEdgeAggregator().Run(ctx, labelled, state)
		return err
	}); err != nil {
		return nil, err
	}

	res := &Result{
		Graph:    g,
		Relabels: labelled.Relabels,
		Cycles:   cycles.FindLabelCycles(labelled.Graph),
		Unknown:  unknown,
	}
	if len(res.Cycles) > 0 {
		// Relabelling guarantees acyclicity; a cycle here is a bug
		logging.ErrorContext(ctx, "label graph contains cycles", "cycles", len(res.Cycles))
	}
	return res, nil
}

func phase(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ObservePhase(name, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s phase: %w", name, err)
	}
	logging.TraceContext(ctx, "phase finished", "phase", name, "durationMs", time.Since(start).Milliseconds())
	return nil
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
