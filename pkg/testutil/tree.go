// Package testutil provides calling-context tree fixtures for pipeline tests.
// All generators produce deterministic output for reproducible tests.
package testutil

import (
	"fmt"

	"pgregory.net/rapid"

	"github.com/ritzau/cctflow/pkg/model"
)

// TreeBuilder assembles a model.Tree node by node. Node 0 is the root.
type TreeBuilder struct {
	tree *model.Tree
}

// NewTree creates a tree whose root carries the given inclusive runtime
func NewTree(rootInclusive float64) *TreeBuilder {
	tree := model.NewTree("fixture")
	tree.RootID = 0
	tree.Nodes[0] = &model.RawNode{ID: 0, Kind: model.KindRoot, ParentID: -1}
	tree.Metrics[0] = model.NodeMetrics{Inclusive: []float64{rootInclusive}}
	return &TreeBuilder{tree: tree}
}

// Add appends a node under parent. Procedure ids default to the node id.
func (b *TreeBuilder) Add(id, parent int64, kind model.NodeKind, module int64, inclusive float64) *TreeBuilder {
	return b.AddRanks(id, parent, kind, module, []float64{inclusive})
}

// AddRanks appends a node with one inclusive value per rank
func (b *TreeBuilder) AddRanks(id, parent int64, kind model.NodeKind, module int64, inclusive []float64) *TreeBuilder {
	p, ok := b.tree.Nodes[parent]
	if !ok {
		panic(fmt.Sprintf("fixture: parent %d of %d not defined", parent, id))
	}
	if _, dup := b.tree.Nodes[id]; dup {
		panic(fmt.Sprintf("fixture: duplicate node %d", id))
	}

	b.tree.Nodes[id] = &model.RawNode{
		ID:          id,
		Kind:        kind,
		ProcedureID: id,
		ModuleID:    module,
		ParentID:    parent,
		Level:       p.Level + 1,
	}
	p.Children = append(p.Children, id)
	if inclusive != nil {
		b.tree.Metrics[id] = model.NodeMetrics{Inclusive: inclusive}
	}
	if module != 0 {
		if _, named := b.tree.Modules[module]; !named {
			b.tree.Modules[module] = fmt.Sprintf("/usr/lib/lib%d.so", module)
		}
	}
	return b
}

// Procedure assigns a named procedure to a node
func (b *TreeBuilder) Procedure(id, procedure int64, name string) *TreeBuilder {
	b.tree.Nodes[id].ProcedureID = procedure
	b.tree.Procedures[procedure] = name
	return b
}

// File assigns a source file to a node
func (b *TreeBuilder) File(id, file int64, path string) *TreeBuilder {
	b.tree.Nodes[id].FileID = file
	b.tree.Files[file] = path
	return b
}

// Module renames a module
func (b *TreeBuilder) Module(module int64, name string) *TreeBuilder {
	b.tree.Modules[module] = name
	return b
}

// Tree returns the assembled tree
func (b *TreeBuilder) Tree() *model.Tree {
	return b.tree
}

// CycleSplitTree is Root(LM0) -> P1(LM1, 100) -> P2(LM2, 90) -> P3(LM1, 80)
func CycleSplitTree() *model.Tree {
	return NewTree(100).
		Add(1, 0, model.KindProcedureFrame, 1, 100).
		Add(2, 1, model.KindProcedureFrame, 2, 90).
		Add(3, 2, model.KindProcedureFrame, 1, 80).
		Tree()
}

var randomKinds = []model.NodeKind{
	model.KindProcedureFrame,
	model.KindProcedureFrame,
	model.KindProcedure,
	model.KindCallSite,
	model.KindLoop,
}

// RandomTree draws a tree with consistent per-rank metrics: every node's
// inclusive runtime is its exclusive runtime plus the inclusive runtime of
// its children.
func RandomTree(t *rapid.T) *model.Tree {
	n := rapid.IntRange(1, 40).Draw(t, "nodes")
	ranks := rapid.IntRange(1, 3).Draw(t, "ranks")
	modules := rapid.Int64Range(1, 5).Draw(t, "modules")

	tree := model.NewTree("random")
	tree.RootID = 0
	tree.Nodes[0] = &model.RawNode{ID: 0, Kind: model.KindRoot, ParentID: -1}

	exclusive := map[int64][]float64{0: make([]float64, ranks)}
	for i := int64(1); i <= int64(n); i++ {
		parent := rapid.Int64Range(0, i-1).Draw(t, fmt.Sprintf("parent%d", i))
		kind := rapid.SampledFrom(randomKinds).Draw(t, fmt.Sprintf("kind%d", i))
		module := rapid.Int64Range(1, modules).Draw(t, fmt.Sprintf("module%d", i))
		p := tree.Nodes[parent]
		tree.Nodes[i] = &model.RawNode{
			ID:          i,
			Kind:        kind,
			ProcedureID: i,
			ModuleID:    module,
			ParentID:    parent,
			Level:       p.Level + 1,
		}
		p.Children = append(p.Children, i)

		ex := make([]float64, ranks)
		for r := range ex {
			ex[r] = float64(rapid.IntRange(0, 20).Draw(t, fmt.Sprintf("ex%d_%d", i, r)))
		}
		exclusive[i] = ex
	}
	for m := int64(1); m <= modules; m++ {
		tree.Modules[m] = fmt.Sprintf("lib%d.so", m)
	}

	// Ids increase with depth along every path, so a reverse sweep sees
	// children before parents.
	inclusive := make(map[int64][]float64, len(tree.Nodes))
	for i := int64(n); i >= 0; i-- {
		inc := append([]float64(nil), exclusive[i]...)
		for _, c := range tree.Nodes[i].Children {
			for r := range inc {
				inc[r] += inclusive[c][r]
			}
		}
		inclusive[i] = inc
		tree.Metrics[i] = model.NodeMetrics{Inclusive: inc, Exclusive: exclusive[i]}
	}
	return tree
}
