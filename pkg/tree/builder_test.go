package tree

import (
	"context"
	"errors"
	"testing"

	"github.com/ritzau/cctflow/pkg/classify"
	"github.com/ritzau/cctflow/pkg/model"
	"github.com/ritzau/cctflow/pkg/testutil"
)

func build(t *testing.T, tree *model.Tree, keep map[int64]struct{}) (*model.NodeTable, *model.RunState) {
	t.Helper()
	state := model.NewRunState(tree)
	table, err := NewBuilder(classify.New(classify.Options{}), keep).Build(context.Background(), state)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return table, state
}

func TestBuildCycleSplitTree(t *testing.T) {
	table, state := build(t, testutil.CycleSplitTree(), nil)

	if table.Len() != 4 {
		t.Fatalf("Expected 4 aggregated nodes, got %d", table.Len())
	}

	p3, ok := table.Get(model.NodeRef{Level: 3, Key: "LM1"})
	if !ok {
		t.Fatal("Expected LM1 at level 3")
	}
	if len(p3.ParentKeys) != 1 || p3.ParentKeys[0] != "LM2" {
		t.Errorf("Expected parent key LM2, got %v", p3.ParentKeys)
	}

	if len(state.Linkage) != 3 {
		t.Fatalf("Expected 3 linkage records, got %d", len(state.Linkage))
	}
	first := state.Linkage[0]
	if first.ParentKey != model.RootKey || first.ChildKey != "LM1" || first.Runtime != 100 {
		t.Errorf("Unexpected first record: %+v", first)
	}
	for _, rec := range state.Linkage {
		if !rec.IsCallBoundary() {
			t.Errorf("Procedure frames should cross call boundaries: %+v", rec)
		}
	}
}

func TestBuildWrappersAreTransparent(t *testing.T) {
	// root -> P(LM1) -> loop -> callsite -> Q(LM2) ; P -> inlined R(LM1)
	tree := testutil.NewTree(100).
		Add(1, 0, model.KindProcedureFrame, 1, 100).
		Add(2, 1, model.KindLoop, 1, 60).
		Add(3, 2, model.KindCallSite, 1, 60).
		Add(4, 3, model.KindProcedureFrame, 2, 60).
		Add(5, 1, model.KindProcedure, 1, 30).
		Tree()
	table, state := build(t, tree, nil)

	for level := 0; level < table.Depth(); level++ {
		for _, n := range table.AtLevel(level) {
			for _, m := range n.Members {
				raw, _ := tree.Node(m)
				if raw.Kind.IsWrapper() {
					t.Errorf("Wrapper %d became a member of %s", m, n.Key)
				}
			}
		}
	}

	q, ok := table.Get(model.NodeRef{Level: 4, Key: "LM2"})
	if !ok {
		t.Fatal("Expected LM2 at raw level 4")
	}
	if len(q.Parents()) != 1 || q.Parents()[0] != (model.NodeRef{Level: 1, Key: "LM1"}) {
		t.Errorf("Expected parent LM1@1 through wrappers, got %v", q.Parents())
	}

	var inline *model.LinkageRecord
	for i := range state.Linkage {
		if state.Linkage[i].ChildRawID == 5 {
			inline = &state.Linkage[i]
		}
	}
	if inline == nil || inline.Kind != model.OccurrenceInline {
		t.Errorf("Expected inline record for inlined procedure, got %+v", inline)
	}

	if _, ok := state.Entry["LM2"][4]; !ok {
		t.Error("Expected procedure 4 in entry set of LM2")
	}
	if _, ok := state.Exit["LM1"][1]; !ok {
		t.Error("Expected procedure 1 in exit set of LM1")
	}
	if _, ok := state.Entry["LM1"][5]; ok {
		t.Error("Same-key occurrence must not be recorded as an entry")
	}
}

func TestBuildKeepSet(t *testing.T) {
	tree := testutil.CycleSplitTree()
	table, _ := build(t, tree, map[int64]struct{}{1: {}})

	if table.Len() != 2 {
		t.Errorf("Expected root and node 1 only, got %d nodes", table.Len())
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := model.NewRunState(testutil.CycleSplitTree())
	_, err := NewBuilder(classify.New(classify.Options{}), nil).Build(ctx, state)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
