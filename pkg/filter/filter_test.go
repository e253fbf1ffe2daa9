package filter

import (
	"context"
	"testing"

	"github.com/ritzau/cctflow/pkg/classify"
	"github.com/ritzau/cctflow/pkg/model"
	"github.com/ritzau/cctflow/pkg/testutil"
	"github.com/ritzau/cctflow/pkg/tree"
)

func run(t *testing.T, raw *model.Tree, fraction float64) (*Result, *model.RunState) {
	t.Helper()
	state := model.NewRunState(raw)
	table, err := tree.NewBuilder(classify.New(classify.Options{}), nil).Build(context.Background(), state)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	res, err := NewLevelFilter(fraction).Run(context.Background(), table, state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res, state
}

func TestThresholdRelativeToRoot(t *testing.T) {
	res, state := run(t, testutil.CycleSplitTree(), 0.01)
	if res.Threshold != 1 {
		t.Errorf("Expected threshold 1, got %v", res.Threshold)
	}
	if state.Threshold != res.Threshold {
		t.Error("Threshold should be recorded on the run state")
	}
	if res.Retained.Len() != 4 {
		t.Errorf("Expected all 4 nodes retained, got %d", res.Retained.Len())
	}
}

func TestRootAlwaysRetained(t *testing.T) {
	// Root carries no metric: runtime falls back to the sum of its children
	raw := testutil.NewTree(0).
		Add(1, 0, model.KindProcedureFrame, 1, 40).
		Add(2, 0, model.KindProcedureFrame, 2, 60).
		Tree()
	delete(raw.Metrics, 0)

	res, state := run(t, raw, 0.5)
	if state.RootRuntime() != 100 {
		t.Errorf("Expected root runtime 100, got %v", state.RootRuntime())
	}
	if _, ok := res.Retained.Get(model.NodeRef{Level: 0, Key: model.RootKey}); !ok {
		t.Error("Root must always be retained")
	}
	if _, ok := res.Retained.Get(model.NodeRef{Level: 1, Key: "LM1"}); ok {
		t.Error("LM1 (40) should fall below threshold 50")
	}
	if got := res.Removed[1]; len(got) != 1 || got[0] != "LM1" {
		t.Errorf("Expected LM1 removed at level 1, got %v", got)
	}
}

func TestFilterRepairsParentKeys(t *testing.T) {
	// X(LM5) at level 2 has parents A(LM1, small) and B(LM2, large)
	raw := testutil.NewTree(100).
		Add(1, 0, model.KindProcedureFrame, 1, 5).
		Add(2, 0, model.KindProcedureFrame, 2, 95).
		Add(3, 1, model.KindProcedureFrame, 5, 4).
		Add(4, 2, model.KindProcedureFrame, 5, 50).
		Tree()

	res, _ := run(t, raw, 0.1)

	x, ok := res.Retained.Get(model.NodeRef{Level: 2, Key: "LM5"})
	if !ok {
		t.Fatal("Expected LM5 at level 2 to survive (54 >= 10)")
	}
	for _, removed := range res.Removed[1] {
		for _, k := range x.ParentKeys {
			if k == removed {
				t.Errorf("Surviving node still references removed key %s", removed)
			}
		}
	}
	if len(x.ParentKeys) != 1 || x.ParentKeys[0] != "LM2" {
		t.Errorf("Expected parent keys [LM2], got %v", x.ParentKeys)
	}
}

func TestFilterRecomputesRuntime(t *testing.T) {
	raw := testutil.NewTree(100).
		Add(1, 0, model.KindProcedureFrame, 1, 30).
		Add(2, 0, model.KindProcedureFrame, 1, 20).
		Tree()
	res, _ := run(t, raw, 0.01)

	n, _ := res.Retained.Get(model.NodeRef{Level: 1, Key: "LM1"})
	if n.Inclusive != 50 {
		t.Errorf("Expected inclusive 50 summed over members, got %v", n.Inclusive)
	}
}
