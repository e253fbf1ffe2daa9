package classify

import (
	"testing"

	"github.com/ritzau/cctflow/pkg/config"
	"github.com/ritzau/cctflow/pkg/model"
	"github.com/ritzau/cctflow/pkg/testutil"
)

func TestClassifyDefaultBucket(t *testing.T) {
	tree := testutil.CycleSplitTree()
	state := model.NewRunState(tree)
	c := New(Options{})

	root := c.Classify(tree.Root(), nil, state)
	if root.Key != model.RootKey || root.Kind != model.KeyRoot {
		t.Errorf("Expected root key LM0, got %s (%s)", root.Key, root.Kind)
	}

	n, _ := tree.Node(2)
	res := c.Classify(n, tree.Parent(n), state)
	if res.Key != "LM2" {
		t.Errorf("Expected LM2, got %s", res.Key)
	}
	if res.Name != "lib2.so" {
		t.Errorf("Expected display name lib2.so, got %s", res.Name)
	}
}

func TestClassifyProcedureOfInterest(t *testing.T) {
	tree := testutil.NewTree(100).
		Add(1, 0, model.KindProcedureFrame, 3, 50).
		Add(2, 0, model.KindProcedureFrame, 3, 40).
		Add(3, 1, model.KindProcedureFrame, 1, 30).
		Procedure(2, 77, "solve").
		Procedure(3, 77, "solve").
		Tree()
	state := model.NewRunState(tree)
	c := New(Options{Procedures: map[int64]struct{}{77: {}}})

	n2, _ := tree.Node(2)
	n3, _ := tree.Node(3)
	r2 := c.Classify(n2, tree.Parent(n2), state)
	r3 := c.Classify(n3, tree.Parent(n3), state)

	if r2.Key != "PROC77" || r3.Key != "PROC77" {
		t.Errorf("Expected PROC77 for both, got %s and %s", r2.Key, r3.Key)
	}
	if r2.Module != 4 {
		t.Errorf("Expected synthetic module 4 (above max module 3), got %d", r2.Module)
	}
	if r3.Module != r2.Module {
		t.Errorf("Synthetic module id must be stable within a run: %d != %d", r2.Module, r3.Module)
	}

	// A fresh run allocates from scratch
	other := model.NewRunState(tree)
	if got := c.Classify(n2, tree.Parent(n2), other).Module; got != 4 {
		t.Errorf("Expected fresh run to allocate 4 again, got %d", got)
	}
}

func TestClassifySplitRules(t *testing.T) {
	tree := testutil.NewTree(100).
		Module(5, "/opt/lib/libsolver.so").
		Add(1, 0, model.KindProcedureFrame, 5, 10).
		Add(2, 0, model.KindProcedureFrame, 5, 10).
		Add(3, 0, model.KindProcedureFrame, 5, 10).
		Add(4, 0, model.KindProcedureFrame, 5, 10).
		Add(5, 0, model.KindProcedureFrame, 5, 10).
		File(1, 1, "/src/solver/krylov/gmres.c").
		File(2, 2, "/src/solver/precond/ilu.c").
		File(3, 3, "/src/other/mpi_wrap.c").
		Procedure(3, 30, "MPI_Allreduce_wrapper").
		File(4, 4, "/src/other/util.c").
		Procedure(4, 40, "helper").
		Procedure(5, 50, "mystery").
		Tree()
	state := model.NewRunState(tree)

	rules := config.SplitRules{
		"libsolver.so": {
			Files:     []string{"/src/solver", "/src/solver/krylov/"},
			Functions: map[string][]string{"mpi": {"MPI_"}},
		},
	}
	c := New(Options{Rules: rules})

	tests := []struct {
		id   int64
		want model.GroupKey
		kind model.KeyKind
	}{
		{1, "LM5:gmres.c", model.KeySplit},      // Longest prefix wins
		{2, "LM5:precond", model.KeySplit},      // Next segment after prefix
		{3, "LM5:mpi", model.KeySplit},          // Function pattern
		{4, "LM5", model.KeyModule},             // Known file, no match
		{5, "LM5:unknown-file", model.KeySplit}, // File unresolved
	}
	for _, tt := range tests {
		n, _ := tree.Node(tt.id)
		res := c.Classify(n, tree.Parent(n), state)
		if res.Key != tt.want || res.Kind != tt.kind {
			t.Errorf("node %d: got %s (%s), want %s (%s)", tt.id, res.Key, res.Kind, tt.want, tt.kind)
		}
	}
}

func TestClassifyMissingRuleFallsBack(t *testing.T) {
	tree := testutil.NewTree(10).Add(1, 0, model.KindProcedureFrame, 2, 5).Tree()
	state := model.NewRunState(tree)
	c := New(Options{Rules: config.SplitRules{"libother.so": {}}})

	n, _ := tree.Node(1)
	if got := c.Classify(n, tree.Parent(n), state).Key; got != "LM2" {
		t.Errorf("Expected whole-module fallback LM2, got %s", got)
	}
}

func TestClassifySplitByParent(t *testing.T) {
	// root -> A(LM1) -> callsite -> B(LM3) -> C(LM3, recursion)
	tree := testutil.NewTree(100).
		Add(1, 0, model.KindProcedureFrame, 1, 100).
		Add(2, 1, model.KindCallSite, 1, 90).
		Add(3, 2, model.KindProcedureFrame, 3, 90).
		Add(4, 3, model.KindProcedureFrame, 3, 50).
		Tree()
	state := model.NewRunState(tree)
	c := New(Options{SplitByParent: KeySet([]string{"LM3"})})

	for _, id := range []int64{0, 1, 3, 4} {
		n, _ := tree.Node(id)
		res := c.Classify(n, tree.Parent(n), state)
		state.SetResolvedModule(id, res.Module)

		if id == 3 || id == 4 {
			if res.Key != "LM1-LM3" || res.Kind != model.KeyComposite {
				t.Errorf("node %d: expected composite LM1-LM3, got %s (%s)", id, res.Key, res.Kind)
			}
		}
	}
}

func TestResolveProcedures(t *testing.T) {
	tree := testutil.NewTree(10).
		Add(1, 0, model.KindProcedureFrame, 1, 5).
		Procedure(1, 12, "main").
		Tree()

	ids, unknown := ResolveProcedures(tree, []string{"main", "99", "nope", ""})
	if _, ok := ids[12]; !ok {
		t.Error("Expected main to resolve to 12")
	}
	if _, ok := ids[99]; !ok {
		t.Error("Expected numeric id 99 to be accepted")
	}
	if len(unknown) != 1 || unknown[0] != "nope" {
		t.Errorf("Expected unknown [nope], got %v", unknown)
	}
}
