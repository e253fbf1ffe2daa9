package graph

import (
	"errors"
	"testing"

	"github.com/ritzau/cctflow/pkg/model"
)

func TestNewLabelGraph(t *testing.T) {
	lg := NewLabelGraph()
	if lg == nil {
		t.Fatal("NewLabelGraph() returned nil")
	}
	if len(lg.Labels()) != 0 {
		t.Errorf("New graph should have 0 labels, got %d", len(lg.Labels()))
	}
}

func TestAddEdge(t *testing.T) {
	lg := NewLabelGraph()

	if err := lg.AddEdge("LM0", "LM1"); err != nil {
		t.Fatalf("Failed to add edge: %v", err)
	}
	// Duplicate edges are ignored
	if err := lg.AddEdge("LM0", "LM1"); err != nil {
		t.Fatalf("Failed to add duplicate edge: %v", err)
	}

	edges := lg.Edges()
	if len(edges) != 1 {
		t.Fatalf("Expected 1 edge, got %d", len(edges))
	}
	if edges[0] != [2]model.GroupKey{"LM0", "LM1"} {
		t.Errorf("Expected edge LM0->LM1, got %v", edges[0])
	}
	if !lg.HasEdge("LM0", "LM1") || lg.HasEdge("LM1", "LM0") {
		t.Error("HasEdge reports wrong direction")
	}
}

func TestAddSelfLoop(t *testing.T) {
	lg := NewLabelGraph()
	err := lg.AddEdge("LM1", "LM1")
	if !errors.Is(err, ErrSelfLoop) {
		t.Errorf("Expected ErrSelfLoop, got %v", err)
	}
}

func TestReachable(t *testing.T) {
	lg := NewLabelGraph()
	lg.AddEdge("LM0", "LM1")
	lg.AddEdge("LM1", "LM2")
	lg.AddLabel("LM3")

	tests := []struct {
		from, to model.GroupKey
		want     bool
	}{
		{"LM0", "LM2", true},
		{"LM2", "LM0", false},
		{"LM1", "LM1", true}, // A label always reaches itself
		{"LM3", "LM0", false},
		{"LM9", "LM0", false},
	}
	for _, tt := range tests {
		if got := lg.Reachable(tt.from, tt.to); got != tt.want {
			t.Errorf("Reachable(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRemoveEdge(t *testing.T) {
	lg := NewLabelGraph()
	lg.AddEdge("LM0", "LM1")
	lg.RemoveEdge("LM0", "LM1")

	if lg.HasEdge("LM0", "LM1") {
		t.Error("Edge should have been removed")
	}
	if !lg.HasLabel("LM1") {
		t.Error("Labels should survive edge removal")
	}
}

func TestTopologicalOrder(t *testing.T) {
	lg := NewLabelGraph()
	lg.AddEdge("LM1", "LM2")
	lg.AddEdge("LM0", "LM1")

	order, err := lg.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder() error = %v", err)
	}
	pos := make(map[model.GroupKey]int)
	for i, l := range order {
		pos[l] = i
	}
	if pos["LM0"] > pos["LM1"] || pos["LM1"] > pos["LM2"] {
		t.Errorf("Unexpected order: %v", order)
	}

	lg.AddEdge("LM2", "LM0")
	if lg.IsAcyclic() {
		t.Error("Graph with LM0->LM1->LM2->LM0 should not be acyclic")
	}
	if _, err := lg.TopologicalOrder(); err == nil {
		t.Error("Expected error for cyclic graph")
	}
}

func TestSuccessors(t *testing.T) {
	lg := NewLabelGraph()
	lg.AddEdge("LM0", "LM2")
	lg.AddEdge("LM0", "LM1")

	succ := lg.Successors("LM0")
	if len(succ) != 2 || succ[0] != "LM1" || succ[1] != "LM2" {
		t.Errorf("Expected [LM1 LM2], got %v", succ)
	}
	if lg.Successors("missing") != nil {
		t.Error("Expected nil successors for unknown label")
	}
}
