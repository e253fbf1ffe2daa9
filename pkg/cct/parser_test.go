package cct

import (
	"errors"
	"testing"

	"github.com/ritzau/cctflow/pkg/model"
)

const sampleDocument = `{
	"name": "lulesh",
	"metrics": [
		{"id": 0, "name": "REALTIME (sec) (I)", "type": "inclusive"},
		{"id": 1, "name": "REALTIME (sec) (E)", "type": "exclusive"},
		{"id": 2, "name": "PAPI_TOT_INS (I)", "type": "inclusive"}
	],
	"modules": [{"id": 1, "name": "/usr/bin/lulesh"}, {"id": 2, "name": "libmpi.so"}],
	"files": [{"id": 1, "path": "/src/lulesh.cc"}],
	"procedures": [{"id": 1, "name": "main"}, {"id": 2, "name": "MPI_Allreduce"}],
	"root": {
		"id": 0, "kind": "root",
		"metrics": {"0": [10, 14], "2": [999]},
		"children": [
			{"id": 1, "kind": "PF", "procedure": 1, "file": 1, "module": 1,
			 "metrics": {"0": [10, 14], "1": [2, 2]},
			 "children": [
				{"id": 3, "kind": "L", "children": [
					{"id": 4, "kind": "C", "children": [
						{"id": 5, "kind": "PF", "procedure": 2, "module": 2, "metrics": {"0": [4, 6]}}
					]}
				]},
				{"id": 2, "kind": "S", "metrics": {"1": [1, 1]}}
			]}
		]
	}
}`

func TestParseDocument(t *testing.T) {
	tree, err := NewParser().Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(tree.Nodes) != 6 {
		t.Errorf("Expected 6 nodes, got %d", len(tree.Nodes))
	}
	if tree.RootID != 0 {
		t.Errorf("Expected root id 0, got %d", tree.RootID)
	}

	callee, ok := tree.Node(5)
	if !ok {
		t.Fatal("Node 5 not found")
	}
	if callee.Kind != model.KindProcedureFrame {
		t.Errorf("Expected procedure frame, got %s", callee.Kind)
	}
	if callee.Level != 4 {
		t.Errorf("Expected level 4, got %d", callee.Level)
	}
	if callee.ModuleID != 2 || callee.ProcedureID != 2 {
		t.Errorf("Expected module 2 / procedure 2, got %d / %d", callee.ModuleID, callee.ProcedureID)
	}
	// File is inherited through the loop and call-site wrappers
	if callee.FileID != 1 {
		t.Errorf("Expected inherited file 1, got %d", callee.FileID)
	}

	loop, _ := tree.Node(3)
	if loop.ModuleID != 1 || loop.ProcedureID != 1 {
		t.Errorf("Expected loop to inherit module 1 / procedure 1, got %d / %d", loop.ModuleID, loop.ProcedureID)
	}

	if got := tree.Inclusive(5); got != 5 {
		t.Errorf("Expected rank-averaged inclusive 5, got %v", got)
	}
	if got := tree.Exclusive(1); got != 2 {
		t.Errorf("Expected rank-averaged exclusive 2, got %v", got)
	}

	// PAPI_TOT_INS is not a wall-clock metric and must be ignored
	if len(tree.MetricDefs) != 2 {
		t.Errorf("Expected 2 retained metrics, got %d", len(tree.MetricDefs))
	}
	if got := tree.Inclusive(0); got != 12 {
		t.Errorf("Expected root inclusive 12, got %v", got)
	}

	ancestors := tree.Ancestors(5)
	want := []int64{4, 3, 1, 0}
	if len(ancestors) != len(want) {
		t.Fatalf("Expected ancestors %v, got %v", want, ancestors)
	}
	for i := range want {
		if ancestors[i] != want[i] {
			t.Errorf("Expected ancestors %v, got %v", want, ancestors)
			break
		}
	}
}

func TestParseInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "Missing root",
			doc:  `{"name": "x"}`,
		},
		{
			name: "Root of wrong kind",
			doc:  `{"root": {"id": 0, "kind": "PF"}}`,
		},
		{
			name: "Duplicate ids",
			doc:  `{"root": {"id": 0, "kind": "root", "children": [{"id": 1, "kind": "PF"}, {"id": 1, "kind": "PF"}]}}`,
		},
		{
			name: "Unknown kind",
			doc:  `{"root": {"id": 0, "kind": "root", "children": [{"id": 1, "kind": "banana"}]}}`,
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidTree) {
				t.Errorf("Parse() error = %v, want ErrInvalidTree", err)
			}
		})
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := NewParser().Parse([]byte(`{"root": `))
	if err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestIsWallClock(t *testing.T) {
	cases := map[string]bool{
		"REALTIME (sec) (I)": true,
		"WALLCLOCK (us)":     true,
		"wall clock":         true,
		"CPUTIME (sec) (I)":  false,
		"PAPI_TOT_CYC (E)":   false,
	}
	for name, want := range cases {
		if got := IsWallClock(name); got != want {
			t.Errorf("IsWallClock(%q) = %v, want %v", name, got, want)
		}
	}
}
