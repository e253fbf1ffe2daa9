package model

import (
	"fmt"
	"sort"
)

// NodeKind represents the type of a calling-context tree node
type NodeKind int

const (
	KindRoot           NodeKind = iota // Synthetic experiment root
	KindProcedureFrame                 // A real call frame
	KindProcedure                      // An inlined procedure inside its caller's frame
	KindCallSite                       // Call-site wrapper around a callee frame
	KindLoop                           // Loop nest inside a procedure
	KindLine                           // Source line / statement
)

var kindNames = map[NodeKind]string{
	KindRoot:           "root",
	KindProcedureFrame: "procedure_frame",
	KindProcedure:      "procedure",
	KindCallSite:       "call_site",
	KindLoop:           "loop",
	KindLine:           "line",
}

func (k NodeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// IsWrapper returns true for structural nodes that are traversed transparently
// and never produce an aggregated node of their own
func (k NodeKind) IsWrapper() bool {
	return k == KindCallSite || k == KindLoop || k == KindLine
}

// MetricType distinguishes inclusive and exclusive metric columns
type MetricType string

const (
	MetricInclusive MetricType = "inclusive"
	MetricExclusive MetricType = "exclusive"
)

// MetricDesc describes one column of the metric table
type MetricDesc struct {
	ID   int        `json:"id"`
	Name string     `json:"name"`
	Type MetricType `json:"type"`
}

// NodeMetrics holds per-rank runtime samples for one raw node
type NodeMetrics struct {
	Inclusive []float64 `json:"inclusive,omitempty"` // One value per rank
	Exclusive []float64 `json:"exclusive,omitempty"` // One value per rank
}

// RankAverage returns the mean across ranks, or 0 for an empty sample
func RankAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// RawNode is one node of the calling-context tree. Immutable once the tree is built.
type RawNode struct {
	ID          int64    `json:"id"`
	Kind        NodeKind `json:"kind"`
	ProcedureID int64    `json:"procedureId"`
	FileID      int64    `json:"fileId"`
	ModuleID    int64    `json:"moduleId"`
	ParentID    int64    `json:"parentId"` // -1 for the root
	Level       int      `json:"level"`    // Raw tree depth, root is 0
	Children    []int64  `json:"children,omitempty"`
}

// Tree is a parsed calling-context tree with its lookup tables
type Tree struct {
	Name       string
	RootID     int64
	Nodes      map[int64]*RawNode
	Metrics    map[int64]NodeMetrics // Raw id -> retained wall-clock metrics
	MetricDefs []MetricDesc          // Retained metric table
	Modules    map[int64]string      // Module id -> display name
	Files      map[int64]string      // File id -> path
	Procedures map[int64]string      // Procedure id -> name
}

// NewTree creates an empty tree
func NewTree(name string) *Tree {
	return &Tree{
		Name:       name,
		RootID:     -1,
		Nodes:      make(map[int64]*RawNode),
		Metrics:    make(map[int64]NodeMetrics),
		Modules:    make(map[int64]string),
		Files:      make(map[int64]string),
		Procedures: make(map[int64]string),
	}
}

// Root returns the root node, or nil for an empty tree
func (t *Tree) Root() *RawNode {
	return t.Nodes[t.RootID]
}

// Node returns a node by id
func (t *Tree) Node(id int64) (*RawNode, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// Parent returns the parent of a node, or nil for the root
func (t *Tree) Parent(n *RawNode) *RawNode {
	if n == nil || n.ParentID < 0 {
		return nil
	}
	return t.Nodes[n.ParentID]
}

// Ancestors returns the ancestor ids of a node ordered from the parent outward
func (t *Tree) Ancestors(id int64) []int64 {
	var path []int64
	n := t.Nodes[id]
	for n != nil && n.ParentID >= 0 {
		path = append(path, n.ParentID)
		n = t.Nodes[n.ParentID]
	}
	return path
}

// IsAncestor reports whether ancestor lies on the parent chain of id
func (t *Tree) IsAncestor(ancestor, id int64) bool {
	n := t.Nodes[id]
	for n != nil && n.ParentID >= 0 {
		if n.ParentID == ancestor {
			return true
		}
		n = t.Nodes[n.ParentID]
	}
	return false
}

// Inclusive returns the rank-averaged inclusive runtime of a raw node
func (t *Tree) Inclusive(id int64) float64 {
	return RankAverage(t.Metrics[id].Inclusive)
}

// Exclusive returns the rank-averaged exclusive runtime of a raw node
func (t *Tree) Exclusive(id int64) float64 {
	return RankAverage(t.Metrics[id].Exclusive)
}

// ModuleName returns the display name of a module, falling back to its id
func (t *Tree) ModuleName(id int64) string {
	if name, ok := t.Modules[id]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("module-%d", id)
}

// ProcedureName returns the name of a procedure, falling back to its id
func (t *Tree) ProcedureName(id int64) string {
	if name, ok := t.Procedures[id]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("procedure-%d", id)
}

// MaxModuleID returns the largest module id referenced by the tree
func (t *Tree) MaxModuleID() int64 {
	var max int64
	for id := range t.Modules {
		if id > max {
			max = id
		}
	}
	for _, n := range t.Nodes {
		if n.ModuleID > max {
			max = n.ModuleID
		}
	}
	return max
}

// SortedIDs returns all node ids in ascending order
func (t *Tree) SortedIDs() []int64 {
	ids := make([]int64, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
