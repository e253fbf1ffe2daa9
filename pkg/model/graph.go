package model

import (
	"fmt"
	"sort"
)

// GroupKey names an aggregation bucket (e.g. "LM3", "PROC12", "LM3-LM5", "LM1_0")
type GroupKey string

// RootKey is the fixed group key of the tree root
const RootKey GroupKey = "LM0"

// ModuleKey returns the default whole-module bucket for a module id
func ModuleKey(moduleID int64) GroupKey {
	return GroupKey(fmt.Sprintf("LM%d", moduleID))
}

// ProcedureKey returns the dedicated bucket for a procedure of interest
func ProcedureKey(procedureID int64) GroupKey {
	return GroupKey(fmt.Sprintf("PROC%d", procedureID))
}

// AlternateKey returns the k-th duplicate of a base key, created by cycle breaking
func AlternateKey(base GroupKey, k int) GroupKey {
	return GroupKey(fmt.Sprintf("%s_%d", base, k))
}

// KeyKind records how a group key was resolved
type KeyKind string

const (
	KeyModule    KeyKind = "module"    // Whole load module
	KeyProcedure KeyKind = "procedure" // Procedure of interest
	KeySplit     KeyKind = "split"     // Sub-bucket from a split rule
	KeyComposite KeyKind = "composite" // Split by parent module
	KeyRoot      KeyKind = "root"
)

// NodeRef identifies an aggregated node by its (level, key) pair
type NodeRef struct {
	Level int      `json:"level"`
	Key   GroupKey `json:"key"`
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%s@%d", r.Key, r.Level)
}

// AggregatedNode is one (level, group key) bucket of raw tree occurrences
type AggregatedNode struct {
	Key        GroupKey   `json:"key"`
	Name       string     `json:"name"`
	Kind       KeyKind    `json:"kind"`
	Level      int        `json:"level"`
	Members    []int64    `json:"members"`    // Raw node ids
	ParentKeys []GroupKey `json:"parentKeys"` // Keys of parent occurrences
	Inclusive  float64    `json:"inclusive"`
	Exclusive  float64    `json:"exclusive"`

	parents   []NodeRef
	memberSet map[int64]struct{}
}

// NewAggregatedNode creates an empty bucket
func NewAggregatedNode(key GroupKey, name string, kind KeyKind, level int) *AggregatedNode {
	return &AggregatedNode{
		Key:       key,
		Name:      name,
		Kind:      kind,
		Level:     level,
		memberSet: make(map[int64]struct{}),
	}
}

// Ref returns the (level, key) identity of the node
func (n *AggregatedNode) Ref() NodeRef {
	return NodeRef{Level: n.Level, Key: n.Key}
}

// AddMember appends a raw id if not already present
func (n *AggregatedNode) AddMember(rawID int64) {
	n.ensureMemberSet()
	if _, exists := n.memberSet[rawID]; exists {
		return
	}
	n.memberSet[rawID] = struct{}{}
	n.Members = append(n.Members, rawID)
}

// HasMember reports whether the raw id belongs to the node
func (n *AggregatedNode) HasMember(rawID int64) bool {
	n.ensureMemberSet()
	_, ok := n.memberSet[rawID]
	return ok
}

// TakeMembers moves all members of other into n, leaving other empty
func (n *AggregatedNode) TakeMembers(other *AggregatedNode) {
	for _, id := range other.Members {
		n.AddMember(id)
	}
	other.Members = nil
	other.memberSet = make(map[int64]struct{})
}

func (n *AggregatedNode) ensureMemberSet() {
	if n.memberSet != nil {
		return
	}
	n.memberSet = make(map[int64]struct{}, len(n.Members))
	for _, id := range n.Members {
		n.memberSet[id] = struct{}{}
	}
}

// AddParent records a parent occurrence
func (n *AggregatedNode) AddParent(ref NodeRef) {
	for _, p := range n.parents {
		if p == ref {
			return
		}
	}
	n.parents = append(n.parents, ref)
	n.syncParentKeys()
}

// Parents returns the parent occurrence references
func (n *AggregatedNode) Parents() []NodeRef {
	return n.parents
}

// RetainParents keeps only parent references accepted by keep
func (n *AggregatedNode) RetainParents(keep func(NodeRef) bool) {
	kept := n.parents[:0]
	for _, p := range n.parents {
		if keep(p) {
			kept = append(kept, p)
		}
	}
	n.parents = kept
	n.syncParentKeys()
}

func (n *AggregatedNode) syncParentKeys() {
	seen := make(map[GroupKey]bool)
	keys := make([]GroupKey, 0, len(n.parents))
	for _, p := range n.parents {
		if !seen[p.Key] {
			seen[p.Key] = true
			keys = append(keys, p.Key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	n.ParentKeys = keys
}

// NodeTable indexes aggregated nodes by level and group key
type NodeTable struct {
	levels []map[GroupKey]*AggregatedNode
}

// NewNodeTable creates an empty table
func NewNodeTable() *NodeTable {
	return &NodeTable{}
}

// Get returns the node for a reference
func (t *NodeTable) Get(ref NodeRef) (*AggregatedNode, bool) {
	if ref.Level < 0 || ref.Level >= len(t.levels) {
		return nil, false
	}
	n, ok := t.levels[ref.Level][ref.Key]
	return n, ok
}

// Add inserts a node, replacing any node with the same reference
func (t *NodeTable) Add(n *AggregatedNode) {
	for len(t.levels) <= n.Level {
		t.levels = append(t.levels, make(map[GroupKey]*AggregatedNode))
	}
	t.levels[n.Level][n.Key] = n
}

// Remove deletes a node
func (t *NodeTable) Remove(ref NodeRef) {
	if ref.Level < 0 || ref.Level >= len(t.levels) {
		return
	}
	delete(t.levels[ref.Level], ref.Key)
}

// Depth returns the number of levels in the table
func (t *NodeTable) Depth() int {
	return len(t.levels)
}

// AtLevel returns the nodes of one level sorted by key
func (t *NodeTable) AtLevel(level int) []*AggregatedNode {
	if level < 0 || level >= len(t.levels) {
		return nil
	}
	nodes := make([]*AggregatedNode, 0, len(t.levels[level]))
	for _, n := range t.levels[level] {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	return nodes
}

// All returns every node ordered by (level, key)
func (t *NodeTable) All() []*AggregatedNode {
	var nodes []*AggregatedNode
	for level := range t.levels {
		nodes = append(nodes, t.AtLevel(level)...)
	}
	return nodes
}

// Len returns the number of nodes
func (t *NodeTable) Len() int {
	count := 0
	for _, level := range t.levels {
		count += len(level)
	}
	return count
}

// OccurrenceKind tells whether a linkage crosses a genuine call boundary
type OccurrenceKind string

const (
	OccurrenceCall   OccurrenceKind = "call"   // Child runs in its own frame
	OccurrenceInline OccurrenceKind = "inline" // Inlined into the parent frame
)

// LinkageRecord is the ground-truth parent -> child occurrence produced by the tree walk
type LinkageRecord struct {
	ParentRawID int64          `json:"parentRawId"`
	ParentKey   GroupKey       `json:"parentKey"`
	ChildRawID  int64          `json:"childRawId"`
	ChildKey    GroupKey       `json:"childKey"`
	Runtime     float64        `json:"runtime"` // Rank-averaged child inclusive runtime
	Kind        OccurrenceKind `json:"kind"`
}

// IsCallBoundary reports whether the record contributes to edge weights
func (r LinkageRecord) IsCallBoundary() bool {
	return r.Kind == OccurrenceCall
}

// Occurrence is one surviving aggregated node after merging, addressed by a sequential id
type Occurrence struct {
	ID     int      `json:"id"`
	Key    GroupKey `json:"key"`   // Group key before cycle breaking
	Label  GroupKey `json:"label"` // Final label after cycle breaking
	Name   string   `json:"name"`
	Kind   KeyKind  `json:"kind"`
	Level  int      `json:"level"`
	RawIDs []int64  `json:"rawIds"`
}

// FlowNode is a node of the emitted dataflow graph
type FlowNode struct {
	ID            int      `json:"id"`
	Key           GroupKey `json:"key"`
	BaseKey       GroupKey `json:"baseKey"`
	Name          string   `json:"name"`
	Kind          KeyKind  `json:"kind"`
	Runtime       float64  `json:"runtime"`
	RawIDs        []int64  `json:"rawIds"`
	OccurrenceIDs []int    `json:"occurrenceIds"`
}

// FlowEdge is a weighted edge of the emitted dataflow graph
type FlowEdge struct {
	Source   GroupKey `json:"source"`
	Target   GroupKey `json:"target"`
	SourceID int      `json:"sourceId"`
	TargetID int      `json:"targetId"`
	Weight   float64  `json:"weight"`
	RawIDs   []int64  `json:"rawIds"` // Contributing child raw ids
}

// FlowGraph is the serializable pipeline result
type FlowGraph struct {
	Nodes     map[GroupKey]*FlowNode  `json:"nodes"`
	Edges     []FlowEdge              `json:"edges"`
	NodeList  map[int]*Occurrence     `json:"nodeList"`
	EdgeList  map[int][]LinkageRecord `json:"edgeList"` // Occurrence id -> incoming records
	Entry     map[GroupKey][]int64    `json:"entry"`    // Procedures entered from outside the bucket
	Exit      map[GroupKey][]int64    `json:"exit"`     // Procedures calling out of the bucket
	Threshold float64                 `json:"threshold"`
	Root      GroupKey                `json:"root"`
}

// NewFlowGraph creates an empty result
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{
		Nodes:    make(map[GroupKey]*FlowNode),
		Edges:    make([]FlowEdge, 0),
		NodeList: make(map[int]*Occurrence),
		EdgeList: make(map[int][]LinkageRecord),
		Entry:    make(map[GroupKey][]int64),
		Exit:     make(map[GroupKey][]int64),
		Root:     RootKey,
	}
}

// SortedKeys returns node keys ordered by node id
func (g *FlowGraph) SortedKeys() []GroupKey {
	keys := make([]GroupKey, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return g.Nodes[keys[i]].ID < g.Nodes[keys[j]].ID })
	return keys
}

// OutWeight sums the weights of edges leaving a node
func (g *FlowGraph) OutWeight(key GroupKey) float64 {
	total := 0.0
	for _, e := range g.Edges {
		if e.Source == key {
			total += e.Weight
		}
	}
	return total
}
