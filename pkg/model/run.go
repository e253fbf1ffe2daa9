package model

import "sort"

// RunState is the mutable state of one pipeline run. It is created per build and
// passed by reference through the phases; it must never be shared between runs.
type RunState struct {
	Tree      *Tree
	Linkage   []LinkageRecord
	Threshold float64

	// Entry holds, per bucket, the procedures entered from a different bucket;
	// Exit holds the procedures that call out of the bucket.
	Entry map[GroupKey]map[int64]struct{}
	Exit  map[GroupKey]map[int64]struct{}

	resolvedModule  map[int64]int64 // Raw id -> module id after classification
	syntheticModule map[int64]int64 // Procedure id -> synthetic module id
	nextSynthetic   int64
}

// NewRunState creates the state for one run over a tree
func NewRunState(tree *Tree) *RunState {
	return &RunState{
		Tree:            tree,
		Entry:           make(map[GroupKey]map[int64]struct{}),
		Exit:            make(map[GroupKey]map[int64]struct{}),
		resolvedModule:  make(map[int64]int64),
		syntheticModule: make(map[int64]int64),
		nextSynthetic:   tree.MaxModuleID() + 1,
	}
}

// SyntheticModule returns the synthetic module id of a procedure of interest,
// allocating the next id on first use
func (s *RunState) SyntheticModule(procedureID int64) int64 {
	if id, ok := s.syntheticModule[procedureID]; ok {
		return id
	}
	id := s.nextSynthetic
	s.nextSynthetic++
	s.syntheticModule[procedureID] = id
	return id
}

// SetResolvedModule records the module id a raw node was classified under
func (s *RunState) SetResolvedModule(rawID, moduleID int64) {
	s.resolvedModule[rawID] = moduleID
}

// ResolvedModule returns the module id a raw node was classified under
func (s *RunState) ResolvedModule(rawID int64) (int64, bool) {
	id, ok := s.resolvedModule[rawID]
	return id, ok
}

// AddLinkage appends a ground-truth record
func (s *RunState) AddLinkage(rec LinkageRecord) {
	s.Linkage = append(s.Linkage, rec)
}

// MarkEntry records that procedureID enters bucket key from outside
func (s *RunState) MarkEntry(key GroupKey, procedureID int64) {
	addToSet(s.Entry, key, procedureID)
}

// MarkExit records that procedureID in bucket key calls outside
func (s *RunState) MarkExit(key GroupKey, procedureID int64) {
	addToSet(s.Exit, key, procedureID)
}

func addToSet(table map[GroupKey]map[int64]struct{}, key GroupKey, id int64) {
	set, ok := table[key]
	if !ok {
		set = make(map[int64]struct{})
		table[key] = set
	}
	set[id] = struct{}{}
}

// SortedSet flattens an entry/exit table into sorted slices
func SortedSet(table map[GroupKey]map[int64]struct{}) map[GroupKey][]int64 {
	result := make(map[GroupKey][]int64, len(table))
	for key, set := range table {
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		result[key] = ids
	}
	return result
}

// Inclusive returns the rank-averaged inclusive runtime of a raw node. A root
// without metrics reports the sum of its children.
func (s *RunState) Inclusive(rawID int64) float64 {
	if rawID == s.Tree.RootID {
		return s.RootRuntime()
	}
	return s.Tree.Inclusive(rawID)
}

// RootRuntime returns the runtime the relative threshold is computed from
func (s *RunState) RootRuntime() float64 {
	root := s.Tree.Root()
	if root == nil {
		return 0
	}
	if m, ok := s.Tree.Metrics[root.ID]; ok && len(m.Inclusive) > 0 {
		return RankAverage(m.Inclusive)
	}
	total := 0.0
	for _, c := range root.Children {
		total += s.Tree.Inclusive(c)
	}
	return total
}

// Recompute sets a node's runtimes from its current members
func (s *RunState) Recompute(n *AggregatedNode) {
	n.Inclusive, n.Exclusive = 0, 0
	for _, id := range n.Members {
		n.Inclusive += s.Inclusive(id)
		n.Exclusive += s.Tree.Exclusive(id)
	}
}
