package cct

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ritzau/cctflow/pkg/model"
)

// ErrInvalidTree is returned when a document does not describe a well-formed tree
var ErrInvalidTree = errors.New("invalid calling-context tree")

// Document is the on-disk CCT format
type Document struct {
	Name       string        `json:"name"`
	Metrics    []MetricEntry `json:"metrics"`
	Modules    []NamedEntry  `json:"modules"`
	Files      []FileEntry   `json:"files"`
	Procedures []NamedEntry  `json:"procedures"`
	Root       *DocumentNode `json:"root"`
}

// MetricEntry is one metric table column
type MetricEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "inclusive" or "exclusive"
}

// NamedEntry maps an id to a display name
type NamedEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FileEntry maps a file id to its path
type FileEntry struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// DocumentNode is one node of the serialized tree
type DocumentNode struct {
	ID        int64                `json:"id"`
	Kind      string               `json:"kind"`
	Procedure *int64               `json:"procedure,omitempty"`
	File      *int64               `json:"file,omitempty"`
	Module    *int64               `json:"module,omitempty"`
	Metrics   map[string][]float64 `json:"metrics,omitempty"` // Metric id -> per-rank values
	Children  []*DocumentNode      `json:"children,omitempty"`
}

// Parser converts CCT documents into the tree model
type Parser struct{}

// NewParser creates a new CCT parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a JSON document into a model.Tree
func (p *Parser) Parse(data []byte) (*model.Tree, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse CCT document: %w", err)
	}
	return p.Build(&doc)
}

// Build converts an already decoded document into a model.Tree
func (p *Parser) Build(doc *Document) (*model.Tree, error) {
	if doc.Root == nil {
		return nil, fmt.Errorf("%w: missing root", ErrInvalidTree)
	}

	tree := model.NewTree(doc.Name)
	for _, m := range doc.Modules {
		tree.Modules[m.ID] = m.Name
	}
	for _, f := range doc.Files {
		tree.Files[f.ID] = f.Path
	}
	for _, pr := range doc.Procedures {
		tree.Procedures[pr.ID] = pr.Name
	}

	inclusiveCol, exclusiveCol := retainMetrics(doc.Metrics, tree)

	rootKind, err := ParseKind(doc.Root.Kind)
	if err != nil {
		return nil, err
	}
	if rootKind != model.KindRoot {
		return nil, fmt.Errorf("%w: top-level node %d has kind %s", ErrInvalidTree, doc.Root.ID, rootKind)
	}
	tree.RootID = doc.Root.ID

	// Iterative walk; wrapper nodes inherit attributes from their parent
	type frame struct {
		node   *DocumentNode
		parent *model.RawNode
	}
	stack := []frame{{node: doc.Root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		kind, err := ParseKind(f.node.Kind)
		if err != nil {
			return nil, err
		}
		if _, exists := tree.Nodes[f.node.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate node id %d", ErrInvalidTree, f.node.ID)
		}
		if kind == model.KindRoot && f.parent != nil {
			return nil, fmt.Errorf("%w: nested root node %d", ErrInvalidTree, f.node.ID)
		}

		raw := &model.RawNode{
			ID:       f.node.ID,
			Kind:     kind,
			ParentID: -1,
		}
		if f.parent != nil {
			raw.ParentID = f.parent.ID
			raw.Level = f.parent.Level + 1
			raw.ProcedureID = f.parent.ProcedureID
			raw.FileID = f.parent.FileID
			raw.ModuleID = f.parent.ModuleID
			f.parent.Children = append(f.parent.Children, raw.ID)
		}
		if f.node.Procedure != nil {
			raw.ProcedureID = *f.node.Procedure
		}
		if f.node.File != nil {
			raw.FileID = *f.node.File
		}
		if f.node.Module != nil {
			raw.ModuleID = *f.node.Module
		}
		if kind == model.KindRoot {
			raw.ModuleID = 0
		}
		tree.Nodes[raw.ID] = raw

		if metrics, ok := nodeMetrics(f.node.Metrics, inclusiveCol, exclusiveCol); ok {
			tree.Metrics[raw.ID] = metrics
		}

		// Push in reverse so children are visited in document order
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			if f.node.Children[i] == nil {
				continue
			}
			stack = append(stack, frame{node: f.node.Children[i], parent: raw})
		}
	}

	for _, n := range tree.Nodes {
		sort.Slice(n.Children, func(i, j int) bool { return n.Children[i] < n.Children[j] })
	}

	return tree, nil
}

// ParseKind resolves a node type name, accepting HPCToolkit short tags
func ParseKind(s string) (model.NodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "root", "secflatprofiledata", "sectioncallpathprofiledata":
		return model.KindRoot, nil
	case "procedure_frame", "procedureframe", "pf":
		return model.KindProcedureFrame, nil
	case "procedure", "pr", "inline":
		return model.KindProcedure, nil
	case "call_site", "callsite", "c":
		return model.KindCallSite, nil
	case "loop", "l":
		return model.KindLoop, nil
	case "line", "statement", "s":
		return model.KindLine, nil
	}
	return 0, fmt.Errorf("%w: unknown node kind %q", ErrInvalidTree, s)
}

// IsWallClock reports whether a metric name denotes wall-clock / real time
func IsWallClock(name string) bool {
	n := strings.ToLower(name)
	for _, marker := range []string{"realtime", "real time", "wallclock", "wall clock", "wall-clock"} {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

// retainMetrics filters the metric table to wall-clock columns and returns the
// lowest-id inclusive and exclusive column ids (-1 when absent)
func retainMetrics(entries []MetricEntry, tree *model.Tree) (int, int) {
	sorted := append([]MetricEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	inclusive, exclusive := -1, -1
	for _, m := range sorted {
		if !IsWallClock(m.Name) {
			continue
		}
		typ := model.MetricType(strings.ToLower(m.Type))
		switch typ {
		case model.MetricInclusive:
			if inclusive < 0 {
				inclusive = m.ID
			}
		case model.MetricExclusive:
			if exclusive < 0 {
				exclusive = m.ID
			}
		default:
			continue
		}
		tree.MetricDefs = append(tree.MetricDefs, model.MetricDesc{ID: m.ID, Name: m.Name, Type: typ})
	}
	return inclusive, exclusive
}

// nodeMetrics picks the retained columns out of a node's metric map; metric
// ids that are not in the retained table are ignored
func nodeMetrics(values map[string][]float64, inclusiveCol, exclusiveCol int) (model.NodeMetrics, bool) {
	var m model.NodeMetrics
	found := false
	for key, samples := range values {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		switch {
		case id < 0:
			continue
		case id == inclusiveCol:
			m.Inclusive = append([]float64(nil), samples...)
			found = true
		case id == exclusiveCol:
			m.Exclusive = append([]float64(nil), samples...)
			found = true
		}
	}
	return m, found
}
