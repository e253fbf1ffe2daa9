// Package classify decides the aggregation bucket (group key) of a tree node.
package classify

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ritzau/cctflow/pkg/config"
	"github.com/ritzau/cctflow/pkg/model"
)

// UnknownFileBucket names the sub-bucket for nodes whose file could not be resolved
const UnknownFileBucket = "unknown-file"

// Options configures classification for one run
type Options struct {
	Procedures    map[int64]struct{}          // Procedures of interest
	Rules         config.SplitRules           // Module display name -> split rule
	SplitByParent map[model.GroupKey]struct{} // Keys to split by calling module
}

// Result is the bucket a node was classified into
type Result struct {
	Key    model.GroupKey
	Name   string
	Kind   model.KeyKind
	Module int64 // Resolved module id (synthetic for procedures of interest)
}

// Classifier resolves group keys. It holds no run state; synthetic module ids
// live in the model.RunState passed to Classify.
type Classifier struct {
	opts Options
}

// New creates a classifier
func New(opts Options) *Classifier {
	return &Classifier{opts: opts}
}

// Classify returns the bucket for node. parent is the raw tree parent (nil for
// the root). Ancestors must already have their resolved module recorded in state.
func (c *Classifier) Classify(node, parent *model.RawNode, state *model.RunState) Result {
	tree := state.Tree

	if node.Kind == model.KindRoot || parent == nil {
		return Result{Key: model.RootKey, Name: rootName(tree), Kind: model.KeyRoot, Module: 0}
	}

	res := c.base(node, state)

	if _, split := c.opts.SplitByParent[res.Key]; split {
		if ancestor, ok := c.callingModule(node, res.Module, state); ok {
			res.Key = model.GroupKey(fmt.Sprintf("%s-%s", model.ModuleKey(ancestor), res.Key))
			res.Name = fmt.Sprintf("%s-%s", moduleDisplayName(tree, ancestor), res.Name)
			res.Kind = model.KeyComposite
		}
	}
	return res
}

func (c *Classifier) base(node *model.RawNode, state *model.RunState) Result {
	tree := state.Tree

	if _, ok := c.opts.Procedures[node.ProcedureID]; ok {
		return Result{
			Key:    model.ProcedureKey(node.ProcedureID),
			Name:   tree.ProcedureName(node.ProcedureID),
			Kind:   model.KeyProcedure,
			Module: state.SyntheticModule(node.ProcedureID),
		}
	}

	moduleName := tree.ModuleName(node.ModuleID)
	if rule, ok := c.opts.Rules.Lookup(moduleName); ok {
		if bucket, ok := splitBucket(rule, node, tree); ok {
			return Result{
				Key:    model.GroupKey(fmt.Sprintf("%s:%s", model.ModuleKey(node.ModuleID), bucket)),
				Name:   fmt.Sprintf("%s:%s", moduleDisplayName(tree, node.ModuleID), bucket),
				Kind:   model.KeySplit,
				Module: node.ModuleID,
			}
		}
	}

	return Result{
		Key:    model.ModuleKey(node.ModuleID),
		Name:   moduleDisplayName(tree, node.ModuleID),
		Kind:   model.KeyModule,
		Module: node.ModuleID,
	}
}

// splitBucket resolves a sub-bucket: longest file prefix, then function
// patterns, then the unknown-file bucket. ok is false for the whole module.
func splitBucket(rule config.SplitRule, node *model.RawNode, tree *model.Tree) (string, bool) {
	path, fileKnown := tree.Files[node.FileID]
	fileKnown = fileKnown && path != ""

	if fileKnown {
		best := ""
		for _, prefix := range rule.Files {
			if prefix != "" && strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
				best = prefix
			}
		}
		if best != "" {
			return fileBucket(path, best), true
		}
	}

	if len(rule.Functions) > 0 {
		name := tree.Procedures[node.ProcedureID]
		buckets := make([]string, 0, len(rule.Functions))
		for b := range rule.Functions {
			buckets = append(buckets, b)
		}
		sort.Strings(buckets)
		for _, b := range buckets {
			for _, pattern := range rule.Functions[b] {
				if pattern != "" && strings.Contains(name, pattern) {
					return b, true
				}
			}
		}
	}

	if !fileKnown {
		return UnknownFileBucket, true
	}
	return "", false
}

// fileBucket returns the path segment following prefix
func fileBucket(path, prefix string) string {
	rest := strings.TrimLeft(strings.TrimPrefix(path, prefix), "/")
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return filepath.Base(strings.TrimRight(prefix, "/"))
	}
	return rest
}

// callingModule walks the parent chain outward to the first ancestor with a
// resolved module different from module. Wrappers carry no resolved module
// and are skipped.
func (c *Classifier) callingModule(node *model.RawNode, module int64, state *model.RunState) (int64, bool) {
	tree := state.Tree
	for p := tree.Parent(node); p != nil; p = tree.Parent(p) {
		m, ok := state.ResolvedModule(p.ID)
		if !ok {
			continue
		}
		if m != module {
			return m, true
		}
	}
	return 0, false
}

func moduleDisplayName(tree *model.Tree, id int64) string {
	if id == 0 {
		return rootName(tree)
	}
	return filepath.Base(tree.ModuleName(id))
}

func rootName(tree *model.Tree) string {
	if tree.Name != "" {
		return tree.Name
	}
	return "root"
}

// ResolveProcedures maps procedure names or numeric ids to procedure ids.
// Unknown names are returned separately so callers can warn about them.
func ResolveProcedures(tree *model.Tree, names []string) (map[int64]struct{}, []string) {
	byName := make(map[string][]int64)
	for id, name := range tree.Procedures {
		byName[name] = append(byName[name], id)
	}

	resolved := make(map[int64]struct{})
	var unknown []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if ids, ok := byName[name]; ok {
			for _, id := range ids {
				resolved[id] = struct{}{}
			}
			continue
		}
		if id, err := strconv.ParseInt(name, 10, 64); err == nil {
			resolved[id] = struct{}{}
			continue
		}
		unknown = append(unknown, name)
	}
	return resolved, unknown
}

// KeySet converts a list of keys into a set
func KeySet(keys []string) map[model.GroupKey]struct{} {
	set := make(map[model.GroupKey]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			set[model.GroupKey(k)] = struct{}{}
		}
	}
	return set
}
