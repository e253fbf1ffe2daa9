// Package tree walks a calling-context tree and groups its occurrences into
// aggregated nodes per (level, group key).
package tree

import (
	"context"
	"sort"

	"github.com/ritzau/cctflow/pkg/classify"
	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/model"
)

// Builder creates the level table and the linkage records for one run
type Builder struct {
	classifier *classify.Classifier
	keep       map[int64]struct{}
}

// NewBuilder creates a builder. A nil keep set descends into every node;
// otherwise only kept occurrence nodes (and wrappers) are visited.
func NewBuilder(classifier *classify.Classifier, keep map[int64]struct{}) *Builder {
	return &Builder{classifier: classifier, keep: keep}
}

// owner is the nearest occurrence-producing ancestor of a pending node
type owner struct {
	rawID       int64
	procedureID int64
	ref         model.NodeRef
	isRoot      bool
}

type pending struct {
	id    int64
	owner owner
}

// Build walks the tree level by level, checking for cancellation between levels
func (b *Builder) Build(ctx context.Context, state *model.RunState) (*model.NodeTable, error) {
	tree := state.Tree
	table := model.NewNodeTable()

	root := tree.Root()
	if root == nil {
		return table, nil
	}

	res := b.classifier.Classify(root, nil, state)
	state.SetResolvedModule(root.ID, res.Module)
	rootNode := model.NewAggregatedNode(res.Key, res.Name, res.Kind, root.Level)
	rootNode.AddMember(root.ID)
	table.Add(rootNode)

	rootOwner := owner{rawID: root.ID, procedureID: root.ProcedureID, ref: rootNode.Ref(), isRoot: true}
	frontier := make([]pending, 0, len(root.Children))
	for _, c := range root.Children {
		frontier = append(frontier, pending{id: c, owner: rootOwner})
	}

	levels := 1
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sort.Slice(frontier, func(i, j int) bool { return frontier[i].id < frontier[j].id })

		var next []pending
		for _, p := range frontier {
			node, ok := tree.Node(p.id)
			if !ok {
				continue
			}

			if node.Kind.IsWrapper() {
				for _, c := range node.Children {
					next = append(next, pending{id: c, owner: p.owner})
				}
				continue
			}

			if b.keep != nil {
				if _, kept := b.keep[node.ID]; !kept {
					continue
				}
			}

			occ := b.visit(ctx, node, p.owner, table, state)
			for _, c := range node.Children {
				next = append(next, pending{id: c, owner: occ})
			}
		}
		frontier = next
		levels++
	}

	logging.DebugContext(ctx, "tree built",
		"levels", levels,
		"aggregatedNodes", table.Len(),
		"linkage", len(state.Linkage))
	return table, nil
}

// visit records one occurrence and returns it as the owner of its children
func (b *Builder) visit(ctx context.Context, node *model.RawNode, parent owner, table *model.NodeTable, state *model.RunState) owner {
	tree := state.Tree

	res := b.classifier.Classify(node, tree.Parent(node), state)
	state.SetResolvedModule(node.ID, res.Module)

	ref := model.NodeRef{Level: node.Level, Key: res.Key}
	agg, exists := table.Get(ref)
	if !exists {
		agg = model.NewAggregatedNode(res.Key, res.Name, res.Kind, node.Level)
		table.Add(agg)
	}
	agg.AddMember(node.ID)
	agg.AddParent(parent.ref)

	kind := model.OccurrenceInline
	if node.Kind == model.KindProcedureFrame || parent.isRoot {
		kind = model.OccurrenceCall
	}
	state.AddLinkage(model.LinkageRecord{
		ParentRawID: parent.rawID,
		ParentKey:   parent.ref.Key,
		ChildRawID:  node.ID,
		ChildKey:    res.Key,
		Runtime:     state.Inclusive(node.ID),
		Kind:        kind,
	})

	if res.Key != parent.ref.Key {
		state.MarkEntry(res.Key, node.ProcedureID)
		state.MarkExit(parent.ref.Key, parent.procedureID)
	}

	logging.TraceContext(ctx, "occurrence",
		"raw", node.ID,
		"key", string(res.Key),
		"level", node.Level,
		"parent", parent.ref.String())

	return owner{rawID: node.ID, procedureID: node.ProcedureID, ref: ref}
}
