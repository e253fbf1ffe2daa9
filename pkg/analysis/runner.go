// Package analysis orchestrates graph builds for a dataset: it serializes
// builds, caches their results and publishes completed graphs to subscribers.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ritzau/cctflow/pkg/cct"
	"github.com/ritzau/cctflow/pkg/config"
	"github.com/ritzau/cctflow/pkg/flow"
	"github.com/ritzau/cctflow/pkg/lens"
	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/metrics"
	"github.com/ritzau/cctflow/pkg/model"
	"github.com/ritzau/cctflow/pkg/pubsub"
)

// ErrNoDataset is returned when no graph has been built yet
var ErrNoDataset = errors.New("no dataset loaded")

// DefaultCacheSize is the number of builds kept when none is configured
const DefaultCacheSize = 8

// Snapshot is one complete, immutable build result
type Snapshot struct {
	BuildID  string           `json:"buildId"`
	Hash     string           `json:"hash"` // Cache key: dataset identity + options
	Graph    *model.FlowGraph `json:"graph"`
	Relabels int              `json:"relabels"`
	Unknown  []string         `json:"unknownProcedures,omitempty"`
	Options  flow.Options     `json:"options"`
	BuiltAt  time.Time        `json:"builtAt"`
}

// GraphUpdate is the payload of flow_graph events
type GraphUpdate struct {
	BuildID   string          `json:"buildId"`
	Hash      string          `json:"hash"`
	Nodes     int             `json:"nodes"`
	Edges     int             `json:"edges"`
	Relabels  int             `json:"relabels"`
	Threshold float64         `json:"threshold"`
	Diff      *lens.GraphDiff `json:"diff"`
}

// SplitRequest asks for a rebuild with more detail
type SplitRequest struct {
	Keys   []model.GroupKey `json:"keys,omitempty"`   // Keys to split by calling module
	Expand []int64          `json:"expand,omitempty"` // Raw ids whose children join the keep set
}

// Runner orchestrates builds for one dataset
type Runner struct {
	source    cct.Source
	publisher pubsub.Publisher
	cache     *resultCache

	mu sync.Mutex // Prevent concurrent builds

	stateMu      sync.RWMutex
	opts         flow.Options
	current      *Snapshot
	snapshot     *lens.GraphSnapshot
	tree         *model.Tree
	treeIdentity string
}

// NewRunner creates a runner. publisher may be nil when nobody subscribes.
func NewRunner(source cct.Source, publisher pubsub.Publisher, opts flow.Options, cacheSize int) *Runner {
	if cacheSize < 0 {
		cacheSize = DefaultCacheSize
	}
	return &Runner{
		source:    source,
		publisher: publisher,
		cache:     newResultCache(cacheSize),
		opts:      opts.Normalized(),
	}
}

// Options returns the options the next build will use
func (r *Runner) Options() flow.Options {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.opts
}

// SetSplitRules replaces the split rules used by subsequent builds
func (r *Runner) SetSplitRules(rules config.SplitRules) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.opts.SplitRules = rules
}

// Current returns the latest published snapshot
func (r *Runner) Current() (*Snapshot, error) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if r.current == nil {
		return nil, ErrNoDataset
	}
	return r.current, nil
}

// Run builds the graph for the current dataset and options. Builds are
// serialized; a result for an identical dataset and option set is served
// from the cache.
func (r *Runner) Run(ctx context.Context, reason string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buildID := uuid.New().String()
	ctx = logging.WithBuildID(ctx, buildID)
	opts := r.Options()

	logging.InfoContext(ctx, "starting build", "reason", reason)
	r.publishStatus(pubsub.StateLoading, "Loading trace...", buildID, reason, false)

	identity := r.source.Identity()
	key := lens.ComputeHash(struct {
		Identity string
		Options  flow.Options
	}{identity, opts})

	if cached, ok := r.cache.get(key); ok {
		metrics.CacheLookup(true)
		logging.InfoContext(ctx, "serving cached build", "hash", shortHash(key), "cachedBuild", cached.BuildID)
		r.publish(ctx, cached, reason, true)
		metrics.BuildFinished("cached")
		return cached, nil
	}
	metrics.CacheLookup(false)

	snapshot, err := r.build(ctx, identity, opts)
	if err != nil {
		result := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result = "cancelled"
		}
		metrics.BuildFinished(result)
		logging.ErrorContext(ctx, "build failed", "reason", reason, "error", err)
		r.publishStatus(pubsub.StateError, fmt.Sprintf("Build failed: %v", err), buildID, reason, false)
		return nil, err
	}
	snapshot.BuildID = buildID
	snapshot.Hash = key

	r.cache.put(key, snapshot)
	r.publish(ctx, snapshot, reason, false)
	metrics.BuildFinished("ok")
	return snapshot, nil
}

func (r *Runner) build(ctx context.Context, identity string, opts flow.Options) (*Snapshot, error) {
	start := time.Now()

	t, err := r.loadTree(ctx, identity)
	if err != nil {
		return nil, err
	}

	r.publishStatus(pubsub.StateBuilding, "Building dataflow graph...", logging.GetBuildID(ctx), "", false)
	res, err := flow.Build(ctx, t, opts)
	if err != nil {
		return nil, fmt.Errorf("graph build failed: %w", err)
	}

	logging.InfoContext(ctx, "build finished",
		"nodes", len(res.Graph.Nodes),
		"edges", len(res.Graph.Edges),
		"relabels", res.Relabels,
		"threshold", res.Graph.Threshold,
		"durationMs", time.Since(start).Milliseconds(),
	)
	return &Snapshot{
		Graph:    res.Graph,
		Relabels: res.Relabels,
		Unknown:  res.Unknown,
		Options:  opts,
		BuiltAt:  time.Now(),
	}, nil
}

// loadTree reuses the parsed tree while the dataset identity is unchanged,
// so split requests do not re-read the trace
func (r *Runner) loadTree(ctx context.Context, identity string) (*model.Tree, error) {
	r.stateMu.RLock()
	t, loaded := r.tree, r.treeIdentity
	r.stateMu.RUnlock()
	if t != nil && loaded == identity {
		logging.DebugContext(ctx, "reusing parsed trace")
		return t, nil
	}

	t, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}

	r.stateMu.Lock()
	r.tree, r.treeIdentity = t, identity
	r.stateMu.Unlock()
	return t, nil
}

// publish makes a snapshot current and notifies subscribers with the diff
// against the previously published graph
func (r *Runner) publish(ctx context.Context, s *Snapshot, reason string, cached bool) {
	r.stateMu.Lock()
	diff := lens.ComputeDiff(r.snapshot, s.Graph)
	r.snapshot = lens.CreateSnapshot(s.Graph)
	r.current = s
	r.stateMu.Unlock()

	metrics.GraphPublished(len(s.Graph.Nodes), len(s.Graph.Edges), s.Relabels)

	if r.publisher != nil {
		update := GraphUpdate{
			BuildID:   s.BuildID,
			Hash:      s.Hash,
			Nodes:     len(s.Graph.Nodes),
			Edges:     len(s.Graph.Edges),
			Relabels:  s.Relabels,
			Threshold: s.Graph.Threshold,
			Diff:      diff,
		}
		if err := r.publisher.Publish(pubsub.TopicFlowGraph, "graph_ready", update); err != nil {
			logging.WarnContext(ctx, "failed to publish graph", "error", err)
		}
	}
	r.publishStatus(pubsub.StateReady, fmt.Sprintf("Graph ready: %d nodes, %d edges", len(s.Graph.Nodes), len(s.Graph.Edges)), s.BuildID, reason, cached)
}

func (r *Runner) publishStatus(state, message, buildID, reason string, cached bool) {
	if r.publisher == nil {
		return
	}
	status := pubsub.BuildStatus{
		State:   state,
		Message: message,
		BuildID: buildID,
		Reason:  reason,
		Cached:  cached,
	}
	if err := r.publisher.Publish(pubsub.TopicBuildStatus, state, status); err != nil {
		logging.Warn("failed to publish build status", "state", state, "error", err)
	}
}

// Split extends the split-by-parent and keep sets and rebuilds. Keys that
// name an alternate created by cycle breaking are split by their base key.
func (r *Runner) Split(ctx context.Context, req SplitRequest) (*Snapshot, error) {
	if len(req.Keys) == 0 && len(req.Expand) == 0 {
		return nil, fmt.Errorf("split request names no keys and no nodes")
	}

	current, _ := r.Current()

	r.stateMu.Lock()
	for _, key := range req.Keys {
		if current != nil {
			if n, ok := current.Graph.Nodes[key]; ok && n.BaseKey != "" {
				key = n.BaseKey
			}
		}
		r.opts.SplitByParent = append(r.opts.SplitByParent, string(key))
	}
	if len(req.Expand) > 0 {
		if len(r.opts.Keep) == 0 {
			logging.DebugContext(ctx, "keep set is empty, tree is already fully expanded")
		} else {
			r.opts.Keep = append(r.opts.Keep, expandKeep(r.tree, req.Expand)...)
		}
	}
	r.opts = r.opts.Normalized()
	r.stateMu.Unlock()

	return r.Run(ctx, "split")
}

// expandKeep returns the ids that make the requested nodes and their
// occurrence-producing children visible: the nodes, their ancestors and the
// children reached through wrapper nodes
func expandKeep(t *model.Tree, requested []int64) []int64 {
	if t == nil {
		return requested
	}
	set := make(map[int64]struct{})
	for _, id := range requested {
		n, ok := t.Nodes[id]
		if !ok {
			continue
		}
		set[id] = struct{}{}
		for _, a := range t.Ancestors(id) {
			set[a] = struct{}{}
		}
		stack := append([]int64(nil), n.Children...)
		for len(stack) > 0 {
			c := t.Nodes[stack[len(stack)-1]]
			stack = stack[:len(stack)-1]
			if c == nil {
				continue
			}
			set[c.ID] = struct{}{}
			if c.Kind.IsWrapper() {
				stack = append(stack, c.Children...)
			}
		}
	}

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
