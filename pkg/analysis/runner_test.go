package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/ritzau/cctflow/pkg/cct"
	"github.com/ritzau/cctflow/pkg/flow"
	"github.com/ritzau/cctflow/pkg/model"
	"github.com/ritzau/cctflow/pkg/pubsub"
	"github.com/ritzau/cctflow/pkg/testutil"
)

func newTestRunner(t *testing.T, opts flow.Options) (*Runner, *pubsub.SSEPublisher) {
	t.Helper()
	pub := pubsub.NewSSEPublisher()
	pubsub.ConfigureDefaultTopics(pub)
	t.Cleanup(func() { pub.Close() })

	source := &cct.TreeSource{Tree: testutil.CycleSplitTree(), ID: "cycle-split"}
	if opts.FilterFraction == 0 {
		opts.FilterFraction = 0.01
	}
	return NewRunner(source, pub, opts, DefaultCacheSize), pub
}

func nextGraphUpdate(t *testing.T, sub pubsub.Subscription) GraphUpdate {
	t.Helper()
	select {
	case event := <-sub.Events():
		var update GraphUpdate
		if err := json.Unmarshal(event.Data, &update); err != nil {
			t.Fatalf("Failed to decode graph update: %v", err)
		}
		return update
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for graph update")
	}
	return GraphUpdate{}
}

func TestCurrentBeforeFirstBuild(t *testing.T) {
	runner, _ := newTestRunner(t, flow.Options{})
	if _, err := runner.Current(); !errors.Is(err, ErrNoDataset) {
		t.Errorf("Expected ErrNoDataset, got %v", err)
	}
}

func TestRunPublishesAndCaches(t *testing.T) {
	runner, pub := newTestRunner(t, flow.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, pubsub.TopicFlowGraph)
	if err != nil {
		t.Fatal(err)
	}

	first, err := runner.Run(context.Background(), "initial build")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.BuildID == "" || first.Hash == "" {
		t.Errorf("Snapshot should carry build id and hash, got %q %q", first.BuildID, first.Hash)
	}
	if len(first.Graph.Nodes) != 4 || first.Relabels != 1 {
		t.Errorf("Expected 4 nodes and 1 relabel, got %d and %d", len(first.Graph.Nodes), first.Relabels)
	}

	update := nextGraphUpdate(t, sub)
	if update.BuildID != first.BuildID || update.Nodes != 4 || update.Edges != 3 {
		t.Errorf("Unexpected graph update %+v", update)
	}
	if update.Diff == nil || !update.Diff.FullGraph {
		t.Error("First publication should carry the full graph")
	}

	second, err := runner.Run(context.Background(), "rebuild")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if second != first {
		t.Error("Identical dataset and options should be served from the cache")
	}
	if runner.cache.len() != 1 {
		t.Errorf("Expected 1 cached build, got %d", runner.cache.len())
	}
	if update := nextGraphUpdate(t, sub); update.Diff == nil || !update.Diff.Empty() {
		t.Errorf("Cached rebuild should publish an empty diff, got %+v", update.Diff)
	}

	status, ok := pub.Latest(pubsub.TopicBuildStatus)
	if !ok {
		t.Fatal("Expected a buffered build status")
	}
	var bs pubsub.BuildStatus
	if err := json.Unmarshal(status.Data, &bs); err != nil {
		t.Fatal(err)
	}
	if bs.State != pubsub.StateReady || !bs.Cached {
		t.Errorf("Expected cached ready status, got %+v", bs)
	}

	current, err := runner.Current()
	if err != nil || current != first {
		t.Errorf("Current() = %v, %v", current, err)
	}
}

func TestSplitUsesBaseKey(t *testing.T) {
	runner, _ := newTestRunner(t, flow.Options{})
	if _, err := runner.Run(context.Background(), "initial build"); err != nil {
		t.Fatal(err)
	}

	snapshot, err := runner.Split(context.Background(), SplitRequest{Keys: []model.GroupKey{"LM1_0"}})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if got := runner.Options().SplitByParent; len(got) != 1 || got[0] != "LM1" {
		t.Errorf("Expected split-by-parent [LM1], got %v", got)
	}

	g := snapshot.Graph
	for _, key := range []model.GroupKey{"LM0", "LM0-LM1", "LM2", "LM2-LM1"} {
		if _, ok := g.Nodes[key]; !ok {
			t.Errorf("Expected node %s after split, got %v", key, g.SortedKeys())
		}
	}
	if snapshot.Relabels != 0 {
		t.Errorf("Splitting by caller removes the cycle, got %d relabels", snapshot.Relabels)
	}
	if runner.cache.len() != 2 {
		t.Errorf("Expected 2 cached builds, got %d", runner.cache.len())
	}
}

func TestSplitExpandsKeepSet(t *testing.T) {
	runner, _ := newTestRunner(t, flow.Options{Keep: []int64{0, 1}})

	snapshot, err := runner.Run(context.Background(), "initial build")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Graph.Nodes) != 2 {
		t.Fatalf("Keep set {0, 1} should show root and LM1, got %v", snapshot.Graph.SortedKeys())
	}

	snapshot, err = runner.Split(context.Background(), SplitRequest{Expand: []int64{1}})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if _, ok := snapshot.Graph.Nodes["LM2"]; !ok || len(snapshot.Graph.Nodes) != 3 {
		t.Errorf("Expanding node 1 should reveal LM2, got %v", snapshot.Graph.SortedKeys())
	}
	if keep := runner.Options().Keep; len(keep) != 3 {
		t.Errorf("Expected keep set {0 1 2}, got %v", keep)
	}
}

func TestSplitRejectsEmptyRequest(t *testing.T) {
	runner, _ := newTestRunner(t, flow.Options{})
	if _, err := runner.Split(context.Background(), SplitRequest{}); err == nil {
		t.Error("Expected error for empty split request")
	}
}

func TestRunFailurePublishesError(t *testing.T) {
	pub := pubsub.NewSSEPublisher()
	pubsub.ConfigureDefaultTopics(pub)
	defer pub.Close()

	runner := NewRunner(&cct.TreeSource{ID: "empty"}, pub, flow.Options{FilterFraction: 0.01}, 0)
	if _, err := runner.Run(context.Background(), "initial build"); !errors.Is(err, cct.ErrInvalidTree) {
		t.Fatalf("Expected ErrInvalidTree, got %v", err)
	}
	if _, err := runner.Current(); !errors.Is(err, ErrNoDataset) {
		t.Errorf("Failed build must not publish a snapshot, got %v", err)
	}

	event, ok := pub.Latest(pubsub.TopicBuildStatus)
	if !ok || event.Type != pubsub.StateError {
		t.Errorf("Expected error status, got %+v", event)
	}
}

func TestRunCancelled(t *testing.T) {
	runner, _ := newTestRunner(t, flow.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runner.Run(ctx, "cancelled"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestResultCacheEviction(t *testing.T) {
	c := newResultCache(2)
	a, b, d := &Snapshot{BuildID: "a"}, &Snapshot{BuildID: "b"}, &Snapshot{BuildID: "d"}
	c.put("a", a)
	c.put("b", b)
	c.get("a") // a is now most recent
	c.put("d", d)

	if _, ok := c.get("b"); ok {
		t.Error("Least recently used entry should be evicted")
	}
	if got, ok := c.get("a"); !ok || got != a {
		t.Error("Recently used entry should survive")
	}
	if c.len() != 2 {
		t.Errorf("Expected 2 entries, got %d", c.len())
	}

	disabled := newResultCache(0)
	disabled.put("a", a)
	if disabled.len() != 0 {
		t.Error("Zero-sized cache should store nothing")
	}
}

func TestExpandKeepWalksWrappers(t *testing.T) {
	tree := testutil.NewTree(10).
		Add(1, 0, model.KindProcedureFrame, 1, 10).
		Add(2, 1, model.KindCallSite, 1, 8).
		Add(3, 2, model.KindProcedureFrame, 2, 8).
		Add(4, 3, model.KindProcedureFrame, 3, 4).
		Tree()

	got := expandKeep(tree, []int64{1, 99})
	want := []int64{0, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expandKeep() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expandKeep() = %v, want %v", got, want)
		}
	}
}
