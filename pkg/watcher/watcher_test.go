package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	input := make(chan ChangeEvent)
	d := NewDebouncer(input, 30*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	input <- ChangeEvent{Type: ChangeTypeTrace, Paths: []string{"a.cct.json"}}
	input <- ChangeEvent{Type: ChangeTypeTrace, Paths: []string{"a.cct.json"}}
	input <- ChangeEvent{Type: ChangeTypeSplitConfig, Paths: []string{"split.toml"}}

	var got []ChangeEvent
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-d.Output():
			got = append(got, e)
		case <-timeout:
			t.Fatalf("Timeout, received %d events", len(got))
		}
	}

	if got[0].Type != ChangeTypeSplitConfig {
		t.Errorf("Split config changes should be released first, got %s", got[0].Type)
	}
	if got[1].Type != ChangeTypeTrace || len(got[1].Paths) != 1 {
		t.Errorf("Expected one de-duplicated trace path, got %+v", got[1])
	}

	select {
	case e := <-d.Output():
		t.Errorf("Unexpected extra event %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerMaxWait(t *testing.T) {
	input := make(chan ChangeEvent)
	d := NewDebouncer(input, time.Hour, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	input <- ChangeEvent{Type: ChangeTypeTrace, Paths: []string{"a.cct.json"}}

	select {
	case e := <-d.Output():
		if e.Type != ChangeTypeTrace {
			t.Errorf("Unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Max wait did not release the event")
	}
}

func TestDebouncerFlushesOnClose(t *testing.T) {
	input := make(chan ChangeEvent, 1)
	d := NewDebouncer(input, time.Hour, time.Hour)
	d.Start(context.Background())

	input <- ChangeEvent{Type: ChangeTypeTrace, Paths: []string{"a.cct.json"}}
	close(input)

	e, ok := <-d.Output()
	if !ok || e.Type != ChangeTypeTrace {
		t.Fatalf("Expected pending event on close, got %+v %v", e, ok)
	}
	if _, ok := <-d.Output(); ok {
		t.Error("Output should close after input closes")
	}
}

func TestAnalyzeChanges(t *testing.T) {
	a := AnalyzeChanges(ChangeEvent{Type: ChangeTypeSplitConfig, Paths: []string{"split.toml"}})
	if !a.ReloadSplitRules || !a.Rebuild {
		t.Errorf("Split config change should reload rules and rebuild, got %+v", a)
	}

	a = AnalyzeChanges(ChangeEvent{Type: ChangeTypeTrace, Paths: []string{"a.cct.json"}})
	if a.ReloadSplitRules || !a.Rebuild || a.Reason != "trace changed" {
		t.Errorf("Trace change should only rebuild, got %+v", a)
	}
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	trace := filepath.Join(dir, "run.cct.json")
	split := filepath.Join(dir, "split.toml")
	mustWrite(t, trace, "{}")

	fw, err := NewFileWatcher(trace, split)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.watcher.Close()

	tests := []struct {
		path     string
		want     ChangeType
		relevant bool
	}{
		{trace, ChangeTypeTrace, true},
		{split, ChangeTypeSplitConfig, true},
		{filepath.Join(dir, "other.cct.json"), 0, false},
		{filepath.Join(dir, "notes.txt"), 0, false},
	}
	for _, tt := range tests {
		got, relevant := fw.classify(tt.path)
		if relevant != tt.relevant || (relevant && got != tt.want) {
			t.Errorf("classify(%s) = %v, %v; want %v, %v", filepath.Base(tt.path), got, relevant, tt.want, tt.relevant)
		}
	}

	dirWatcher, err := NewFileWatcher(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	defer dirWatcher.watcher.Close()
	if _, relevant := dirWatcher.classify(filepath.Join(dir, "other.cct.json")); !relevant {
		t.Error("Any trace file in a watched dataset directory is relevant")
	}
	if _, relevant := dirWatcher.classify(filepath.Join(dir, "notes.txt")); relevant {
		t.Error("Non-trace files in the dataset directory are irrelevant")
	}
}

func TestFileWatcherDetectsTraceWrite(t *testing.T) {
	dir := t.TempDir()
	trace := filepath.Join(dir, "run.cct.json")
	mustWrite(t, trace, "{}")

	fw, err := NewFileWatcher(trace, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fw.Start(ctx); err != nil {
		t.Fatal(err)
	}

	mustWrite(t, filepath.Join(dir, "ignored.txt"), "x")
	mustWrite(t, trace, `{"name":"updated"}`)

	select {
	case e := <-fw.Events():
		if e.Type != ChangeTypeTrace {
			t.Errorf("Expected trace change, got %s", e.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("No change event for trace write")
	}

	cancel()
	for range fw.Events() {
	}
}

func TestNewFileWatcherMissingTrace(t *testing.T) {
	if _, err := NewFileWatcher(filepath.Join(t.TempDir(), "missing.json"), ""); err == nil {
		t.Error("Expected error for missing trace")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
