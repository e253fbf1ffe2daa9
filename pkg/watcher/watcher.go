// Package watcher turns file system changes to the trace and split config
// into debounced rebuild requests.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/cctflow/pkg/cct"
	"github.com/ritzau/cctflow/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeTrace ChangeType = iota
	ChangeTypeSplitConfig
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeTrace:
		return "trace"
	case ChangeTypeSplitConfig:
		return "split_config"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// batchWindow groups raw events before they reach the debouncer
const batchWindow = 100 * time.Millisecond

// FileWatcher watches a trace (file or dataset directory) and an optional
// split config file. Parent directories are watched because editors and
// profilers replace files rather than writing in place.
type FileWatcher struct {
	watcher     *fsnotify.Watcher
	trace       string
	traceIsDir  bool
	splitConfig string
	events      chan ChangeEvent
}

// NewFileWatcher creates a watcher. splitConfig may be empty.
func NewFileWatcher(trace, splitConfig string) (*FileWatcher, error) {
	info, err := os.Stat(trace)
	if err != nil {
		return nil, fmt.Errorf("failed to stat trace: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:     watcher,
		trace:       absPath(trace),
		traceIsDir:  info.IsDir(),
		splitConfig: absPath(splitConfig),
		events:      make(chan ChangeEvent, 100),
	}
	return fw, nil
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}

// Start begins watching; events are delivered until ctx is cancelled
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs := map[string]bool{}
	if fw.traceIsDir {
		dirs[fw.trace] = true
	} else {
		dirs[filepath.Dir(fw.trace)] = true
	}
	if fw.splitConfig != "" {
		dirs[filepath.Dir(fw.splitConfig)] = true
	}

	watched := make([]string, 0, len(dirs))
	for dir := range dirs {
		watched = append(watched, dir)
	}
	sort.Strings(watched)
	for _, dir := range watched {
		if err := fw.watcher.Add(dir); err != nil {
			fw.watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	logging.Info("started watching", "trace", fw.trace, "splitConfig", fw.splitConfig, "directories", len(watched))

	go fw.processEvents(ctx)
	return nil
}

// classify maps a changed path to the input it belongs to
func (fw *FileWatcher) classify(name string) (ChangeType, bool) {
	path := absPath(name)
	if fw.splitConfig != "" && path == fw.splitConfig {
		return ChangeTypeSplitConfig, true
	}
	if fw.traceIsDir {
		if filepath.Dir(path) == fw.trace && cct.IsTraceFile(path) {
			return ChangeTypeTrace, true
		}
		return 0, false
	}
	if path == fw.trace {
		return ChangeTypeTrace, true
	}
	return 0, false
}

// processEvents filters file system events and batches them by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.watcher.Close()

	pending := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	flush := func() {
		for _, t := range []ChangeType{ChangeTypeSplitConfig, ChangeTypeTrace} {
			if paths := pending[t]; len(paths) > 0 {
				select {
				case fw.events <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
		pending = make(map[ChangeType][]string)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			t, relevant := fw.classify(event.Name)
			if !relevant {
				continue
			}
			logging.Trace("file changed", "path", event.Name, "op", event.Op.String(), "type", t.String())
			pending[t] = appendUnique(pending[t], event.Name)
			flushTimer.Reset(batchWindow)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

func appendUnique(paths []string, p string) []string {
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}

// Events returns the channel of change events. It is closed when the
// watcher stops.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}
