package cct

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/model"
)

// Source provides the calling-context tree for a dataset.
// Implementations encapsulate where the trace comes from (a file, a test fixture)
// and how it is decoded into the tree model.
type Source interface {
	// Identity returns a string that changes whenever the underlying trace changes.
	// It is part of the result cache key.
	Identity() string

	// Load reads and parses the trace. It should respect the context for cancellation.
	Load(ctx context.Context) (*model.Tree, error)
}

// FileSource loads a CCT document from disk. A directory path resolves to the
// first trace file found inside it.
type FileSource struct {
	path   string
	parser *Parser
}

// NewFileSource creates a source for a trace file or dataset directory
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, parser: NewParser()}
}

// Path returns the configured path
func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) resolve() (string, os.FileInfo, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat trace: %w", err)
	}
	if !info.IsDir() {
		return s.path, info, nil
	}

	traces, err := FindTraces(s.path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to scan dataset: %w", err)
	}
	if len(traces) == 0 {
		return "", nil, fmt.Errorf("no trace found in %s", s.path)
	}
	info, err = os.Stat(traces[0])
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat trace: %w", err)
	}
	return traces[0], info, nil
}

func (s *FileSource) Identity() string {
	path, info, err := s.resolve()
	if err != nil {
		return s.path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())
}

func (s *FileSource) Load(ctx context.Context) (*model.Tree, error) {
	path, _, err := s.resolve()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	tree, err := s.parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logging.InfoContext(ctx, "loaded trace",
		"path", path,
		"nodes", len(tree.Nodes),
		"metrics", len(tree.MetricDefs),
		"durationMs", time.Since(start).Milliseconds(),
	)
	return tree, nil
}

// TreeSource serves an already parsed tree, used for embedding and tests
type TreeSource struct {
	Tree *model.Tree
	ID   string
}

func (s *TreeSource) Identity() string {
	return s.ID
}

func (s *TreeSource) Load(ctx context.Context) (*model.Tree, error) {
	if s.Tree == nil {
		return nil, fmt.Errorf("%w: no tree", ErrInvalidTree)
	}
	return s.Tree, ctx.Err()
}
