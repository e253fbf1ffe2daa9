package cct

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// FindTraces walks a dataset directory and returns all CCT documents
// (experiment.json or *.cct.json), skipping hidden directories.
func FindTraces(datasetRoot string) ([]string, error) {
	var traces []string

	err := filepath.WalkDir(datasetRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if path != datasetRoot && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if IsTraceFile(path) {
			traces = append(traces, path)
		}

		return nil
	})

	sort.Strings(traces)
	return traces, err
}

// IsTraceFile reports whether a path names a CCT document
func IsTraceFile(path string) bool {
	name := filepath.Base(path)
	return name == "experiment.json" || strings.HasSuffix(name, ".cct.json")
}
