package watcher

// ChangeAnalysis describes what a change requires before the next build
type ChangeAnalysis struct {
	ReloadSplitRules bool
	Rebuild          bool
	ChangedFiles     []string
	Reason           string
}

// AnalyzeChanges determines what needs to happen for a debounced change.
// A trace change alters the dataset identity, so the rebuild misses the
// result cache on its own.
func AnalyzeChanges(event ChangeEvent) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: event.Paths,
	}

	switch event.Type {
	case ChangeTypeSplitConfig:
		analysis.ReloadSplitRules = true
		analysis.Rebuild = true
		analysis.Reason = "split config changed"

	case ChangeTypeTrace:
		analysis.Rebuild = true
		analysis.Reason = "trace changed"
	}

	return analysis
}
