package cycles

import (
	"sort"

	"github.com/ritzau/cctflow/pkg/graph"
	"github.com/ritzau/cctflow/pkg/model"
)

// LabelCycle is a set of labels that reach each other
type LabelCycle struct {
	Labels []model.GroupKey `json:"labels"`
}

// FindLabelCycles lists every cycle in a label graph. A correctly broken
// graph yields none.
func FindLabelCycles(lg *graph.LabelGraph) []LabelCycle {
	tarjan := NewTarjanSCC(lg.Graph())

	cycles := make([]LabelCycle, 0)
	for _, scc := range tarjan.FindSCCs() {
		labels := make([]model.GroupKey, 0, len(scc))
		for _, id := range scc {
			if label, ok := lg.LabelOf(id); ok {
				labels = append(labels, label)
			}
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
		cycles = append(cycles, LabelCycle{Labels: labels})
	}
	return cycles
}
