// Package lens computes focused views of a dataflow graph and diffs between
// consecutive graphs.
package lens

import "github.com/ritzau/cctflow/pkg/model"

// Unreachable is the distance of nodes not connected to the focus set
const Unreachable = -1

// Config defines which part of a graph should be shown
type Config struct {
	// Focus selects the nodes distances are measured from. A base key such as
	// "LM1" also selects its alternates ("LM1_0", "LM1_1", ...).
	Focus []model.GroupKey `json:"focus,omitempty"`

	// Depth limits the undirected hop distance from the focus set; negative
	// means unlimited. Ignored when Focus is empty.
	Depth int `json:"depth"`

	// MinWeight hides edges lighter than this many seconds
	MinWeight float64 `json:"minWeight,omitempty"`

	// HideKinds drops nodes whose key kind is listed
	HideKinds []model.KeyKind `json:"hideKinds,omitempty"`
}

// DefaultConfig shows the whole graph
func DefaultConfig() Config {
	return Config{Depth: -1}
}

// IsIdentity reports whether rendering with c returns the graph unchanged
func (c Config) IsIdentity() bool {
	return len(c.Focus) == 0 && c.MinWeight <= 0 && len(c.HideKinds) == 0
}

func (c Config) hides(kind model.KeyKind) bool {
	for _, k := range c.HideKinds {
		if k == kind {
			return true
		}
	}
	return false
}
