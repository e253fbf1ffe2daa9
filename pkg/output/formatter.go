// Package output prints dataflow graphs to the console.
package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/goccy/go-json"

	"github.com/ritzau/cctflow/pkg/model"
)

// ReportOptions controls the console report
type ReportOptions struct {
	Trace    string
	Relabels int
	Unknown  []string // Procedures of interest that matched nothing
	MaxEdges int      // 0 prints every edge
}

// PrintGraphReport prints a nicely formatted graph summary with colors
func PrintGraphReport(w io.Writer, g *model.FlowGraph, opts ReportOptions) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	bold.Fprintln(w, "cctflow - Dataflow Report")
	bold.Fprintln(w, "=========================")
	if opts.Trace != "" {
		fmt.Fprintf(w, "Trace: %s\n", opts.Trace)
	}
	fmt.Fprintf(w, "Threshold: %s\n", seconds(g.Threshold))
	fmt.Fprintf(w, "Nodes: %d  Edges: %d\n", len(g.Nodes), len(g.Edges))
	if opts.Relabels > 0 {
		yellow.Fprintf(w, "Cycles broken: %d occurrence(s) relabelled\n", opts.Relabels)
	} else {
		green.Fprintln(w, "No cycles found")
	}
	for _, name := range opts.Unknown {
		red.Fprintf(w, "Procedure of interest not found: %s\n", name)
	}
	fmt.Fprintln(w)

	rootRuntime := 0.0
	if root, ok := g.Nodes[g.Root]; ok {
		rootRuntime = root.Runtime
	}

	bold.Fprintln(w, "NODES:")
	for _, key := range g.SortedKeys() {
		n := g.Nodes[key]
		label := cyan
		if n.Key != n.BaseKey {
			label = yellow
		}
		label.Fprintf(w, "  %-24s", n.Key)
		fmt.Fprintf(w, " %-32s %12s %6s\n", truncate(n.Name, 32), seconds(n.Runtime), share(n.Runtime, rootRuntime))
	}
	fmt.Fprintln(w)

	edges := append([]model.FlowEdge(nil), g.Edges...)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
	if opts.MaxEdges > 0 && len(edges) > opts.MaxEdges {
		edges = edges[:opts.MaxEdges]
	}

	bold.Fprintln(w, "EDGES (heaviest first):")
	for _, e := range edges {
		fmt.Fprintf(w, "  %s -> %s", e.Source, e.Target)
		cyan.Fprintf(w, "  %s", seconds(e.Weight))
		fmt.Fprintf(w, " (%d call site(s))\n", len(e.RawIDs))
	}
	if len(edges) < len(g.Edges) {
		fmt.Fprintf(w, "  ... %d more\n", len(g.Edges)-len(edges))
	}
}

// WriteJSON dumps the graph as indented JSON
func WriteJSON(w io.Writer, g *model.FlowGraph) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return nil
}

func seconds(v float64) string {
	return fmt.Sprintf("%.4gs", v)
}

func share(v, total float64) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*v/total)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
