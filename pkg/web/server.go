// Package web serves the dataflow graph, its drill-down tables and build
// events over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/ritzau/cctflow/pkg/analysis"
	"github.com/ritzau/cctflow/pkg/lens"
	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/metrics"
	"github.com/ritzau/cctflow/pkg/model"
	"github.com/ritzau/cctflow/pkg/pubsub"
)

// NodeDetail is the drill-down view of one graph node
type NodeDetail struct {
	Node        *model.FlowNode               `json:"node"`
	Occurrences []*model.Occurrence           `json:"occurrences"`
	Incoming    map[int][]model.LinkageRecord `json:"incoming"` // Occurrence id -> ground-truth records
	InEdges     []model.FlowEdge              `json:"inEdges"`
	OutEdges    []model.FlowEdge              `json:"outEdges"`
	EntryExit   EntryExit                     `json:"entryExit"`
}

// EntryExit lists the procedures crossing a bucket boundary
type EntryExit struct {
	Key   model.GroupKey `json:"key"`
	Entry []int64        `json:"entry"` // Procedures entered from outside
	Exit  []int64        `json:"exit"`  // Procedures calling outside
}

// Runner is the part of analysis.Runner the server drives
type Runner interface {
	Current() (*analysis.Snapshot, error)
	Run(ctx context.Context, reason string) (*analysis.Snapshot, error)
	Split(ctx context.Context, req analysis.SplitRequest) (*analysis.Snapshot, error)
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	runner    Runner
	publisher pubsub.Publisher
}

// NewServer creates a server for a runner and the publisher it reports to
func NewServer(runner Runner, publisher pubsub.Publisher) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		runner:    runner,
		publisher: publisher,
	}
	s.setupRoutes()
	return s
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoint
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	// API routes - more specific routes must come first
	s.router.HandleFunc("/api/graph/nodes/{key}", s.handleNode).Methods("GET")
	s.router.HandleFunc("/api/graph", s.handleGraph).Methods("GET")
	s.router.HandleFunc("/api/entry-exit/{key}", s.handleEntryExit).Methods("GET")
	s.router.HandleFunc("/api/split", s.handleSplit).Methods("POST")
	s.router.HandleFunc("/api/rebuild", s.handleRebuild).Methods("POST")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if topic != pubsub.TopicBuildStatus && topic != pubsub.TopicFlowGraph {
		http.Error(w, fmt.Sprintf("unknown topic %q", topic), http.StatusNotFound)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush(w)

	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		logging.ErrorContext(r.Context(), "subscription failed", "topic", topic, "error", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				logging.WarnContext(r.Context(), "error writing SSE event", "topic", topic, "error", err)
				return
			}
			flush(w)
		}
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleGraph serves the current graph, optionally through a lens:
// ?focus=LM1,LM2&depth=1&minWeight=0.5&hide=split,composite
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.current(w, r)
	if !ok {
		return
	}

	cfg, err := parseLens(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, r, http.StatusOK, lens.Render(snapshot.Graph, cfg))
}

func parseLens(r *http.Request) (lens.Config, error) {
	cfg := lens.DefaultConfig()
	q := r.URL.Query()

	for _, key := range splitParam(q.Get("focus")) {
		cfg.Focus = append(cfg.Focus, model.GroupKey(key))
	}
	for _, kind := range splitParam(q.Get("hide")) {
		cfg.HideKinds = append(cfg.HideKinds, model.KeyKind(kind))
	}
	if v := q.Get("depth"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid depth %q", v)
		}
		cfg.Depth = depth
	}
	if v := q.Get("minWeight"); v != "" {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil || w < 0 {
			return cfg, fmt.Errorf("invalid minWeight %q", v)
		}
		cfg.MinWeight = w
	}
	return cfg, nil
}

func splitParam(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.current(w, r)
	if !ok {
		return
	}
	g := snapshot.Graph
	key := model.GroupKey(mux.Vars(r)["key"])

	node, exists := g.Nodes[key]
	if !exists {
		http.Error(w, fmt.Sprintf("node %s not found", key), http.StatusNotFound)
		return
	}

	detail := NodeDetail{
		Node:        node,
		Occurrences: make([]*model.Occurrence, 0, len(node.OccurrenceIDs)),
		Incoming:    make(map[int][]model.LinkageRecord, len(node.OccurrenceIDs)),
		InEdges:     make([]model.FlowEdge, 0),
		OutEdges:    make([]model.FlowEdge, 0),
		EntryExit:   entryExit(g, key),
	}
	for _, id := range node.OccurrenceIDs {
		if occ, ok := g.NodeList[id]; ok {
			detail.Occurrences = append(detail.Occurrences, occ)
		}
		if records, ok := g.EdgeList[id]; ok {
			detail.Incoming[id] = records
		}
	}
	for _, e := range g.Edges {
		if e.Target == key {
			detail.InEdges = append(detail.InEdges, e)
		}
		if e.Source == key {
			detail.OutEdges = append(detail.OutEdges, e)
		}
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// handleEntryExit serves the entry/exit procedures of a bucket. Alternates
// created by cycle breaking share the tables of their base key.
func (s *Server) handleEntryExit(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.current(w, r)
	if !ok {
		return
	}
	g := snapshot.Graph
	key := model.GroupKey(mux.Vars(r)["key"])
	if node, exists := g.Nodes[key]; exists && node.BaseKey != "" {
		key = node.BaseKey
	}

	_, hasEntry := g.Entry[key]
	_, hasExit := g.Exit[key]
	if !hasEntry && !hasExit {
		if _, exists := g.Nodes[key]; !exists {
			http.Error(w, fmt.Sprintf("bucket %s not found", key), http.StatusNotFound)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, entryExit(g, key))
}

func entryExit(g *model.FlowGraph, key model.GroupKey) EntryExit {
	base := key
	if node, ok := g.Nodes[key]; ok && node.BaseKey != "" {
		base = node.BaseKey
	}
	ee := EntryExit{Key: base, Entry: g.Entry[base], Exit: g.Exit[base]}
	if ee.Entry == nil {
		ee.Entry = []int64{}
	}
	if ee.Exit == nil {
		ee.Exit = []int64{}
	}
	return ee
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req analysis.SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid split request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Keys) == 0 && len(req.Expand) == 0 {
		http.Error(w, "split request names no keys and no nodes", http.StatusBadRequest)
		return
	}

	snapshot, err := s.runner.Split(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snapshot.Graph)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.runner.Run(r.Context(), "requested over HTTP")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"buildId": snapshot.BuildID,
		"hash":    snapshot.Hash,
		"nodes":   len(snapshot.Graph.Nodes),
		"edges":   len(snapshot.Graph.Edges),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if snapshot, err := s.runner.Current(); err == nil {
		status["buildId"] = snapshot.BuildID
		status["builtAt"] = snapshot.BuiltAt
	} else {
		status["status"] = "waiting"
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) current(w http.ResponseWriter, r *http.Request) (*analysis.Snapshot, bool) {
	snapshot, err := s.runner.Current()
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return snapshot, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, analysis.ErrNoDataset):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send
		logging.DebugContext(r.Context(), "request cancelled", "path", r.URL.Path)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WarnContext(r.Context(), "failed to encode response", "path", r.URL.Path, "error", err)
	}
}

// Start serves on port until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams end when ctx does
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logging.Info("shutting down web server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web server shutdown: %w", err)
		}
		return nil
	}
}
