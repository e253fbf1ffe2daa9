package pubsub

import (
	"context"

	"github.com/goccy/go-json"
)

// Topics published by the build runner
const (
	TopicBuildStatus = "build_status" // Build lifecycle (BuildStatus payloads)
	TopicFlowGraph   = "flow_graph"   // Completed graphs and their diffs
)

// Build states carried in BuildStatus.State
const (
	StateQueued   = "queued"
	StateLoading  = "loading"
	StateBuilding = "building"
	StateReady    = "ready"
	StateError    = "error"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "build_status", "flow_graph")
	Type    string          `json:"type"`    // Event type (e.g., "loading", "graph_ready")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data any) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// BuildStatus reports where a graph build currently is
type BuildStatus struct {
	State   string `json:"state"`   // queued, loading, building, ready, error
	Message string `json:"message"` // Human-readable status message
	BuildID string `json:"buildId,omitempty"`
	Reason  string `json:"reason,omitempty"` // What triggered the build
	Cached  bool   `json:"cached,omitempty"` // Served from the result cache
}

// ConfigureDefaultTopics sets up replay for the runner topics so that late
// subscribers immediately see the latest status and graph
func ConfigureDefaultTopics(p *SSEPublisher) {
	p.ConfigureTopic(TopicBuildStatus, TopicConfig{BufferSize: 1})
	p.ConfigureTopic(TopicFlowGraph, TopicConfig{BufferSize: 1})
}
