package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ritzau/cctflow/pkg/logging"
)

// ErrClosed is returned after the publisher has been shut down
var ErrClosed = errors.New("publisher is closed")

// subscriberBuffer is the per-subscription channel capacity; a subscriber
// that falls further behind loses events
const subscriberBuffer = 100

// TopicConfig configures buffering behavior for a topic
type TopicConfig struct {
	BufferSize int  // Number of events to buffer (0 = no buffering)
	ReplayAll  bool // If true, replay all buffered events; if false, only replay last event
}

// topic is the state of one topic, guarded by the publisher lock
type topic struct {
	config  TopicConfig
	version int
	buffer  []Event
	subs    map[*sseSubscription]struct{}
}

func (t *topic) replay() []Event {
	if len(t.buffer) == 0 || t.config.ReplayAll {
		return t.buffer
	}
	return t.buffer[len(t.buffer)-1:]
}

// SSEPublisher implements Publisher for Server-Sent Events clients
type SSEPublisher struct {
	mu     sync.RWMutex
	topics map[string]*topic
	closed bool
}

// NewSSEPublisher creates a new SSE-based publisher
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{topics: make(map[string]*topic)}
}

// topicLocked returns the state for name, creating it on first use.
// The caller must hold the write lock.
func (p *SSEPublisher) topicLocked(name string) *topic {
	t, ok := p.topics[name]
	if !ok {
		t = &topic{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// ConfigureTopic sets buffering configuration for a topic
func (p *SSEPublisher) ConfigureTopic(name string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.topicLocked(name)
	t.config = config
	if config.BufferSize >= 0 && len(t.buffer) > config.BufferSize {
		t.buffer = t.buffer[len(t.buffer)-config.BufferSize:]
	}
}

// Subscribe creates a subscription. Buffered events are replayed before any
// live event, and the subscription closes when ctx is done.
func (p *SSEPublisher) Subscribe(ctx context.Context, name string) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	sub := &sseSubscription{
		topic:     name,
		events:    make(chan Event, subscriberBuffer),
		publisher: p,
	}
	t := p.topicLocked(name)
	t.subs[sub] = struct{}{}

	// Replay while holding the lock so no live event can overtake it
	replayed := 0
	for _, event := range t.replay() {
		select {
		case sub.events <- event:
			replayed++
		default:
		}
	}
	p.mu.Unlock()

	if replayed > 0 {
		logging.Debug("replayed events to new subscriber", "topic", name, "events", replayed)
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// Publish sends an event to all subscribers of a topic without blocking;
// subscribers whose buffer is full miss the event
func (p *SSEPublisher) Publish(name string, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	t := p.topicLocked(name)
	t.version++
	event := Event{
		Topic:   name,
		Type:    eventType,
		Data:    payload,
		Version: t.version,
	}

	if t.config.BufferSize > 0 {
		t.buffer = append(t.buffer, event)
		if len(t.buffer) > t.config.BufferSize {
			t.buffer = t.buffer[len(t.buffer)-t.config.BufferSize:]
		}
	}

	dropped := 0
	for sub := range t.subs {
		select {
		case sub.events <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		logging.Warn("subscriber channel full, dropping event", "topic", name, "type", eventType, "subscribers", dropped)
	}
	return nil
}

// Close shuts down the publisher and ends every subscription
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, t := range p.topics {
		for sub := range t.subs {
			close(sub.events)
		}
		t.subs = make(map[*sseSubscription]struct{})
	}
	return nil
}

// Subscribers returns the number of live subscriptions on a topic
func (p *SSEPublisher) Subscribers(name string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.topics[name]; ok {
		return len(t.subs)
	}
	return 0
}

// Latest returns the most recent buffered event of a topic
func (p *SSEPublisher) Latest(name string) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.topics[name]
	if !ok || len(t.buffer) == 0 {
		return Event{}, false
	}
	return t.buffer[len(t.buffer)-1], true
}

func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[sub.topic]; ok {
		delete(t.subs, sub)
	}
}

// sseSubscription implements Subscription
type sseSubscription struct {
	topic     string
	events    chan Event
	publisher *SSEPublisher
	once      sync.Once
}

func (s *sseSubscription) Topic() string {
	return s.topic
}

func (s *sseSubscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription; it is safe to call more than once
func (s *sseSubscription) Close() error {
	s.once.Do(func() { s.publisher.unsubscribe(s) })
	return nil
}

// WriteSSE writes an event as one SSE frame: "data: {json}\n\n"
func WriteSSE(w io.Writer, event Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", frame)
	return err
}
