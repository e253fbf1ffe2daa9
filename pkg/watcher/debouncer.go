package watcher

import (
	"context"
	"time"

	"github.com/ritzau/cctflow/pkg/logging"
)

// Debouncer batches rapid change events so a burst of writes (a profiler
// flushing a trace, an editor saving) triggers a single rebuild
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer. Events are released after
// quietPeriod without new input, or at the latest maxWait after the first one.
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet       <-chan time.Time
		deadline    <-chan time.Time
		accumulated = make(map[ChangeType][]string)
		eventCount  int
	)

	flush := func() {
		quiet, deadline = nil, nil
		if eventCount == 0 {
			return
		}
		logging.Debug("flushing accumulated changes", "count", eventCount)

		// Split config first: it changes the options the rebuild runs with
		for _, t := range []ChangeType{ChangeTypeSplitConfig, ChangeTypeTrace} {
			if paths := accumulated[t]; len(paths) > 0 {
				select {
				case d.output <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}:
				case <-ctx.Done():
				}
			}
		}
		accumulated = make(map[ChangeType][]string)
		eventCount = 0
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			for _, p := range event.Paths {
				accumulated[event.Type] = appendUnique(accumulated[event.Type], p)
			}
			eventCount++

			quiet = time.After(d.quietPeriod)
			if deadline == nil {
				deadline = time.After(d.maxWait)
			}

		case <-quiet:
			flush()

		case <-deadline:
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
