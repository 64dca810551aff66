package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler receives events synchronously on the publisher's goroutine.
// Handlers must not call back into the component that published the event
// while holding their own locks.
type Handler func(ctx context.Context, e *Event)

// Sink persists events. A failing sink is logged and never blocks the run.
type Sink interface {
	StoreEvent(ctx context.Context, e *Event) error
}

// Bus fans events out to subscribers and sinks. A nil *Bus is valid and
// drops everything.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	sinks    []Sink
	logger   *zap.Logger
}

// NewBus creates an empty bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler for every event published after this call
func (b *Bus) Subscribe(h Handler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// AddSink registers a persistence sink
func (b *Bus) AddSink(s Sink) {
	if b == nil || s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers e to every handler, then to every sink, in registration order.
func (b *Bus) Publish(ctx context.Context, e *Event) {
	if b == nil || e == nil {
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, e)
	}
	for _, s := range sinks {
		if err := s.StoreEvent(ctx, e); err != nil {
			b.logger.Warn("failed to store event",
				zap.String("event_id", e.ID),
				zap.String("type", string(e.Type)),
				zap.Error(err))
		}
	}
}

// Recorder is a Handler that keeps every event it sees. It is mostly useful
// in tests and for the CLI's end-of-run summary.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// Handle implements Handler
func (r *Recorder) Handle(_ context.Context, e *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// OfType returns the recorded events with the given type
func (r *Recorder) OfType(t EventType) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
