package events

import (
	"log/slog"
	"sync"
)

const (
	// DefaultRingSize is the number of recent events retained for
	// diagnostics and startup replay queries.
	DefaultRingSize = 1024

	// defaultSubscriberBuffer is the per-subscriber channel depth. A full
	// buffer means the subscriber is falling behind; publish drops the
	// event for that subscriber rather than backing up the producer.
	defaultSubscriberBuffer = 256
)

// Handler receives events delivered to a subscriber, one at a time in
// publish order.
type Handler func(Event)

// SubscribeOption configures a subscription filter.
type SubscribeOption func(*subscriber)

// WithSources restricts delivery to events from the given sources.
func WithSources(sources ...Source) SubscribeOption {
	return func(s *subscriber) {
		s.sources = make(map[Source]bool, len(sources))
		for _, src := range sources {
			s.sources[src] = true
		}
	}
}

// WithMinSeverity restricts delivery to events at or above the given severity.
func WithMinSeverity(min Severity) SubscribeOption {
	return func(s *subscriber) { s.minSeverity = min }
}

// WithBuffer overrides the subscriber channel depth.
func WithBuffer(n int) SubscribeOption {
	return func(s *subscriber) {
		if n > 0 {
			s.buffer = n
		}
	}
}

type subscriber struct {
	name        string
	handler     Handler
	sources     map[Source]bool // nil = all sources
	minSeverity Severity        // zero value ranks below NORMAL = no filter
	buffer      int
	ch          chan Event
	done        chan struct{}
}

func (s *subscriber) wants(e Event) bool {
	if s.sources != nil && !s.sources[e.Source] {
		return false
	}
	if s.minSeverity != "" && !e.Severity.AtLeast(s.minSeverity) {
		return false
	}
	return true
}

// Bus is the in-process fan-out point between collectors and consumers.
//
// Each subscriber owns a buffered channel drained by a dedicated goroutine,
// so delivery is FIFO per subscriber and a slow handler never blocks the
// publisher or other subscribers. Handler panics are recovered and logged.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool

	ringMu sync.Mutex
	ring   []Event
	ringAt int
	ringN  int

	wg sync.WaitGroup
}

// NewBus creates a bus with the given recent-event ring size
// (0 selects DefaultRingSize).
func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Bus{ring: make([]Event, ringSize)}
}

// Subscribe registers a handler. The name is used only for logging.
func (b *Bus) Subscribe(name string, handler Handler, opts ...SubscribeOption) {
	sub := &subscriber{
		name:    name,
		handler: handler,
		buffer:  defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(sub)
	}
	sub.ch = make(chan Event, sub.buffer)
	sub.done = make(chan struct{})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		slog.Warn("Subscribe on closed event bus ignored", "subscriber", name)
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.drain(sub)
	}()
}

// Publish delivers the event to every matching subscriber and records it in
// the recent ring. Publish never blocks: a subscriber whose buffer is full
// loses this event (logged at warn).
func (b *Bus) Publish(e Event) {
	b.record(e)

	if e.Severity != SeverityNormal {
		slog.Info("Event published",
			"severity", e.Severity, "type", e.Type, "source", e.Source,
			"message", e.Message)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			slog.Warn("Event dropped for slow subscriber",
				"subscriber", sub.name, "type", e.Type, "severity", e.Severity)
		}
	}
}

// Recent returns up to limit of the most recent events (oldest first),
// optionally filtered by severity and source. Zero values disable a filter.
func (b *Bus) Recent(limit int, severity Severity, source Source) []Event {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	n := b.ringN
	out := make([]Event, 0, n)
	start := b.ringAt - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(b.ring)) % len(b.ring)
		e := b.ring[idx]
		if severity != "" && e.Severity != severity {
			continue
		}
		if source != "" && e.Source != source {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Close stops all subscriber goroutines after their buffers drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	b.wg.Wait()
}

func (b *Bus) drain(sub *subscriber) {
	defer close(sub.done)
	for e := range sub.ch {
		b.deliver(sub, e)
	}
}

func (b *Bus) deliver(sub *subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panic recovered",
				"subscriber", sub.name, "type", e.Type, "panic", r)
		}
	}()
	sub.handler(e)
}

func (b *Bus) record(e Event) {
	b.ringMu.Lock()
	b.ring[b.ringAt] = e
	b.ringAt = (b.ringAt + 1) % len(b.ring)
	if b.ringN < len(b.ring) {
		b.ringN++
	}
	b.ringMu.Unlock()
}
