package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectHandler appends received events under a lock and signals arrival.
type collectHandler struct {
	mu     sync.Mutex
	events []Event
	ch     chan struct{}
}

func newCollectHandler() *collectHandler {
	return &collectHandler{ch: make(chan struct{}, 128)}
}

func (h *collectHandler) handle(e Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
	h.ch <- struct{}{}
}

func (h *collectHandler) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-h.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func (h *collectHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func TestBusDeliversToMatchingSubscriber(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	h := newCollectHandler()
	bus.Subscribe("test", h.handle)

	e := New(SourceSystemMetrics, TypeCPUHigh, "t1")
	e.Severity = SeverityUrgent
	bus.Publish(e)

	got := h.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, TypeCPUHigh, got[0].Type)
}

func TestBusSeverityFilter(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	notable := newCollectHandler()
	all := newCollectHandler()
	bus.Subscribe("notable-only", notable.handle, WithMinSeverity(SeverityNotable))
	bus.Subscribe("all", all.handle)

	normal := New(SourceSystemMetrics, TypeMetricCollected, "t1")
	urgent := New(SourceSystemMetrics, TypeCPUHigh, "t1")
	urgent.Severity = SeverityUrgent

	bus.Publish(normal)
	bus.Publish(urgent)

	gotAll := all.wait(t, 2)
	assert.Len(t, gotAll, 2)

	gotNotable := notable.wait(t, 1)
	require.Len(t, gotNotable, 1)
	assert.Equal(t, SeverityUrgent, gotNotable[0].Severity)
}

func TestBusSourceFilter(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	h := newCollectHandler()
	bus.Subscribe("security-only", h.handle, WithSources(SourceSecurityScanner))

	bus.Publish(New(SourceSystemMetrics, TypeMetricCollected, "t1"))
	sec := New(SourceSecurityScanner, TypeNewOpenPort, "t1")
	bus.Publish(sec)

	got := h.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, SourceSecurityScanner, got[0].Source)
}

func TestBusPerSubscriberFIFO(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	h := newCollectHandler()
	bus.Subscribe("fifo", h.handle)

	const n = 50
	for i := 0; i < n; i++ {
		e := New(SourceScheduler, TypeMetricCollected, "t1")
		e.Data = map[string]any{"seq": i}
		bus.Publish(e)
	}

	got := h.wait(t, n)
	require.Len(t, got, n)
	for i, e := range got {
		assert.Equal(t, i, e.Data["seq"])
	}
}

func TestBusPanickingHandlerIsolated(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	healthy := newCollectHandler()
	bus.Subscribe("panicky", func(Event) { panic("boom") })
	bus.Subscribe("healthy", healthy.handle)

	bus.Publish(New(SourceScheduler, TypeMetricCollected, "t1"))
	bus.Publish(New(SourceScheduler, TypeMetricCollected, "t1"))

	got := healthy.wait(t, 2)
	assert.Len(t, got, 2)
}

func TestBusRecentRing(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	for i := 0; i < 6; i++ {
		e := New(SourceScheduler, TypeMetricCollected, "t1")
		e.Data = map[string]any{"seq": i}
		bus.Publish(e)
	}

	recent := bus.Recent(0, "", "")
	require.Len(t, recent, 4)
	// Oldest events were evicted first.
	assert.Equal(t, 2, recent[0].Data["seq"])
	assert.Equal(t, 5, recent[3].Data["seq"])

	limited := bus.Recent(2, "", "")
	require.Len(t, limited, 2)
	assert.Equal(t, 4, limited[0].Data["seq"])
}

func TestBusRecentFilters(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	urgent := New(SourceSystemMetrics, TypeCPUHigh, "t1")
	urgent.Severity = SeverityUrgent
	bus.Publish(urgent)
	bus.Publish(New(SourceLogWatcher, TypeMetricCollected, "t1"))

	got := bus.Recent(0, SeverityUrgent, "")
	require.Len(t, got, 1)
	assert.Equal(t, TypeCPUHigh, got[0].Type)

	got = bus.Recent(0, "", SourceLogWatcher)
	require.Len(t, got, 1)
	assert.Equal(t, SourceLogWatcher, got[0].Source)
}

func TestBusPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe("stuck", func(Event) { <-block }, WithBuffer(1))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(New(SourceScheduler, TypeMetricCollected, "t1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(block)
}

func TestBusCloseDrains(t *testing.T) {
	bus := NewBus(0)

	h := newCollectHandler()
	bus.Subscribe("drain", h.handle)

	for i := 0; i < 10; i++ {
		bus.Publish(New(SourceScheduler, TypeMetricCollected, "t1"))
	}
	bus.Close()

	assert.Len(t, h.snapshot(), 10)

	// Publish after close is a no-op, not a panic.
	bus.Publish(New(SourceScheduler, TypeMetricCollected, "t1"))
}
