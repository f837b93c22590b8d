package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{published: make(chan struct{}, 100)}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

func TestSSEExporterPublishesMetrics(t *testing.T) {
	streamID := "sse-test-stream"
	defer metrics.DeleteStreamMetrics(streamID)

	metrics.SetStreamStatus(streamID, "running")
	metrics.SetStreamRuntime(streamID, 90, 2)
	metrics.IncStreamError(streamID, "network")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 20 * time.Millisecond
	exporter.Start(context.Background())

	select {
	case <-mock.published:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for metrics publish")
	}
	exporter.Stop()

	var found bool
	for _, ev := range mock.getEvents() {
		sme, ok := ev.(events.StreamMetricsEvent)
		if !ok || sme.StreamID != streamID {
			continue
		}
		found = true
		if sme.Uptime != "1m30s" || sme.Restarts != "2" || sme.Errors != "1" || sme.Status != "running" {
			t.Errorf("event = %+v", sme)
		}
		break
	}
	if !found {
		t.Error("expected StreamMetricsEvent for test stream")
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	streamID := "sse-idempotent-test"
	metrics.SetStreamStatus(streamID, "running")
	defer metrics.DeleteStreamMetrics(streamID)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	// Stop before start should not panic.
	exporter.Stop()

	exporter.Start(t.Context())
	time.Sleep(30 * time.Millisecond)
	exporter.Stop()
	exporter.Stop()

	countAfterStop := len(mock.getEvents())
	time.Sleep(30 * time.Millisecond)
	if n := len(mock.getEvents()); n != countAfterStop {
		t.Errorf("events published after stop: got %d, want %d", n, countAfterStop)
	}
	if countAfterStop == 0 {
		t.Error("expected events while running")
	}
}

func TestGetEventTypes(t *testing.T) {
	if _, ok := GetEventTypes()["stream-metrics"]; !ok {
		t.Error("expected stream-metrics event type")
	}
}
