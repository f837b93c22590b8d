package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter republishes per-stream metrics on the event bus so the SSE
// endpoint can stream them.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 2 * time.Second,
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	for streamID, m := range metrics.GetAllStreamMetrics() {
		s.eventBus.Publish(events.StreamMetricsEvent{
			StreamID:   streamID,
			Status:     m.Status,
			Health:     m.Health,
			Uptime:     (time.Duration(m.Uptime) * time.Second).String(),
			Restarts:   strconv.FormatFloat(m.Restarts, 'f', 0, 64),
			Errors:     strconv.FormatFloat(m.Errors, 'f', 0, 64),
			Reconnects: strconv.FormatFloat(m.Reconnects, 'f', 0, 64),
		})
	}
}

// GetEventTypes returns the event types this exporter contributes to the SSE
// endpoint.
func GetEventTypes() map[string]any {
	return map[string]any{
		"stream-metrics": events.StreamMetricsEvent{},
	}
}
