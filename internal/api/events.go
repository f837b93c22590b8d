package api

import (
	"context"
	"maps"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	eventTypes := map[string]any{
		"stream-created":         events.StreamCreatedEvent{},
		"stream-updated":         events.StreamUpdatedEvent{},
		"stream-deleted":         events.StreamDeletedEvent{},
		"stream-status-changed":  events.StreamStatusChangedEvent{},
		"stream-health-changed":  events.StreamHealthChangedEvent{},
		"stream-error":           events.StreamErrorEvent{},
		"reconnect-scheduled":    events.ReconnectScheduledEvent{},
		"housekeeping-completed": events.HousekeepingCompletedEvent{},
	}
	maps.Copy(eventTypes, exporters.GetEventTypes())

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream lifecycle, health, error and metrics events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StreamCreatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamUpdatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamDeletedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamStatusChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamHealthChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ReconnectScheduledEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.HousekeepingCompletedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
