// Package collectors feeds stream and housekeeping activity into metrics.
package collectors

import (
	"sync"

	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/logging"
	"github.com/smazurov/hlsrelay/internal/metrics"
)

// EventCollector translates bus events into metric updates.
type EventCollector struct {
	bus      *events.Bus
	unsubs   []func()
	stopOnce sync.Once
}

// NewEventCollector creates a collector for bus.
func NewEventCollector(bus *events.Bus) *EventCollector {
	return &EventCollector{bus: bus}
}

// Start subscribes to the bus.
func (c *EventCollector) Start() {
	logging.GetLogger("metrics").Debug("Subscribing metrics to stream events")
	c.unsubs = append(c.unsubs,
		c.bus.Subscribe(func(e events.StreamStatusChangedEvent) {
			metrics.SetStreamStatus(e.StreamID, e.NewStatus)
		}),
		c.bus.Subscribe(func(e events.StreamHealthChangedEvent) {
			metrics.SetStreamHealth(e.StreamID, e.NewHealth)
		}),
		c.bus.Subscribe(func(e events.StreamErrorEvent) {
			metrics.IncStreamError(e.StreamID, e.Category)
		}),
		c.bus.Subscribe(func(e events.ReconnectScheduledEvent) {
			if e.Exhausted {
				metrics.IncStreamReconnectExhausted(e.StreamID)
				return
			}
			metrics.IncStreamReconnect(e.StreamID)
		}),
		c.bus.Subscribe(func(e events.StreamDeletedEvent) {
			metrics.DeleteStreamMetrics(e.StreamID)
		}),
		c.bus.Subscribe(func(e events.HousekeepingCompletedEvent) {
			metrics.RecordHousekeeping(e.TrimmedSegments, e.RemovedDirs, e.RemovedPreviews, e.FreedBytes)
		}),
	)
}

// Stop unsubscribes from the bus.
func (c *EventCollector) Stop() {
	c.stopOnce.Do(func() {
		for _, unsub := range c.unsubs {
			unsub()
		}
	})
}
