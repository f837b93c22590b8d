package collectors

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazurov/hlsrelay/internal/logging"
	"github.com/smazurov/hlsrelay/internal/metrics"
	"github.com/smazurov/hlsrelay/internal/streams"
)

// StreamLister lists stream records.
type StreamLister interface {
	List(ctx context.Context) []streams.StreamRecord
}

// StreamCollector samples runtime gauges from the supervisor.
type StreamCollector struct {
	logger   *slog.Logger
	lister   StreamLister
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewStreamCollector creates a collector sampling every interval (5s when
// zero).
func NewStreamCollector(lister StreamLister, interval time.Duration) *StreamCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StreamCollector{
		logger:   logging.GetLogger("metrics"),
		lister:   lister,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins sampling.
func (c *StreamCollector) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
}

// Stop stops sampling and waits for the loop to exit.
func (c *StreamCollector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *StreamCollector) run() {
	defer close(c.done)
	c.logger.Debug("Starting stream metrics collection", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *StreamCollector) collect() {
	for _, rec := range c.lister.List(c.ctx) {
		metrics.SetStreamStatus(rec.ID, string(rec.Status))
		metrics.SetStreamHealth(rec.ID, string(rec.Health))
		metrics.SetStreamRuntime(rec.ID, float64(rec.Stats.Uptime), float64(rec.Stats.Restarts))
	}
}
