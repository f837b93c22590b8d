// Package housekeeping reclaims disk space left behind by streams.
package housekeeping

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/hls"
	"github.com/smazurov/hlsrelay/internal/logging"
)

const (
	// DefaultInterval is the time between cleanup passes.
	DefaultInterval = time.Hour
	// DefaultRetention is how many segments survive in an idle stream's directory.
	DefaultRetention = 10

	previewExt = ".jpg"
)

// StreamLister reports the configured stream ids and whether each is running.
type StreamLister interface {
	IDs() map[string]bool
}

// StaticStreams is a fixed StreamLister.
type StaticStreams map[string]bool

// IDs implements StreamLister.
func (s StaticStreams) IDs() map[string]bool { return s }

// Options configures a Housekeeper.
type Options struct {
	HLSDir     string
	PreviewDir string
	Interval   time.Duration
	Retention  int
	Streams    StreamLister
	EventBus   *events.Bus
}

// Result summarizes one pass.
type Result struct {
	TrimmedSegments int
	RemovedDirs     int
	RemovedPreviews int
	FreedBytes      int64
}

// Housekeeper trims idle segment directories and removes orphaned output.
type Housekeeper struct {
	opts     Options
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex // serializes passes
}

// New creates a Housekeeper.
func New(opts Options) *Housekeeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Housekeeper{
		opts:   opts,
		logger: logging.GetLogger("housekeeping"),
		stopCh: make(chan struct{}),
	}
}

// Start runs a pass immediately and then on every interval until Stop is
// called or ctx ends.
func (h *Housekeeper) Start(ctx context.Context) {
	if _, err := h.Collect(ctx); err != nil {
		h.logger.Warn("Initial housekeeping failed", "error", err)
	}

	ticker := time.NewTicker(h.opts.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := h.Collect(ctx); err != nil {
					h.logger.Error("Housekeeping failed", "error", err)
				}
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the periodic passes.
func (h *Housekeeper) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Collect runs one pass. Individual removal failures are logged and skipped;
// only an unreadable segment root is returned as an error.
func (h *Housekeeper) Collect(ctx context.Context) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var res Result
	streams := h.opts.Streams.IDs()

	entries, err := os.ReadDir(h.opts.HLSDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return res, err
	}
	for _, de := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !de.IsDir() {
			continue
		}
		id := de.Name()
		dir := filepath.Join(h.opts.HLSDir, id)
		running, configured := streams[id]
		switch {
		case !configured:
			h.removeDir(id, dir, &res)
		case !running:
			h.trimDir(id, dir, &res)
		}
	}

	h.removePreviews(streams, &res)
	h.report(res)
	return res, nil
}

func (h *Housekeeper) removeDir(id, dir string, res *Result) {
	size := dirSize(dir)
	if err := os.RemoveAll(dir); err != nil {
		h.logger.Warn("Failed to remove orphaned segment directory", "stream_id", id, "path", dir, "error", err)
		return
	}
	res.RemovedDirs++
	res.FreedBytes += size
	h.logger.Info("Removed orphaned segment directory", "stream_id", id, "size", humanize.Bytes(uint64(size)))
}

func (h *Housekeeper) trimDir(id, dir string, res *Result) {
	removed, freed, err := hls.TrimSegments(dir, h.opts.Retention)
	if err != nil {
		h.logger.Warn("Segment trim incomplete", "stream_id", id, "error", err)
	}
	if removed == 0 {
		return
	}
	res.TrimmedSegments += removed
	res.FreedBytes += freed
	h.logger.Debug("Trimmed idle stream segments", "stream_id", id, "removed", removed, "freed", humanize.Bytes(uint64(freed)))
}

func (h *Housekeeper) removePreviews(streams map[string]bool, res *Result) {
	if h.opts.PreviewDir == "" {
		return
	}
	entries, err := os.ReadDir(h.opts.PreviewDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Warn("Cannot read preview directory", "path", h.opts.PreviewDir, "error", err)
		}
		return
	}
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, previewExt) {
			continue
		}
		if _, ok := streams[strings.TrimSuffix(name, previewExt)]; ok {
			continue
		}
		path := filepath.Join(h.opts.PreviewDir, name)
		var size int64
		if info, err := de.Info(); err == nil {
			size = info.Size()
		}
		if err := os.Remove(path); err != nil {
			h.logger.Warn("Failed to remove orphaned preview", "path", path, "error", err)
			continue
		}
		res.RemovedPreviews++
		res.FreedBytes += size
	}
}

func (h *Housekeeper) report(res Result) {
	if res.TrimmedSegments+res.RemovedDirs+res.RemovedPreviews == 0 {
		h.logger.Debug("Nothing to clean up")
	} else {
		h.logger.Info("Housekeeping completed",
			"trimmed_segments", res.TrimmedSegments,
			"removed_dirs", res.RemovedDirs,
			"removed_previews", res.RemovedPreviews,
			"freed", humanize.Bytes(uint64(res.FreedBytes)))
	}

	if h.opts.EventBus != nil {
		h.opts.EventBus.Publish(events.HousekeepingCompletedEvent{
			TrimmedSegments: res.TrimmedSegments,
			RemovedDirs:     res.RemovedDirs,
			RemovedPreviews: res.RemovedPreviews,
			FreedBytes:      res.FreedBytes,
			Timestamp:       time.Now().Format(time.RFC3339),
		})
	}
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
