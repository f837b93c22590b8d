package streams

import (
	"context"
	"time"

	"github.com/smazurov/hlsrelay/internal/hls"
)

// DiagnosticsSnapshot is a point-in-time view of one stream.
type DiagnosticsSnapshot struct {
	Stream           StreamRecord `json:"stream"`
	ProcessRunning   bool         `json:"processRunning"`
	PID              int          `json:"pid,omitempty"`
	ReconnectPending bool         `json:"reconnectPending"`
	SegmentFiles     int          `json:"segmentFiles"`
	GeneratedAt      time.Time    `json:"generatedAt"`
}

// Diagnostics assembles a snapshot. It fails only for unknown ids; missing
// enrichment is reported as-is.
func (s *Supervisor) Diagnostics(_ context.Context, id string) (*DiagnosticsSnapshot, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, errNotFound(id)
	}
	snap := &DiagnosticsSnapshot{
		Stream:           e.rec.Clone(),
		ProcessRunning:   e.handle != nil,
		ReconnectPending: e.reconnect.timer != nil,
		GeneratedAt:      time.Now(),
	}
	if e.handle != nil {
		snap.PID = e.handle.PID()
	}
	s.mu.Unlock()

	if segments, err := hls.ListSegmentFiles(snap.Stream.HLSPath); err == nil {
		snap.SegmentFiles = len(segments)
	}
	return snap, nil
}
