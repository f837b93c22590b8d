package events

// Event type identifiers for kelindar/event.
const (
	TypeStreamCreated uint32 = iota + 1
	TypeStreamUpdated
	TypeStreamDeleted
	TypeStreamStatusChanged
	TypeStreamHealthChanged
	TypeStreamError
	TypeReconnectScheduled
	TypeHousekeepingCompleted
	TypeStreamMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamCreatedEvent is published when a stream record is added.
type StreamCreatedEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Name      string `json:"name" doc:"Stream display name"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamCreatedEvent.
func (e StreamCreatedEvent) Type() uint32 { return TypeStreamCreated }

// StreamUpdatedEvent is published when a stream's name or URL changes.
type StreamUpdatedEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamUpdatedEvent.
func (e StreamUpdatedEvent) Type() uint32 { return TypeStreamUpdated }

// StreamDeletedEvent is published after a stream and its output are removed.
type StreamDeletedEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamDeletedEvent.
func (e StreamDeletedEvent) Type() uint32 { return TypeStreamDeleted }

// StreamStatusChangedEvent reports a lifecycle transition.
type StreamStatusChangedEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	OldStatus string `json:"old_status" example:"starting" doc:"Previous status"`
	NewStatus string `json:"new_status" example:"running" doc:"Current status"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStatusChangedEvent.
func (e StreamStatusChangedEvent) Type() uint32 { return TypeStreamStatusChanged }

// StreamHealthChangedEvent reports a health classification change.
type StreamHealthChangedEvent struct {
	StreamID          string `json:"stream_id" doc:"Stream identifier"`
	OldHealth         string `json:"old_health" example:"good" doc:"Previous health"`
	NewHealth         string `json:"new_health" example:"poor" doc:"Current health"`
	HealthCheckStatus string `json:"health_check_status,omitempty" example:"Stale segments" doc:"Latest segment check result"`
	Timestamp         string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamHealthChangedEvent.
func (e StreamHealthChangedEvent) Type() uint32 { return TypeStreamHealthChanged }

// StreamErrorEvent is published for every error recorded against a stream.
type StreamErrorEvent struct {
	StreamID  string `json:"stream_id" doc:"Stream identifier"`
	Category  string `json:"category" example:"network" doc:"Error category"`
	Message   string `json:"message" doc:"Error message"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamErrorEvent.
func (e StreamErrorEvent) Type() uint32 { return TypeStreamError }

// ReconnectScheduledEvent is published when a retry is armed, or with
// Exhausted set when the attempt budget ran out.
type ReconnectScheduledEvent struct {
	StreamID    string `json:"stream_id" doc:"Stream identifier"`
	Attempt     int    `json:"attempt" doc:"Attempt number (1-based)"`
	MaxAttempts int    `json:"max_attempts" doc:"Configured attempt ceiling"`
	DelayMs     int64  `json:"delay_ms" doc:"Backoff delay before the attempt"`
	Exhausted   bool   `json:"exhausted" doc:"True when no further attempts will be made"`
	Timestamp   string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for ReconnectScheduledEvent.
func (e ReconnectScheduledEvent) Type() uint32 { return TypeReconnectScheduled }

// HousekeepingCompletedEvent summarizes one cleanup pass.
type HousekeepingCompletedEvent struct {
	TrimmedSegments int    `json:"trimmed_segments" doc:"Old segment files removed"`
	RemovedDirs     int    `json:"removed_dirs" doc:"Orphaned segment directories removed"`
	RemovedPreviews int    `json:"removed_previews" doc:"Orphaned preview images removed"`
	FreedBytes      int64  `json:"freed_bytes" doc:"Bytes reclaimed"`
	Timestamp       string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for HousekeepingCompletedEvent.
func (e HousekeepingCompletedEvent) Type() uint32 { return TypeHousekeepingCompleted }

// StreamMetricsEvent carries periodic per-stream counters for live dashboards.
type StreamMetricsEvent struct {
	StreamID   string `json:"stream_id" doc:"Stream identifier"`
	Status     string `json:"status" doc:"Current status"`
	Health     string `json:"health" doc:"Current health"`
	Uptime     string `json:"uptime" example:"1h2m3s" doc:"Time since the transcoder started"`
	Restarts   string `json:"restarts" doc:"Automatic restarts since the last manual start"`
	Errors     string `json:"errors" doc:"Errors recorded since the stream was created"`
	Reconnects string `json:"reconnects" doc:"Reconnect attempts scheduled"`
}

// Type returns the event type identifier for StreamMetricsEvent.
func (e StreamMetricsEvent) Type() uint32 { return TypeStreamMetrics }
