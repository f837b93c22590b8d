package streams

import (
	"maps"
	"time"
)

// Status is the lifecycle state of a stream.
type Status string

// Stream lifecycle states.
const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Health is a quality signal derived from segment checks and recent errors.
type Health string

// Health values.
const (
	HealthUnknown  Health = "unknown"
	HealthGood     Health = "good"
	HealthDegraded Health = "degraded"
	HealthPoor     Health = "poor"
	HealthFailed   Health = "failed"
)

// ErrorCategory tags every recorded error.
type ErrorCategory string

// Error categories.
const (
	CategoryNetwork ErrorCategory = "network"
	CategorySource  ErrorCategory = "source"
	CategoryFFmpeg  ErrorCategory = "ffmpeg"
	CategorySystem  ErrorCategory = "system"
	CategorySegment ErrorCategory = "segment"
	CategoryUnknown ErrorCategory = "unknown"
)

// Unknown marks enrichment fields that could not be determined.
const Unknown = "UNKNOWN"

// HealthCheckMaxReconnect is the health check status of a stream whose
// reconnect budget is spent.
const HealthCheckMaxReconnect = "max_reconnect_exceeded"

// Stats are runtime counters.
type Stats struct {
	Uptime      int64      `json:"uptime" doc:"Seconds running since the last launch"`
	Restarts    int        `json:"restarts" doc:"Automatic restarts since the last explicit restart"`
	LastError   string     `json:"lastError,omitempty"`
	LastRestart *time.Time `json:"lastRestart,omitempty"`
}

// Diagnostics holds error counters, health check and reconnect state.
type Diagnostics struct {
	LastErrorType         ErrorCategory `json:"lastErrorType,omitempty"`
	ErrorCount            int           `json:"errorCount"`
	NetworkErrors         int           `json:"networkErrors"`
	SourceErrors          int           `json:"sourceErrors"`
	FFmpegErrors          int           `json:"ffmpegErrors"`
	SystemErrors          int           `json:"systemErrors"`
	SegmentGaps           int           `json:"segmentGaps"`
	LastHealthCheck       *time.Time    `json:"lastHealthCheck,omitempty"`
	HealthCheckStatus     string        `json:"healthCheckStatus,omitempty"`
	LatestSegment         string        `json:"latestSegment,omitempty"`
	LatestSegmentAge      float64       `json:"latestSegmentAge" doc:"Seconds since the newest segment was written"`
	ReconnectAttempt      int           `json:"reconnectAttempt"`
	MaxReconnectAttempts  int           `json:"maxReconnectAttempts"`
	NextReconnectTime     *time.Time    `json:"nextReconnectTime,omitempty"`
	SourceAvailable       *bool         `json:"sourceAvailable,omitempty"`
	SourceCheckInProgress bool          `json:"sourceCheckInProgress"`
	SourceCheckResult     string        `json:"sourceCheckResult,omitempty"`
	SourceCheckError      string        `json:"sourceCheckError,omitempty"`
	LastSourceCheck       *time.Time    `json:"lastSourceCheck,omitempty"`
}

// ErrorEntry is one recorded error.
type ErrorEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      ErrorCategory `json:"type"`
	Message   string        `json:"message"`
}

// ErrorHistory aggregates recorded errors.
type ErrorHistory struct {
	Total  int                   `json:"total"`
	ByType map[ErrorCategory]int `json:"byType"`
	Recent []ErrorEntry          `json:"recent" doc:"Up to 10 most recent errors, oldest first"`
}

// StreamInfo is best-effort enrichment of the produced output.
type StreamInfo struct {
	Resolution    string  `json:"resolution" example:"720p"`
	RawResolution string  `json:"rawResolution" example:"1280x720"`
	VideoCodec    string  `json:"videoCodec" example:"h264"`
	AudioCodec    string  `json:"audioCodec" example:"aac"`
	Bitrate       int64   `json:"bitrate" doc:"Bits per second"`
	AudioBitrate  int64   `json:"audioBitrate" doc:"Bits per second"`
	FPS           float64 `json:"fps"`
}

// StreamRecord is the persisted state of one stream.
type StreamRecord struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	URL                string       `json:"url" doc:"Effective source URL, rewritten to the selected variant"`
	OriginalURL        string       `json:"originalUrl" doc:"Source URL as configured"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
	Status             Status       `json:"status" enum:"stopped,starting,running,error"`
	Health             Health       `json:"health" enum:"unknown,good,degraded,poor,failed"`
	Stats              Stats        `json:"stats"`
	Diagnostics        Diagnostics  `json:"diagnostics"`
	Errors             ErrorHistory `json:"errors"`
	StreamInfo         StreamInfo   `json:"streamInfo"`
	HLSPath            string       `json:"hlsPath"`
	SelectedResolution string       `json:"selectedResolution,omitempty"`
}

// Document is the persisted form of the whole configuration; it doubles as
// the backup format.
type Document struct {
	Streams     map[string]StreamRecord `json:"streams"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

// Clone returns a deep copy.
func (r *StreamRecord) Clone() StreamRecord {
	c := *r
	c.Stats.LastRestart = cloneTime(r.Stats.LastRestart)
	c.Diagnostics.LastHealthCheck = cloneTime(r.Diagnostics.LastHealthCheck)
	c.Diagnostics.NextReconnectTime = cloneTime(r.Diagnostics.NextReconnectTime)
	c.Diagnostics.LastSourceCheck = cloneTime(r.Diagnostics.LastSourceCheck)
	if r.Diagnostics.SourceAvailable != nil {
		v := *r.Diagnostics.SourceAvailable
		c.Diagnostics.SourceAvailable = &v
	}
	c.Errors.ByType = maps.Clone(r.Errors.ByType)
	if r.Errors.Recent != nil {
		c.Errors.Recent = append([]ErrorEntry(nil), r.Errors.Recent...)
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
