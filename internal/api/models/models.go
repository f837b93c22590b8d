package models

import (
	"github.com/smazurov/hlsrelay/internal/logging"
	"github.com/smazurov/hlsrelay/internal/streams"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Streams int    `json:"streams" example:"3" doc:"Configured streams"`
	Running int    `json:"running" example:"2" doc:"Streams currently running"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// StreamIDInput selects one stream by path.
type StreamIDInput struct {
	StreamID string `path:"stream_id" example:"0b7c7a2e-2f1e-4f6b-9f57-2f3c1d0e8a11" doc:"Stream identifier"`
}

// Stream models
type StreamListData struct {
	Streams []streams.StreamRecord `json:"streams" doc:"Configured streams ordered by creation time"`
	Count   int                    `json:"count" example:"2" doc:"Number of streams"`
}

type StreamListResponse struct {
	Body StreamListData
}

type StreamCreateData struct {
	Name string `json:"name" minLength:"1" maxLength:"200" example:"Lobby camera" doc:"Display name"`
	URL  string `json:"url" minLength:"1" example:"https://cdn.example.com/live/master.m3u8" doc:"Source URL (http, https, rtsp, rtmp, srt, udp, tcp, file)"`
}

type StreamCreateRequest struct {
	Body StreamCreateData
}

type StreamUpdateData struct {
	Name *string `json:"name,omitempty" minLength:"1" maxLength:"200" doc:"New display name"`
	URL  *string `json:"url,omitempty" minLength:"1" doc:"New source URL; a running stream is restarted"`
}

type StreamUpdateRequest struct {
	StreamID string `path:"stream_id" doc:"Stream identifier"`
	Body     StreamUpdateData
}

type StreamResponse struct {
	Body streams.StreamRecord
}

type DiagnosticsResponse struct {
	Body streams.DiagnosticsSnapshot
}

// Analysis models
type AnalyzeData struct {
	Analyzed   bool               `json:"analyzed" doc:"False when the stream is not running or has no output yet"`
	StreamInfo streams.StreamInfo `json:"streamInfo" doc:"Stream information after analysis"`
}

type AnalyzeResponse struct {
	Body AnalyzeData
}

// Preview models
type PreviewData struct {
	StreamID string `json:"stream_id" doc:"Stream identifier"`
	URL      string `json:"url" example:"/api/streams/abc/preview" doc:"Where the image can be fetched"`
}

type PreviewResponse struct {
	Body PreviewData
}

type PreviewImageResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// Backup models
type ExportResponse struct {
	ContentDisposition string `header:"Content-Disposition"`
	Body               streams.Document
}

type ImportRequest struct {
	Mode string `query:"mode" enum:"overwrite,append" default:"append" doc:"overwrite replaces every stream, append adds unknown ids only"`
	Body streams.Document
}

type ImportResponse struct {
	Body streams.ImportResult
}

// Log models
type LogsRequest struct {
	Limit int `query:"limit" minimum:"0" maximum:"1000" default:"100" doc:"Most recent entries to return (0 for all)"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Log entries, oldest first"`
	Count   int                `json:"count" doc:"Number of entries"`
}

type LogsResponse struct {
	Body LogsData
}
