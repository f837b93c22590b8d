// Package logging provides structured slog logging with per-module levels.
//
// Every module gets its own logger tagged with module=<name>:
//
//	logger := logging.GetLogger("streams").With("stream_id", id)
//	logger.Info("Stream started", "pid", pid)
//
// Records are routed to stdout (text or json), the systemd journal when
// available, an optional rotating file, and an in-memory ring buffer that backs
// the /api/logs endpoint.
//
// Levels can be set globally or per module and changed at runtime:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.file]
//	path = "/var/log/hlsrelay/hlsrelay.log"
//	max_size_mb = 50
//
//	[logging.modules]
//	streams = "debug"
//	ffmpeg = "warn"
//
// Journal output can be filtered by stream:
//
//	journalctl -t hlsrelay STREAM_ID=<id>
package logging
