package streams

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smazurov/hlsrelay/internal/ffmpeg"
	"github.com/smazurov/hlsrelay/internal/process"
)

type startReason int

const (
	startManual startReason = iota
	startReconnect
)

// Start launches the stream's transcoder. It returns once the subprocess is
// running; starting an already running or starting stream is a no-op.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	return s.start(ctx, id, startManual, 0)
}

// start implements Start. For reconnects expectRun is the run token the
// retry was scheduled under; the start is dropped if it moved on.
func (s *Supervisor) start(ctx context.Context, id string, reason startReason, expectRun uint64) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return errNotFound(id)
	}
	if reason == startReconnect && e.run != expectRun {
		s.mu.Unlock()
		return nil
	}
	if e.rec.Status == StatusRunning || e.rec.Status == StatusStarting {
		s.mu.Unlock()
		return nil
	}

	if reason == startManual {
		e.reconnect.reset()
		d := &e.rec.Diagnostics
		d.ReconnectAttempt = 0
		d.NextReconnectTime = nil
		if d.HealthCheckStatus == HealthCheckMaxReconnect {
			d.HealthCheckStatus = ""
		}
		s.setHealth(e, HealthUnknown)
	} else {
		e.reconnect.cancelTimer()
	}
	e.run++
	run := e.run
	e.lastSegmentCheck = nil
	e.unhealthyChecks = 0
	s.setStatus(e, StatusStarting)
	s.persist(e)
	sourceURL, dir := e.rec.OriginalURL, e.rec.HLSPath
	prev := e.stopping
	e.stopping = nil
	s.mu.Unlock()

	// A transcoder stopped just before may still be flushing into dir.
	if prev != nil {
		if err := s.waitExit(ctx, id, prev); err != nil {
			return s.failStart(id, run, reason, err)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.failStart(id, run, reason, fmt.Errorf("create output directory: %w", err))
	}

	resolved, selected := sourceURL, ""
	if s.resolver != nil {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
		res, err := s.resolver.Resolve(rctx, sourceURL)
		cancel()
		switch {
		case err != nil:
			s.logger.Warn("Variant selection failed, using source url", "stream_id", id, "error", err)
		case res.Selected:
			resolved, selected = res.URL, res.Resolution
		}
	}

	s.mu.Lock()
	e, ok = s.current(id, run)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	e.rec.URL = resolved
	e.rec.SelectedResolution = selected
	spec := s.transcodeSpec(id, run, resolved, dir)
	s.mu.Unlock()

	handle, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		return s.failStart(id, run, reason, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.current(id, run)
	if !ok {
		// A stop or delete won the race; this launch is orphaned.
		handle.Stop(s.cfg.StopTimeout)
		return nil
	}

	now := time.Now()
	e.handle = handle
	e.rec.Stats.Uptime = 0
	if reason == startReconnect {
		e.rec.Stats.Restarts++
		e.rec.Stats.LastRestart = &now
	}
	s.setStatus(e, StatusRunning)
	s.persist(e)
	s.armTimers(e, id, run)
	go s.observeExit(id, run, handle)

	s.logger.Info("Stream started",
		"stream_id", id,
		"pid", handle.PID(),
		"url", resolved,
		"selected_resolution", selected,
		"reconnect", reason == startReconnect)
	return nil
}

func (s *Supervisor) failStart(id string, run uint64, reason startReason, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.current(id, run)
	if !ok {
		return nil
	}

	now := time.Now()
	s.logger.Error("Failed to start stream", "stream_id", id, "error", cause)
	s.recordError(e, CategorySystem, fmt.Sprintf("launch failed: %v", cause), now)
	s.setStatus(e, StatusError)
	s.reclassify(e, now)
	s.persist(e)
	if reason == startReconnect {
		s.scheduleReconnect(e)
	}
	return errInternal("failed to start transcoder", cause)
}

func (s *Supervisor) transcodeSpec(id string, run uint64, sourceURL, dir string) process.Spec {
	return process.Spec{
		ID:   id,
		Path: s.cfg.FFmpegPath,
		Args: ffmpeg.BuildHLSArgs(sourceURL, dir, s.cfg.HLS),
		Dir:  dir,
		Output: process.OutputHandlerFunc(func(_, line string) {
			if kind, ok := ffmpeg.ClassifyLine(line); ok {
				s.onOutputError(id, run, ErrorCategory(kind), line)
			}
		}),
		Parser:       outputLevel,
		OutputLogger: s.ffmpegLogger,
	}
}

// outputLevel keeps errors visible and demotes everything else to debug.
func outputLevel(line string) (string, string) {
	level, msg := ffmpeg.ParseLogLevel(line)
	switch level {
	case "panic", "fatal", "error":
		return "error", msg
	}
	return "debug", msg
}

func (s *Supervisor) onOutputError(id string, run uint64, category ErrorCategory, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.current(id, run)
	if !ok {
		return
	}
	now := time.Now()
	s.recordError(e, category, line, now)
	s.reclassify(e, now)
	s.persist(e)
}

// armTimers installs the per-run timer bundle. Caller holds s.mu.
func (s *Supervisor) armTimers(e *entry, id string, run uint64) {
	b := newTimerBundle()
	e.timers = b

	b.every(s.cfg.MonitorInterval, func() { s.monitorTick(id, run) })
	if s.capturer != nil {
		b.every(s.cfg.PreviewInterval, func() { s.capturePreview(s.ctx, id, run) })
	}
	b.every(s.cfg.SegmentCheckInterval, func() { s.checkSegments(id, run) })
	b.after(s.cfg.ResolutionDelay, func() { s.detectResolution(s.ctx, id, run) })
	b.after(s.cfg.AnalysisDelay, func() { s.analyze(s.ctx, id, run) })
}

func (s *Supervisor) monitorTick(id string, run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.current(id, run)
	if !ok || e.rec.Status != StatusRunning {
		return
	}
	e.rec.Stats.Uptime += int64(s.cfg.MonitorInterval / time.Second)
	s.maybeProbeSource(e, run)
}

// observeExit waits for the transcoder and routes unexpected exits into the
// reconnect policy.
func (s *Supervisor) observeExit(id string, run uint64, h process.Handle) {
	<-h.Done()
	status := h.ExitStatus()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.handle != h {
		return // stopped on purpose
	}
	s.detach(e)

	now := time.Now()
	category, message := classifyExit(status)
	s.logger.Warn("Transcoder exited unexpectedly", "stream_id", id, "status", status.String(), "category", category)
	s.recordError(e, category, message, now)
	s.setStatus(e, StatusError)
	s.reclassify(e, now)
	s.scheduleReconnect(e)
	s.persist(e)
}

func classifyExit(status process.ExitStatus) (ErrorCategory, string) {
	switch {
	case status.Signaled():
		return CategorySystem, "transcoder " + status.String()
	case status.Code == 0:
		return CategorySource, "source stream ended"
	default:
		return CategoryFFmpeg, "transcoder exited with " + status.String()
	}
}

// Stop terminates the transcoder gracefully. Stopping a stopped stream is a
// no-op. Segment output is left on disk.
func (s *Supervisor) Stop(_ context.Context, id string) error {
	_, err := s.stop(id)
	return err
}

func (s *Supervisor) stop(id string) (process.Handle, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, errNotFound(id)
	}
	if e.rec.Status == StatusStopped {
		s.mu.Unlock()
		return nil, nil
	}

	handle := s.detach(e)
	e.stopping = handle
	e.rec.Diagnostics.NextReconnectTime = nil
	e.lastSegmentCheck = nil
	s.setStatus(e, StatusStopped)
	s.setHealth(e, HealthUnknown)
	s.persist(e)
	s.mu.Unlock()

	if handle != nil {
		handle.Stop(s.cfg.StopTimeout)
	}
	s.logger.Info("Stream stopped", "stream_id", id)
	return handle, nil
}

// Restart stops the stream, waits for the transcoder to exit plus a short
// grace delay, and starts it again. The restart counter is reset.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	handle, err := s.stop(id)
	if err != nil {
		return err
	}

	if handle != nil {
		if err := s.waitExit(ctx, id, handle); err != nil {
			return err
		}
	}

	select {
	case <-time.After(s.cfg.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return errNotFound(id)
	}
	now := time.Now()
	e.rec.Stats.Restarts = 0
	e.rec.Stats.LastRestart = &now
	s.persist(e)
	s.mu.Unlock()

	return s.start(ctx, id, startManual, 0)
}

// waitExit blocks until h has exited. Stop escalates to a kill after
// StopTimeout, so the wait is bounded a little past that.
func (s *Supervisor) waitExit(ctx context.Context, id string, h process.Handle) error {
	select {
	case <-h.Done():
	case <-time.After(s.cfg.StopTimeout + time.Second):
		s.logger.Warn("Previous transcoder did not exit in time", "stream_id", id)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// CapturePreview grabs a still image of a running stream now and returns
// the image path.
func (s *Supervisor) CapturePreview(ctx context.Context, id string) (string, error) {
	if s.capturer == nil {
		return "", errInternal("preview capture is not configured", nil)
	}
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return "", errNotFound(id)
	}
	if e.rec.Status != StatusRunning {
		s.mu.Unlock()
		return "", errInvalid("stream %s is not running", id)
	}
	playlist := filepath.Join(e.rec.HLSPath, ffmpeg.PlaylistName)
	s.mu.Unlock()

	out := s.PreviewPath(id)
	if err := s.capturer.Capture(ctx, playlist, out); err != nil {
		return "", errInternal("preview capture failed", err)
	}
	return out, nil
}

func (s *Supervisor) capturePreview(ctx context.Context, id string, run uint64) {
	s.mu.Lock()
	e, ok := s.current(id, run)
	if !ok || e.rec.Status != StatusRunning {
		s.mu.Unlock()
		return
	}
	playlist := filepath.Join(e.rec.HLSPath, ffmpeg.PlaylistName)
	s.mu.Unlock()

	if _, err := os.Stat(playlist); err != nil {
		return
	}
	if err := s.capturer.Capture(ctx, playlist, s.PreviewPath(id)); err != nil {
		s.logger.Debug("Preview capture failed", "stream_id", id, "error", err)
	}
}
