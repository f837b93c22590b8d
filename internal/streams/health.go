package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/hlsrelay/internal/hls"
)

// ErrorWindow is the span of recent errors considered by ClassifyHealth.
const ErrorWindow = 5 * time.Minute

// Segment check results.
const (
	CheckNoPlaylist = "No playlist"
	CheckNoSegments = "No segments"
	CheckStale      = "Stale segments"
	CheckHealthy    = "Healthy"
)

// SegmentCheck is the outcome of one inspection of a stream's output.
type SegmentCheck struct {
	At      time.Time
	Healthy bool
	Status  string
}

// ClassifyHealth derives health from the latest segment check and the recent
// error window. A segment check at least as new as the newest error decides
// on its own; otherwise errors within ErrorWindow of now are counted.
func ClassifyHealth(seg *SegmentCheck, recent []ErrorEntry, now time.Time) Health {
	var newest time.Time
	if n := len(recent); n > 0 {
		newest = recent[n-1].Timestamp
	}

	if seg != nil && !seg.At.Before(newest) {
		if seg.Healthy {
			return HealthGood
		}
		return HealthPoor
	}

	switch n := errorsSince(recent, now.Add(-ErrorWindow)); {
	case n == 0:
		return HealthGood
	case n <= 2:
		return HealthDegraded
	default:
		return HealthPoor
	}
}

// evaluateSegments turns an inspection report into a check result and a
// detail message for the error history.
func evaluateSegments(report *hls.Report, err error, stale time.Duration, now time.Time) (SegmentCheck, string) {
	check := SegmentCheck{At: now}
	switch {
	case errors.Is(err, hls.ErrNoPlaylist):
		check.Status = CheckNoPlaylist
		return check, "playlist file missing"
	case err != nil:
		check.Status = CheckNoSegments
		return check, err.Error()
	case report.PlaylistSegments == 0 || report.Latest == nil:
		check.Status = CheckNoSegments
		return check, "playlist lists no segments"
	case report.LatestAge > stale:
		check.Status = CheckStale
		return check, fmt.Sprintf("newest segment %s is %s old", report.Latest.Name, report.LatestAge.Round(time.Second))
	}
	check.Status = CheckHealthy
	check.Healthy = true
	return check, ""
}

// reclassify recomputes health from the error window. Failed is kept until
// an explicit start.
func (s *Supervisor) reclassify(e *entry, now time.Time) {
	if e.rec.Health == HealthFailed || e.rec.Status == StatusStopped {
		return
	}
	s.setHealth(e, ClassifyHealth(e.lastSegmentCheck, e.rec.Errors.Recent, now))
}

func (s *Supervisor) checkSegments(id string, run uint64) {
	s.mu.Lock()
	e, ok := s.current(id, run)
	if !ok || e.rec.Status != StatusRunning {
		s.mu.Unlock()
		return
	}
	dir := e.rec.HLSPath
	s.mu.Unlock()

	now := time.Now()
	report, err := hls.Inspect(dir, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.current(id, run)
	if !ok || e.rec.Status != StatusRunning {
		return
	}
	s.applySegmentCheck(e, report, err, now)
}

func (s *Supervisor) applySegmentCheck(e *entry, report *hls.Report, err error, now time.Time) {
	check, detail := evaluateSegments(report, err, s.staleThreshold(), now)

	d := &e.rec.Diagnostics
	d.LastHealthCheck = &now
	d.HealthCheckStatus = check.Status
	if report != nil && report.Latest != nil {
		d.LatestSegment = report.Latest.Name
		d.LatestSegmentAge = report.LatestAge.Seconds()
	}
	e.lastSegmentCheck = &check

	if check.Healthy {
		e.unhealthyChecks = 0
		if e.reconnect.attempts > 0 {
			s.logger.Info("Stream recovered, reconnect counter reset",
				"stream_id", e.rec.ID, "attempts", e.reconnect.attempts)
			e.reconnect.reset()
			d.ReconnectAttempt = 0
			d.NextReconnectTime = nil
		}
	} else {
		s.recordError(e, CategorySegment, fmt.Sprintf("%s: %s", check.Status, detail), now)
		e.unhealthyChecks++
	}

	// The check itself is authoritative, including over a prior failed state.
	s.setHealth(e, ClassifyHealth(e.lastSegmentCheck, e.rec.Errors.Recent, now))

	if !check.Healthy && e.unhealthyChecks >= s.cfg.StaleRestartThreshold && e.handle != nil {
		s.logger.Warn("Output unhealthy, stopping transcoder for reconnect",
			"stream_id", e.rec.ID, "status", check.Status, "checks", e.unhealthyChecks)
		e.unhealthyChecks = 0
		e.handle.Stop(s.cfg.StopTimeout)
	}
	s.persist(e)
}

func (s *Supervisor) staleThreshold() time.Duration {
	return time.Duration(s.cfg.StaleSegmentFactor) * time.Duration(s.cfg.HLS.SegmentDuration) * time.Second
}

// testSource probes url with the configured timeout. Nil means available.
func (s *Supervisor) testSource(url string) error {
	if s.inspector == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SourceProbeTimeout)
	defer cancel()
	return s.inspector.TestSource(ctx, url)
}

// applySourceCheck records the outcome of a source probe. Caller holds s.mu.
func (s *Supervisor) applySourceCheck(e *entry, err error) {
	now := time.Now()
	available := err == nil
	d := &e.rec.Diagnostics
	d.SourceCheckInProgress = false
	d.SourceAvailable = &available
	d.LastSourceCheck = &now
	if available {
		d.SourceCheckResult = "available"
		d.SourceCheckError = ""
	} else {
		d.SourceCheckResult = "unavailable"
		d.SourceCheckError = err.Error()
	}
}

// maybeProbeSource starts an opportunistic availability probe for a running
// stream that is degraded by network errors. Caller holds s.mu.
func (s *Supervisor) maybeProbeSource(e *entry, run uint64) {
	d := &e.rec.Diagnostics
	if e.rec.Health != HealthDegraded || d.LastErrorType != CategoryNetwork || d.SourceCheckInProgress {
		return
	}
	if s.probeCooldown.Add(e.rec.ID, struct{}{}, s.cfg.SourceProbeCooldown) != nil {
		return
	}
	d.SourceCheckInProgress = true
	id, url := e.rec.ID, e.rec.OriginalURL

	go func() {
		err := s.testSource(url)
		s.mu.Lock()
		defer s.mu.Unlock()
		e, ok := s.current(id, run)
		if !ok {
			return
		}
		s.applySourceCheck(e, err)
		s.logger.Debug("Source probe finished", "stream_id", id, "available", err == nil)
	}()
}
