package streams

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/smazurov/hlsrelay/internal/events"
)

// reconnectState is the per-stream retry bookkeeping.
type reconnectState struct {
	attempts int
	timer    *time.Timer
	backoff  *backoff.ExponentialBackOff
}

// newBackOff returns min(base*1.5^n, limit) for successive calls, without
// jitter and without an elapsed-time limit.
func newBackOff(base, limit time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 1.5
	b.MaxInterval = limit
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (r *reconnectState) cancelTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *reconnectState) reset() {
	r.cancelTimer()
	r.attempts = 0
	r.backoff.Reset()
}

// scheduleReconnect arms the next retry or marks the stream failed when the
// budget is spent. Every scheduled retry consumes one attempt, including
// retries that follow a failed source probe. Caller holds s.mu.
func (s *Supervisor) scheduleReconnect(e *entry) {
	now := time.Now()
	id := e.rec.ID
	d := &e.rec.Diagnostics
	d.MaxReconnectAttempts = s.cfg.MaxReconnectAttempts
	e.reconnect.cancelTimer()

	if e.reconnect.attempts >= s.cfg.MaxReconnectAttempts {
		d.NextReconnectTime = nil
		d.HealthCheckStatus = HealthCheckMaxReconnect
		s.setStatus(e, StatusError)
		s.setHealth(e, HealthFailed)
		s.persist(e)
		s.logger.Error("Reconnect attempts exhausted", "stream_id", id, "attempts", e.reconnect.attempts)
		s.publish(events.ReconnectScheduledEvent{
			StreamID:    id,
			Attempt:     e.reconnect.attempts,
			MaxAttempts: s.cfg.MaxReconnectAttempts,
			Exhausted:   true,
			Timestamp:   now.Format(time.RFC3339),
		})
		return
	}

	delay := e.reconnect.backoff.NextBackOff()
	e.reconnect.attempts++
	next := now.Add(delay)
	d.ReconnectAttempt = e.reconnect.attempts
	d.NextReconnectTime = &next

	run := e.run
	e.reconnect.timer = time.AfterFunc(delay, func() { s.attemptReconnect(id, run) })
	s.persist(e)

	s.logger.Info("Reconnect scheduled",
		"stream_id", id,
		"attempt", e.reconnect.attempts,
		"max_attempts", s.cfg.MaxReconnectAttempts,
		"delay", delay)
	s.publish(events.ReconnectScheduledEvent{
		StreamID:    id,
		Attempt:     e.reconnect.attempts,
		MaxAttempts: s.cfg.MaxReconnectAttempts,
		DelayMs:     delay.Milliseconds(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// attemptReconnect runs when a retry timer fires: probe the source, then
// start or reschedule.
func (s *Supervisor) attemptReconnect(id string, run uint64) {
	s.mu.Lock()
	e, ok := s.current(id, run)
	if !ok || e.rec.Status != StatusError {
		s.mu.Unlock()
		return
	}
	e.reconnect.timer = nil
	e.rec.Diagnostics.SourceCheckInProgress = true
	url := e.rec.OriginalURL
	s.mu.Unlock()

	err := s.testSource(url)

	s.mu.Lock()
	e, ok = s.current(id, run)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.applySourceCheck(e, err)
	if err != nil {
		s.logger.Warn("Source unavailable, retrying later", "stream_id", id, "error", err)
		s.scheduleReconnect(e)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.start(s.ctx, id, startReconnect, run); err != nil {
		s.logger.Error("Reconnect start failed", "stream_id", id, "error", err)
	}
}
