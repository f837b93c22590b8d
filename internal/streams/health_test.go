package streams

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/hlsrelay/internal/hls"
	"github.com/smazurov/hlsrelay/internal/process"
)

func (h *harness) run(id string) uint64 {
	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	return h.sup.entries[id].run
}

func TestClassifyHealth(t *testing.T) {
	now := time.Now()
	errAt := func(ago time.Duration) ErrorEntry {
		return ErrorEntry{Timestamp: now.Add(-ago), Type: CategoryNetwork}
	}

	tests := []struct {
		name   string
		seg    *SegmentCheck
		recent []ErrorEntry
		want   Health
	}{
		{"no data", nil, nil, HealthGood},
		{"one recent error", nil, []ErrorEntry{errAt(time.Minute)}, HealthDegraded},
		{"two recent errors", nil, []ErrorEntry{errAt(2 * time.Minute), errAt(time.Minute)}, HealthDegraded},
		{"three recent errors", nil, []ErrorEntry{errAt(3 * time.Minute), errAt(2 * time.Minute), errAt(time.Minute)}, HealthPoor},
		{"errors outside window", nil, []ErrorEntry{errAt(10 * time.Minute), errAt(6 * time.Minute)}, HealthGood},
		{
			"healthy check newer than errors",
			&SegmentCheck{At: now, Healthy: true},
			[]ErrorEntry{errAt(3 * time.Minute), errAt(2 * time.Minute), errAt(time.Minute)},
			HealthGood,
		},
		{
			"unhealthy check overrides clean window",
			&SegmentCheck{At: now, Status: CheckNoPlaylist},
			nil,
			HealthPoor,
		},
		{
			"error newer than healthy check",
			&SegmentCheck{At: now.Add(-2 * time.Minute), Healthy: true},
			[]ErrorEntry{errAt(time.Minute)},
			HealthDegraded,
		},
		{
			"check at same instant as its own error",
			&SegmentCheck{At: now, Status: CheckStale},
			[]ErrorEntry{{Timestamp: now, Type: CategorySegment}},
			HealthPoor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyHealth(tt.seg, tt.recent, now); got != tt.want {
				t.Errorf("ClassifyHealth = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEvaluateSegments(t *testing.T) {
	now := time.Now()
	stale := 12 * time.Second
	latest := &hls.Segment{Name: "segment_00003.ts"}

	tests := []struct {
		name   string
		report *hls.Report
		err    error
		want   string
	}{
		{"missing playlist", nil, hls.ErrNoPlaylist, CheckNoPlaylist},
		{"unreadable playlist", nil, errors.New("decode playlist: bad"), CheckNoSegments},
		{"empty playlist", &hls.Report{}, nil, CheckNoSegments},
		{"listed but no files", &hls.Report{PlaylistSegments: 3}, nil, CheckNoSegments},
		{"stale", &hls.Report{PlaylistSegments: 3, Latest: latest, LatestAge: 13 * time.Second}, nil, CheckStale},
		{"fresh", &hls.Report{PlaylistSegments: 3, Latest: latest, LatestAge: 2 * time.Second}, nil, CheckHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, _ := evaluateSegments(tt.report, tt.err, stale, now)
			if check.Status != tt.want {
				t.Errorf("status = %q, want %q", check.Status, tt.want)
			}
			if check.Healthy != (tt.want == CheckHealthy) {
				t.Errorf("healthy = %v", check.Healthy)
			}
		})
	}
}

func TestSegmentCheckMissingPlaylistIsPoor(t *testing.T) {
	h := newHarness(t, testConfig(t))
	id := h.create(t, "http://src/video.m3u8")
	if err := h.sup.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	// Whatever the prior health, a missing playlist is poor.
	h.sup.mu.Lock()
	e := h.sup.entries[id]
	e.rec.Health = HealthGood
	h.sup.mu.Unlock()

	h.sup.checkSegments(id, h.run(id))

	rec := h.get(t, id)
	if rec.Health != HealthPoor {
		t.Errorf("health = %s, want poor", rec.Health)
	}
	if rec.Diagnostics.HealthCheckStatus != CheckNoPlaylist {
		t.Errorf("healthCheckStatus = %q", rec.Diagnostics.HealthCheckStatus)
	}
	if rec.Diagnostics.SegmentGaps != 1 || rec.Errors.ByType[CategorySegment] != 1 {
		t.Errorf("segment error not recorded: %+v", rec.Diagnostics)
	}
	if rec.Status != StatusRunning {
		t.Errorf("status = %s, segment checks must not change status", rec.Status)
	}
}

func TestEndToEndHealthy(t *testing.T) {
	cfg := testConfig(t)
	cfg.SegmentCheckInterval = 20 * time.Millisecond
	h := newHarness(t, cfg)
	h.launcher.onLaunch = func(spec process.Spec) {
		if err := writeHLSOutput(spec.Dir, 3); err != nil {
			t.Error(err)
		}
	}

	id := h.create(t, "http://src/video.m3u8")
	if err := h.sup.Start(context.Background(), id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eventually(t, 2*time.Second, func() bool {
		rec := h.get(t, id)
		return rec.Diagnostics.HealthCheckStatus == CheckHealthy && rec.Health == HealthGood
	}, "stream never reported Healthy")

	rec := h.get(t, id)
	if rec.Diagnostics.LatestSegment == "" || rec.Diagnostics.LastHealthCheck == nil {
		t.Errorf("segment diagnostics missing: %+v", rec.Diagnostics)
	}

	if err := h.sup.Stop(context.Background(), id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec = h.get(t, id)
	if rec.Status != StatusStopped || rec.Health != HealthUnknown {
		t.Errorf("after stop: status=%s health=%s", rec.Status, rec.Health)
	}

	segments, err := hls.ListSegmentFiles(rec.HLSPath)
	if err != nil || len(segments) != 3 {
		t.Errorf("segment directory touched by stop: %d segments, err %v", len(segments), err)
	}
	if _, err := os.Stat(filepath.Join(rec.HLSPath, hls.PlaylistName)); err != nil {
		t.Errorf("playlist removed by stop: %v", err)
	}
}

func TestUnhealthyOutputForcesReconnect(t *testing.T) {
	cfg := testConfig(t)
	cfg.StaleRestartThreshold = 2
	h := newHarness(t, cfg)
	id := h.create(t, "http://src/video.m3u8")
	if err := h.sup.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	first := h.launcher.last()

	h.sup.checkSegments(id, h.run(id))
	if !first.alive() {
		t.Fatal("transcoder stopped after a single unhealthy check")
	}
	h.sup.checkSegments(id, h.run(id))

	eventually(t, 2*time.Second, func() bool {
		return h.launcher.launches() == 2 && h.get(t, id).Status == StatusRunning
	}, "stream was not relaunched")

	rec := h.get(t, id)
	if rec.Stats.Restarts != 1 || rec.Stats.LastRestart == nil {
		t.Errorf("stats = %+v, want one automatic restart", rec.Stats)
	}
	if rec.Diagnostics.ReconnectAttempt != 1 {
		t.Errorf("reconnectAttempt = %d, want 1", rec.Diagnostics.ReconnectAttempt)
	}

	// A healthy check after recovery clears the attempt counter.
	if err := writeHLSOutput(rec.HLSPath, 3); err != nil {
		t.Fatal(err)
	}
	h.sup.checkSegments(id, h.run(id))

	rec = h.get(t, id)
	if rec.Diagnostics.ReconnectAttempt != 0 || rec.Health != HealthGood {
		t.Errorf("after healthy check: attempt=%d health=%s", rec.Diagnostics.ReconnectAttempt, rec.Health)
	}
	h.sup.mu.Lock()
	attempts := h.sup.entries[id].reconnect.attempts
	h.sup.mu.Unlock()
	if attempts != 0 {
		t.Errorf("reconnect attempts = %d, want 0", attempts)
	}
}

func TestOpportunisticSourceProbe(t *testing.T) {
	h := newHarness(t, testConfig(t))
	id := h.create(t, "http://src/video.m3u8")
	if err := h.sup.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	run := h.run(id)

	h.sup.onOutputError(id, run, CategoryNetwork, "[error] Connection reset by peer")
	if rec := h.get(t, id); rec.Health != HealthDegraded {
		t.Fatalf("health = %s, want degraded", rec.Health)
	}

	h.sup.monitorTick(id, run)
	eventually(t, time.Second, func() bool {
		rec := h.get(t, id)
		return rec.Diagnostics.LastSourceCheck != nil && !rec.Diagnostics.SourceCheckInProgress
	}, "source probe did not run")

	rec := h.get(t, id)
	if rec.Diagnostics.SourceAvailable == nil || !*rec.Diagnostics.SourceAvailable {
		t.Errorf("sourceAvailable = %v", rec.Diagnostics.SourceAvailable)
	}

	// The cooldown suppresses a second probe.
	h.sup.monitorTick(id, run)
	time.Sleep(20 * time.Millisecond)
	h.inspector.mu.Lock()
	tests := h.inspector.tests
	h.inspector.mu.Unlock()
	if tests != 1 {
		t.Errorf("source probed %d times, want 1", tests)
	}
}
