package streams

import (
	"context"
	"testing"
)

func TestDiagnosticsSnapshot(t *testing.T) {
	h := newHarness(t, testConfig(t))
	id := h.create(t, "http://src/video.m3u8")

	snap, err := h.sup.Diagnostics(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ProcessRunning || snap.SegmentFiles != 0 {
		t.Errorf("stopped snapshot = %+v", snap)
	}

	if err := h.sup.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if err := writeHLSOutput(h.get(t, id).HLSPath, 3); err != nil {
		t.Fatal(err)
	}

	snap, err = h.sup.Diagnostics(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.ProcessRunning || snap.PID != h.launcher.last().PID() || snap.SegmentFiles != 3 {
		t.Errorf("running snapshot = %+v", snap)
	}
	if snap.Stream.StreamInfo.VideoCodec != "" {
		t.Errorf("enrichment should be absent before analysis: %+v", snap.Stream.StreamInfo)
	}

	if _, err := h.sup.Diagnostics(context.Background(), "missing"); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
