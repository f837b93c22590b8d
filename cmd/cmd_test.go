package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/hlsrelay/internal/ffmpeg"
	"github.com/smazurov/hlsrelay/internal/streams"
	"github.com/smazurov/hlsrelay/internal/streams/store"
	"github.com/smazurov/hlsrelay/internal/variant"
)

type fakeResolver struct {
	result variant.Result
	err    error
}

func (f fakeResolver) Resolve(_ context.Context, rawURL string) (variant.Result, error) {
	if f.err != nil {
		return variant.Result{URL: rawURL}, f.err
	}
	return f.result, nil
}

type fakeProber struct {
	result *ffmpeg.ProbeResult
	err    error
	probed []string
}

func (f *fakeProber) ProbeFile(_ context.Context, path string) (*ffmpeg.ProbeResult, error) {
	f.probed = append(f.probed, path)
	return f.result, f.err
}

func sampleProbe() *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{
		Streams: []ffmpeg.ProbeStream{
			{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, AvgFrameRate: "30/1", BitRate: "4000000"},
			{CodecType: "audio", CodecName: "aac", BitRate: "128000"},
		},
		Format: ffmpeg.ProbeFormat{FormatName: "hls", BitRate: "4128000"},
	}
}

func TestRunProbeUsesSelectedVariant(t *testing.T) {
	prober := &fakeProber{result: sampleProbe()}
	resolver := fakeResolver{result: variant.Result{
		URL:        "http://cdn/hi.m3u8",
		Resolution: "1920x1080",
		Bandwidth:  4000000,
		Selected:   true,
	}}

	var out bytes.Buffer
	if err := runProbe(context.Background(), &out, "http://cdn/master.m3u8", resolver, prober); err != nil {
		t.Fatalf("runProbe() error = %v", err)
	}

	if len(prober.probed) != 1 || prober.probed[0] != "http://cdn/hi.m3u8" {
		t.Errorf("probed %v, want the selected variant", prober.probed)
	}

	var report ProbeReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if !report.VariantSelected || report.Bandwidth != 4000000 {
		t.Errorf("variant fields = %+v", report)
	}
	if report.Info == nil || report.Info.Resolution != "1080p" || report.Info.VideoCodec != "h264" {
		t.Errorf("Info = %+v", report.Info)
	}
	if report.Info.FPS != 30 {
		t.Errorf("FPS = %v, want 30", report.Info.FPS)
	}
	if report.Bitrate != "4.128 Mbps" {
		t.Errorf("Bitrate = %q", report.Bitrate)
	}
}

func TestRunProbeFallsBackOnResolveError(t *testing.T) {
	prober := &fakeProber{result: &ffmpeg.ProbeResult{}}
	resolver := fakeResolver{err: variant.ErrTooManyRedirects}

	var out bytes.Buffer
	if err := runProbe(context.Background(), &out, "http://src/live.m3u8", resolver, prober); err != nil {
		t.Fatalf("runProbe() error = %v", err)
	}
	if prober.probed[0] != "http://src/live.m3u8" {
		t.Errorf("probed %q, want source url", prober.probed[0])
	}

	var report ProbeReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.VariantSelected || report.VariantError == "" {
		t.Errorf("expected fallback with error, got %+v", report)
	}
	if report.Info.Resolution != streams.Unknown || report.Info.AudioCodec != streams.Unknown {
		t.Errorf("expected Unknown sentinels, got %+v", report.Info)
	}
}

func TestRunProbeError(t *testing.T) {
	prober := &fakeProber{err: errors.New("exit status 1")}
	err := runProbe(context.Background(), &bytes.Buffer{}, "rtmp://x/live", fakeResolver{}, prober)
	if err == nil || !strings.Contains(err.Error(), "exit status 1") {
		t.Errorf("runProbe() error = %v", err)
	}
}

func TestRunHousekeep(t *testing.T) {
	dir := t.TempDir()
	streamsFile := filepath.Join(dir, "streams.json")
	hlsDir := filepath.Join(dir, "hls")

	s := store.NewJSON(streamsFile)
	if err := s.Put(streams.StreamRecord{ID: "kept", Name: "kept", URL: "http://a/x.m3u8", Status: streams.StatusStopped}); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"kept", "gone"} {
		if err := os.MkdirAll(filepath.Join(hlsDir, id), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(hlsDir, "gone", "segment_001.ts"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := runHousekeep(context.Background(), &out, HousekeepOptions{
		StreamsFile: streamsFile,
		HLSDir:      hlsDir,
		PreviewDir:  filepath.Join(dir, "previews"),
		Retention:   10,
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("runHousekeep() error = %v", err)
	}

	var report HousekeepReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if report.Streams != 1 || report.RemovedDirs != 1 || report.FreedBytes != 5 {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(filepath.Join(hlsDir, "kept")); err != nil {
		t.Errorf("configured stream directory removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(hlsDir, "gone")); !os.IsNotExist(err) {
		t.Errorf("orphaned directory still present: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	c := CreateVersionCmd()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs([]string{"--json"})
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	var info map[string]any
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := info["version"]; !ok {
		t.Errorf("missing version key in %v", info)
	}
}
