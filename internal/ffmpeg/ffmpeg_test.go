package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[error] Connection refused", "error", "Connection refused"},
		{"[warning] Non-monotonic DTS", "warning", "Non-monotonic DTS"},
		{"[hls @ 0x55d0] [error] Failed to open segment", "error", "[hls @ 0x55d0] Failed to open segment"},
		{"[h264 @ 0x1] decode_slice_header error", "info", "[h264 @ 0x1] decode_slice_header error"},
		{"plain output", "info", "plain output"},
		{"[]", "info", "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			level, msg := ParseLogLevel(tt.line)
			if level != tt.wantLevel || msg != tt.wantMsg {
				t.Errorf("ParseLogLevel(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.wantLevel, tt.wantMsg)
			}
		})
	}
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want ErrorKind
		ok   bool
	}{
		{"[tcp @ 0x1] [error] Connection to tcp://src:80 failed: Connection refused", KindNetwork, true},
		{"[error] Connection reset by peer", KindNetwork, true},
		{"[http @ 0x2] [error] HTTP error 404 Not Found", KindSource, true},
		{"[error] Server returned 403 Forbidden (access denied)", KindSource, true},
		{"[error] Invalid data found when processing input", KindFormat, true},
		{"[h264 @ 0x3] [error] error while decoding MB 10 20", KindFormat, true},
		{"[warning] corrupt decoded frame in stream 0", KindFormat, true},
		{"[fatal] Conversion failed!", KindGeneric, true},
		{"Error opening output files", KindGeneric, true},
		{"[warning] Non-monotonic DTS", "", false},
		{"[info] Opening 'segment_00001.ts' for writing", "", false},
		{"frame=  100 fps= 25", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ClassifyLine(tt.line)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ClassifyLine(%q) = (%q, %v), want (%q, %v)", tt.line, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func argAfter(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestBuildHLSArgs(t *testing.T) {
	dir := filepath.Join("/var/lib/hlsrelay/hls", "abc")
	args := BuildHLSArgs("http://src/video.m3u8", dir, DefaultHLSOptions())

	checks := map[string]string{
		"-i":                    "http://src/video.m3u8",
		"-f":                    "hls",
		"-hls_time":             "4",
		"-hls_list_size":        "6",
		"-hls_segment_filename": filepath.Join(dir, SegmentPattern),
		"-master_pl_name":       MasterName,
		"-c:v":                  "libx264",
		"-preset":               "veryfast",
		"-reconnect":            "1",
		"-loglevel":             "level+warning",
	}
	for flag, want := range checks {
		if got, ok := argAfter(args, flag); !ok || got != want {
			t.Errorf("%s = %q (present=%v), want %q; args=%v", flag, got, ok, want, args)
		}
	}
	if !slices.Contains(args, filepath.Join(dir, PlaylistName)) {
		t.Errorf("playlist output missing from %v", args)
	}
	if !slices.Contains(args, "-y") {
		t.Errorf("overwrite flag missing from %v", args)
	}
}

func TestBuildHLSArgsCopyAndRTSP(t *testing.T) {
	opts := DefaultHLSOptions()
	opts.VideoCodec = "copy"
	args := BuildHLSArgs("rtsp://cam/live", "/tmp/out", opts)

	if slices.Contains(args, "-preset") {
		t.Error("preset must be omitted for stream copy")
	}
	if slices.Contains(args, "-reconnect") {
		t.Error("http reconnect options must not be set for rtsp")
	}
	if got, _ := argAfter(args, "-rtsp_transport"); got != "tcp" {
		t.Errorf("rtsp_transport = %q, want tcp", got)
	}
}

func TestBuildSnapshotArgs(t *testing.T) {
	args := BuildSnapshotArgs("/hls/abc/playlist.m3u8", "/previews/abc.jpg")
	if got, _ := argAfter(args, "-i"); got != "/hls/abc/playlist.m3u8" {
		t.Errorf("-i = %q", got)
	}
	if got, _ := argAfter(args, "-frames:v"); got != "1" {
		t.Errorf("-frames:v = %q", got)
	}
	if !slices.Contains(args, "/previews/abc.jpg") {
		t.Errorf("output missing from %v", args)
	}
	// Previews are refreshed in place.
	if !slices.Contains(args, "-y") {
		t.Errorf("overwrite flag missing from %v", args)
	}
}

const sampleProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "avg_frame_rate": "30000/1001", "r_frame_rate": "30/1", "bit_rate": "2500000"},
    {"codec_type": "audio", "codec_name": "aac", "bit_rate": "128000"}
  ],
  "format": {"format_name": "mpegts", "duration": "4.000000", "bit_rate": "2700000"}
}`

func TestParseProbeOutput(t *testing.T) {
	r, err := ParseProbeOutput(sampleProbe)
	if err != nil {
		t.Fatalf("ParseProbeOutput: %v", err)
	}

	v := r.Video()
	if v == nil || v.CodecName != "h264" || v.Height != 720 {
		t.Fatalf("video = %+v", v)
	}
	if fps := v.FPS(); fps < 29.96 || fps > 29.98 {
		t.Errorf("fps = %v, want ~29.97", fps)
	}
	if v.BitRateBPS() != 2500000 {
		t.Errorf("video bitrate = %d", v.BitRateBPS())
	}

	a := r.Audio()
	if a == nil || a.CodecName != "aac" || a.BitRateBPS() != 128000 {
		t.Errorf("audio = %+v", a)
	}
	if r.Format.BitRateBPS() != 2700000 {
		t.Errorf("format bitrate = %d", r.Format.BitRateBPS())
	}

	if _, err := ParseProbeOutput("not json"); err == nil {
		t.Error("expected error for invalid output")
	}
}

func TestProberUsesFakeProbe(t *testing.T) {
	var gotFile string
	var gotTimeout time.Duration
	var gotArgs ffmpeggo.KwArgs
	p := &Prober{
		timeout: 10 * time.Second,
		probe: func(file string, timeout time.Duration, kwargs ffmpeggo.KwArgs) (string, error) {
			gotFile, gotTimeout, gotArgs = file, timeout, kwargs
			return sampleProbe, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.TestSource(ctx, "http://src/video.m3u8"); err != nil {
		t.Fatalf("TestSource: %v", err)
	}
	if gotFile != "http://src/video.m3u8" {
		t.Errorf("file = %q", gotFile)
	}
	if gotTimeout > time.Second {
		t.Errorf("timeout %v should be capped by context deadline", gotTimeout)
	}
	if gotArgs["show_entries"] != "format=duration" {
		t.Errorf("kwargs = %v", gotArgs)
	}

	r, err := p.ProbeFile(context.Background(), "/hls/abc/segment_00001.ts")
	if err != nil {
		t.Fatalf("ProbeFile: %v", err)
	}
	if r.Video() == nil {
		t.Error("expected video stream")
	}
	if gotTimeout != 10*time.Second {
		t.Errorf("timeout = %v, want configured 10s", gotTimeout)
	}
}

func TestProberFailure(t *testing.T) {
	p := &Prober{
		timeout: time.Second,
		probe: func(string, time.Duration, ffmpeggo.KwArgs) (string, error) {
			return "", errors.New("exit status 1")
		},
	}
	if err := p.TestSource(context.Background(), "http://down/"); err == nil {
		t.Fatal("expected error")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSnapshotterCapture(t *testing.T) {
	out := filepath.Join(t.TempDir(), "previews", "abc.jpg")

	ok := NewSnapshotter(writeScript(t, "exit 0"), time.Second)
	if err := ok.Capture(context.Background(), "/hls/abc/playlist.m3u8", out); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(out)); err != nil {
		t.Errorf("preview directory not created: %v", err)
	}

	failing := NewSnapshotter(writeScript(t, "echo 'No such file' 1>&2; exit 1"), time.Second)
	err := failing.Capture(context.Background(), "/hls/abc/playlist.m3u8", out)
	if err == nil || !strings.Contains(err.Error(), "No such file") {
		t.Errorf("expected error with stderr, got %v", err)
	}
}
