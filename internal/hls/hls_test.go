package hls

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1
#EXTINF:4.000000,
segment_00001.ts
#EXTINF:4.000000,
segment_00002.ts
#EXTINF:4.000000,
segment_00003.ts
`

const emptyPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
`

func writeFile(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func writeSegments(t *testing.T, dir string, base time.Time, sizes ...int) {
	t.Helper()
	for i, size := range sizes {
		name := filepath.Join(dir, "segment_0000"+string(rune('1'+i))+".ts")
		writeFile(t, name, size, base.Add(time.Duration(i)*4*time.Second))
	}
}

func TestInspectMissingPlaylist(t *testing.T) {
	_, err := Inspect(t.TempDir(), time.Now())
	if !errors.Is(err, ErrNoPlaylist) {
		t.Fatalf("expected ErrNoPlaylist, got %v", err)
	}
}

func TestInspectEmptyPlaylist(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, PlaylistName), []byte(emptyPlaylist), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Inspect(dir, time.Now())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r.PlaylistSegments != 0 || r.Latest != nil {
		t.Errorf("expected no segments, got %+v", r)
	}
}

func TestInspectLatestSegment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, PlaylistName), []byte(mediaPlaylist), 0o644); err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-time.Minute).Truncate(time.Second)
	writeSegments(t, dir, base, 100, 200, 300)

	now := base.Add(20 * time.Second)
	r, err := Inspect(dir, now)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r.PlaylistSegments != 3 {
		t.Errorf("PlaylistSegments = %d, want 3", r.PlaylistSegments)
	}
	if r.TargetDuration != 4 {
		t.Errorf("TargetDuration = %v, want 4", r.TargetDuration)
	}
	if r.Latest == nil || r.Latest.Name != "segment_00003.ts" {
		t.Fatalf("Latest = %+v", r.Latest)
	}
	if r.LatestAge != 12*time.Second {
		t.Errorf("LatestAge = %v, want 12s", r.LatestAge)
	}
}

func TestListSegmentFilesIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeSegments(t, dir, base, 10, 10)
	writeFile(t, filepath.Join(dir, PlaylistName), 10, time.Time{})
	writeFile(t, filepath.Join(dir, "notes.txt"), 10, time.Time{})
	if err := os.Mkdir(filepath.Join(dir, "sub.ts"), 0o755); err != nil {
		t.Fatal(err)
	}

	segs, err := ListSegmentFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 || segs[0].Name != "segment_00001.ts" {
		t.Errorf("segments = %+v", segs)
	}
}

func TestTrimSegments(t *testing.T) {
	dir := t.TempDir()
	writeSegments(t, dir, time.Now().Add(-time.Hour), 100, 200, 300, 400, 500)

	removed, freed, err := TrimSegments(dir, 2)
	if err != nil {
		t.Fatalf("TrimSegments: %v", err)
	}
	if removed != 3 || freed != 600 {
		t.Errorf("removed=%d freed=%d, want 3 and 600", removed, freed)
	}

	left, _ := ListSegmentFiles(dir)
	if len(left) != 2 || left[0].Name != "segment_00004.ts" {
		t.Errorf("remaining = %+v", left)
	}

	removed, _, err = TrimSegments(dir, 10)
	if err != nil || removed != 0 {
		t.Errorf("second trim removed %d, err %v", removed, err)
	}
}

func TestEstimateBitrate(t *testing.T) {
	segs := []Segment{{Size: 1}, {Size: 500_000}, {Size: 1_000_000}, {Size: 1_500_000}}

	if got := EstimateBitrate(segs, 4); got != 2_000_000 {
		t.Errorf("EstimateBitrate = %d, want 2000000", got)
	}
	if got := EstimateBitrate(nil, 4); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := EstimateBitrate(segs, 0); got != 0 {
		t.Errorf("zero duration = %d", got)
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		w, h int
		ok   bool
	}{
		{"1280x720", 1280, 720, true},
		{" 1920X1080 ", 1920, 1080, true},
		{"720", 0, 0, false},
		{"axb", 0, 0, false},
		{"0x0", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, ok := ParseResolution(tt.in)
		if w != tt.w || h != tt.h || ok != tt.ok {
			t.Errorf("ParseResolution(%q) = %d, %d, %v", tt.in, w, h, ok)
		}
	}
}
