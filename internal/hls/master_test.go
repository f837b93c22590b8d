package hls

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadMasterInfo(t *testing.T) {
	dir := t.TempDir()
	master := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=2628000,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2"
playlist.m3u8
`
	if err := os.WriteFile(filepath.Join(dir, MasterName), []byte(master), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := ReadMasterInfo(dir)
	if err != nil {
		t.Fatalf("ReadMasterInfo: %v", err)
	}
	if info.Bandwidth != 2628000 || info.Height != 720 || info.Width != 1280 {
		t.Errorf("info = %+v", info)
	}
	if info.VideoCodec != "h264" || info.AudioCodec != "aac" {
		t.Errorf("codecs = %q/%q", info.VideoCodec, info.AudioCodec)
	}
}

func TestReadMasterInfoMissing(t *testing.T) {
	if _, err := ReadMasterInfo(t.TempDir()); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseCodecs(t *testing.T) {
	tests := []struct {
		in           string
		video, audio string
	}{
		{"avc1.64001f,mp4a.40.2", "h264", "aac"},
		{"hvc1.1.6.L93.B0", "hevc", ""},
		{"hev1.1.6.L120, ec-3", "hevc", "eac3"},
		{"ac-3", "", "ac3"},
		{"", "", ""},
	}
	for _, tt := range tests {
		v, a := ParseCodecs(tt.in)
		if v != tt.video || a != tt.audio {
			t.Errorf("ParseCodecs(%q) = %q, %q", tt.in, v, a)
		}
	}
}
