package hls

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/livepeer/m3u8"
)

// MasterInfo holds the stream hints declared in a master playlist.
type MasterInfo struct {
	Bandwidth  int64
	Resolution string // "WxH" as declared
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
}

// ReadMasterInfo parses dir/master.m3u8 and returns the hints of its
// highest-bandwidth variant.
func ReadMasterInfo(dir string) (*MasterInfo, error) {
	f, err := os.Open(filepath.Join(dir, MasterName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pl, listType, err := m3u8.DecodeFrom(bufio.NewReader(f), false)
	if err != nil {
		return nil, fmt.Errorf("decode master playlist: %w", err)
	}
	if listType != m3u8.MASTER {
		return nil, errors.New("not a master playlist")
	}

	var best *m3u8.Variant
	for _, v := range pl.(*m3u8.MasterPlaylist).Variants {
		if v != nil && (best == nil || v.Bandwidth > best.Bandwidth) {
			best = v
		}
	}
	if best == nil {
		return nil, errors.New("master playlist has no variants")
	}

	info := &MasterInfo{
		Bandwidth:  int64(best.Bandwidth),
		Resolution: best.Resolution,
	}
	info.Width, info.Height, _ = ParseResolution(best.Resolution)
	info.VideoCodec, info.AudioCodec = ParseCodecs(best.Codecs)
	return info, nil
}

// ParseCodecs maps an RFC 6381 CODECS attribute ("avc1.64001f,mp4a.40.2")
// to short codec names.
func ParseCodecs(codecs string) (video, audio string) {
	for _, c := range strings.Split(codecs, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		prefix, _, _ := strings.Cut(c, ".")
		switch prefix {
		case "avc1", "avc3":
			video = "h264"
		case "hvc1", "hev1":
			video = "hevc"
		case "av01":
			video = "av1"
		case "vp09":
			video = "vp9"
		case "mp4a":
			audio = "aac"
		case "ac-3":
			audio = "ac3"
		case "ec-3":
			audio = "eac3"
		case "opus":
			audio = "opus"
		}
	}
	return video, audio
}
