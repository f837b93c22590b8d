package ffmpeg

import (
	"path/filepath"
	"strconv"
	"strings"

	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// File names inside a stream's output directory.
const (
	PlaylistName   = "playlist.m3u8"
	MasterName     = "master.m3u8"
	SegmentPattern = "segment_%05d.ts"
	SegmentExt     = ".ts"
)

// HLSOptions controls the HLS transcode.
type HLSOptions struct {
	SegmentDuration int    // target segment length in seconds
	ListSize        int    // segments kept in the live playlist
	VideoCodec      string // "copy" passes video through
	AudioCodec      string
	Preset          string // x264 preset, ignored for copy
}

// DefaultHLSOptions returns 4 second segments, a 6 entry playlist and an
// H.264/AAC transcode.
func DefaultHLSOptions() HLSOptions {
	return HLSOptions{
		SegmentDuration: 4,
		ListSize:        6,
		VideoCodec:      "libx264",
		AudioCodec:      "aac",
		Preset:          "veryfast",
	}
}

// BuildHLSArgs returns the ffmpeg arguments (without the binary) that
// transcode sourceURL into a rolling HLS playlist inside outputDir.
func BuildHLSArgs(sourceURL, outputDir string, opts HLSOptions) []string {
	input := ffmpeggo.KwArgs{}
	if isHTTP(sourceURL) {
		input["reconnect"] = "1"
		input["reconnect_streamed"] = "1"
		input["reconnect_delay_max"] = "5"
	}
	if strings.HasPrefix(sourceURL, "rtsp://") {
		input["rtsp_transport"] = "tcp"
	}

	output := ffmpeggo.KwArgs{
		"f":                    "hls",
		"hls_time":             strconv.Itoa(opts.SegmentDuration),
		"hls_list_size":        strconv.Itoa(opts.ListSize),
		"hls_flags":            "delete_segments+independent_segments",
		"hls_segment_filename": filepath.Join(outputDir, SegmentPattern),
		"master_pl_name":       MasterName,
		"c:v":                  opts.VideoCodec,
		"c:a":                  opts.AudioCodec,
	}
	if opts.VideoCodec != "copy" && opts.Preset != "" {
		output["preset"] = opts.Preset
	}

	return ffmpeggo.Input(sourceURL, input).
		Output(filepath.Join(outputDir, PlaylistName), output).
		GlobalArgs("-y", "-hide_banner", "-nostdin", "-nostats", "-loglevel", "level+warning").
		GetArgs()
}

// BuildSnapshotArgs returns arguments that grab one frame from the newest
// part of a live playlist into a JPEG.
func BuildSnapshotArgs(playlistPath, outputPath string) []string {
	return ffmpeggo.Input(playlistPath, ffmpeggo.KwArgs{"live_start_index": "-1"}).
		Output(outputPath, ffmpeggo.KwArgs{"frames:v": "1", "q:v": "3"}).
		GlobalArgs("-y", "-hide_banner", "-nostdin", "-loglevel", "error").
		GetArgs()
}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
