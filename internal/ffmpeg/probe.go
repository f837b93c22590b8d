package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// ProbeResult is the subset of ffprobe's JSON output the relay uses.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes one elementary stream.
type ProbeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitRate      string `json:"bit_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
}

// ProbeFormat describes the container.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// Video returns the first video stream, or nil.
func (r *ProbeResult) Video() *ProbeStream { return r.first("video") }

// Audio returns the first audio stream, or nil.
func (r *ProbeResult) Audio() *ProbeStream { return r.first("audio") }

func (r *ProbeResult) first(kind string) *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == kind {
			return &r.Streams[i]
		}
	}
	return nil
}

// BitRateBPS parses bit_rate, returning 0 when absent.
func (s *ProbeStream) BitRateBPS() int64 {
	return parseInt(s.BitRate)
}

// FPS parses the stream frame rate ("30000/1001"), preferring avg_frame_rate.
func (s *ProbeStream) FPS() float64 {
	if fps := parseRational(s.AvgFrameRate); fps > 0 {
		return fps
	}
	return parseRational(s.RFrameRate)
}

// BitRateBPS parses the container bit_rate, returning 0 when absent.
func (f ProbeFormat) BitRateBPS() int64 {
	return parseInt(f.BitRate)
}

// ParseProbeOutput decodes ffprobe -of json output.
func ParseProbeOutput(raw string) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	return &result, nil
}

type probeFunc func(fileName string, timeout time.Duration, kwargs ffmpeggo.KwArgs) (string, error)

// Prober runs ffprobe through ffmpeg-go.
type Prober struct {
	timeout time.Duration
	probe   probeFunc
}

// NewProber creates a prober whose calls are bounded by timeout unless the
// caller's context expires sooner.
func NewProber(timeout time.Duration) *Prober {
	return &Prober{timeout: timeout, probe: ffmpeggo.ProbeWithTimeout}
}

// TestSource asks only for the container duration; any failure means the
// source is unavailable.
func (p *Prober) TestSource(ctx context.Context, url string) error {
	raw, err := p.probe(url, p.effectiveTimeout(ctx), ffmpeggo.KwArgs{
		"show_entries": "format=duration",
		"v":            "error",
	})
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	if _, err := ParseProbeOutput(raw); err != nil {
		return err
	}
	return nil
}

// ProbeFile returns per-stream codec, dimension, bitrate and frame rate data.
func (p *Prober) ProbeFile(ctx context.Context, path string) (*ProbeResult, error) {
	raw, err := p.probe(path, p.effectiveTimeout(ctx), ffmpeggo.KwArgs{"v": "error"})
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	return ParseProbeOutput(raw)
}

func (p *Prober) effectiveTimeout(ctx context.Context) time.Duration {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && (timeout <= 0 || remaining < timeout) {
			timeout = remaining
		}
	}
	return timeout
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseRational(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
