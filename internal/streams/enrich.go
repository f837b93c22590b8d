package streams

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/smazurov/hlsrelay/internal/ffmpeg"
	"github.com/smazurov/hlsrelay/internal/hls"
)

// ResolutionLabel maps a frame height to a human label.
func ResolutionLabel(height int) string {
	switch {
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	default:
		return strconv.Itoa(height) + "p"
	}
}

// Analyze refreshes the stream info of a running stream. It reports false
// when the stream is not running or has no output yet.
func (s *Supervisor) Analyze(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false, errNotFound(id)
	}
	run := e.run
	s.mu.Unlock()

	return s.analyze(ctx, id, run), nil
}

func (s *Supervisor) analyze(ctx context.Context, id string, run uint64) bool {
	dir, ok := s.runningDir(id, run)
	if !ok {
		return false
	}
	if _, err := os.Stat(dir); err != nil {
		return false
	}

	var info StreamInfo

	// Hints declared by the transcoder's own master playlist.
	if m, err := hls.ReadMasterInfo(dir); err == nil {
		info.Bitrate = m.Bandwidth
		info.VideoCodec = m.VideoCodec
		info.AudioCodec = m.AudioCodec
		if m.Height > 0 {
			info.RawResolution = m.Resolution
			info.Resolution = ResolutionLabel(m.Height)
		}
	}

	segments, err := hls.ListSegmentFiles(dir)
	if err != nil {
		s.logger.Debug("Cannot list segments for analysis", "stream_id", id, "error", err)
	}

	needProbe := info.VideoCodec == "" || info.AudioCodec == "" || info.Bitrate == 0 || info.Resolution == ""
	if needProbe && len(segments) > 0 && s.inspector != nil {
		newest := segments[len(segments)-1]
		if probe, err := s.inspector.ProbeFile(ctx, newest.Path); err != nil {
			s.logger.Debug("Segment probe failed", "stream_id", id, "segment", newest.Name, "error", err)
		} else {
			mergeProbe(&info, probe)
		}
	}

	if info.Bitrate == 0 {
		info.Bitrate = hls.EstimateBitrate(segments, float64(s.cfg.HLS.SegmentDuration))
	}
	fillUnknown(&info)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.current(id, run)
	if !ok {
		return false
	}
	e.rec.StreamInfo = info
	s.persist(e)

	s.logger.Info("Stream analyzed",
		"stream_id", id,
		"resolution", info.Resolution,
		"video_codec", info.VideoCodec,
		"audio_codec", info.AudioCodec,
		"bitrate", humanize.SIWithDigits(float64(info.Bitrate), 1, "bps"),
		"fps", info.FPS)
	return true
}

// detectResolution fills only the resolution fields, shortly after launch.
func (s *Supervisor) detectResolution(ctx context.Context, id string, run uint64) {
	dir, ok := s.runningDir(id, run)
	if !ok {
		return
	}

	var raw, label string
	if m, err := hls.ReadMasterInfo(dir); err == nil && m.Height > 0 {
		raw, label = m.Resolution, ResolutionLabel(m.Height)
	} else if s.inspector != nil {
		segments, _ := hls.ListSegmentFiles(dir)
		if len(segments) == 0 {
			return
		}
		probe, err := s.inspector.ProbeFile(ctx, segments[len(segments)-1].Path)
		if err != nil {
			s.logger.Debug("Resolution probe failed", "stream_id", id, "error", err)
			return
		}
		v := probe.Video()
		if v == nil || v.Height == 0 {
			return
		}
		raw, label = fmt.Sprintf("%dx%d", v.Width, v.Height), ResolutionLabel(v.Height)
	}
	if label == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.current(id, run)
	if !ok {
		return
	}
	e.rec.StreamInfo.RawResolution = raw
	e.rec.StreamInfo.Resolution = label
	s.persist(e)
}

func (s *Supervisor) runningDir(id string, run uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.current(id, run)
	if !ok || e.rec.Status != StatusRunning {
		return "", false
	}
	return e.rec.HLSPath, true
}

// mergeProbe fills fields still missing in info from a segment probe.
func mergeProbe(info *StreamInfo, probe *ffmpeg.ProbeResult) {
	if v := probe.Video(); v != nil {
		if info.VideoCodec == "" {
			info.VideoCodec = v.CodecName
		}
		if info.Resolution == "" && v.Height > 0 {
			info.RawResolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
			info.Resolution = ResolutionLabel(v.Height)
		}
		if info.FPS == 0 {
			info.FPS = v.FPS()
		}
		if info.Bitrate == 0 {
			info.Bitrate = v.BitRateBPS()
		}
	}
	if a := probe.Audio(); a != nil {
		if info.AudioCodec == "" {
			info.AudioCodec = a.CodecName
		}
		if info.AudioBitrate == 0 {
			info.AudioBitrate = a.BitRateBPS()
		}
	}
	if info.Bitrate == 0 {
		info.Bitrate = probe.Format.BitRateBPS()
	}
}

func fillUnknown(info *StreamInfo) {
	for _, f := range []*string{&info.Resolution, &info.RawResolution, &info.VideoCodec, &info.AudioCodec} {
		if *f == "" {
			*f = Unknown
		}
	}
}

// InfoFromProbe summarizes a probe result, using the Unknown sentinel for
// anything ffprobe did not report.
func InfoFromProbe(probe *ffmpeg.ProbeResult) StreamInfo {
	var info StreamInfo
	mergeProbe(&info, probe)
	fillUnknown(&info)
	return info
}
