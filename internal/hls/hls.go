// Package hls inspects the on-disk output of an HLS transcode: the live media
// playlist, its segment files and the master playlist written next to it.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/livepeer/m3u8"
)

// Output file names written by the transcoder.
const (
	PlaylistName = "playlist.m3u8"
	MasterName   = "master.m3u8"
	SegmentExt   = ".ts"
)

// ErrNoPlaylist is returned when the media playlist does not exist.
var ErrNoPlaylist = errors.New("playlist not found")

// Segment is a segment file on disk.
type Segment struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Report is the result of inspecting an output directory.
type Report struct {
	PlaylistSegments int     // segment references in the media playlist
	TargetDuration   float64 // EXT-X-TARGETDURATION, 0 if absent
	Files            []Segment
	Latest           *Segment // newest segment file by modification time
	LatestAge        time.Duration
}

// Inspect reads dir/playlist.m3u8 and the segment files beside it.
func Inspect(dir string, now time.Time) (*Report, error) {
	f, err := os.Open(filepath.Join(dir, PlaylistName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoPlaylist
		}
		return nil, fmt.Errorf("open playlist: %w", err)
	}
	defer f.Close()

	pl, listType, err := m3u8.DecodeFrom(bufio.NewReader(f), false)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}

	report := &Report{}
	if listType == m3u8.MEDIA {
		media := pl.(*m3u8.MediaPlaylist)
		report.TargetDuration = media.TargetDuration
		for _, seg := range media.Segments {
			if seg != nil && seg.URI != "" {
				report.PlaylistSegments++
			}
		}
	}

	files, err := ListSegmentFiles(dir)
	if err != nil {
		return nil, err
	}
	report.Files = files
	if len(files) > 0 {
		latest := files[len(files)-1]
		report.Latest = &latest
		report.LatestAge = now.Sub(latest.ModTime)
	}
	return report, nil
}

// ListSegmentFiles returns the segment files in dir, oldest first.
func ListSegmentFiles(dir string) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read segment directory: %w", err)
	}

	var segments []Segment
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != SegmentExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed by the transcoder between ReadDir and Info
		}
		segments = append(segments, Segment{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].ModTime.Equal(segments[j].ModTime) {
			return segments[i].Name < segments[j].Name
		}
		return segments[i].ModTime.Before(segments[j].ModTime)
	})
	return segments, nil
}

// TrimSegments deletes the oldest segment files in dir so that at most keep
// remain. Individual removal failures do not stop the trim; they are joined
// into the returned error.
func TrimSegments(dir string, keep int) (removed int, freed int64, err error) {
	segments, err := ListSegmentFiles(dir)
	if err != nil {
		return 0, 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(segments) <= keep {
		return 0, 0, nil
	}

	var errs []error
	for _, seg := range segments[:len(segments)-keep] {
		if rmErr := os.Remove(seg.Path); rmErr != nil {
			errs = append(errs, rmErr)
			continue
		}
		removed++
		freed += seg.Size
	}
	return removed, freed, errors.Join(errs...)
}

// EstimateBitrate averages the size of the newest three segments and divides
// by the nominal segment duration. Returns bits per second, or 0.
func EstimateBitrate(segments []Segment, segmentDuration float64) int64 {
	if len(segments) == 0 || segmentDuration <= 0 {
		return 0
	}
	newest := segments
	if len(newest) > 3 {
		newest = newest[len(newest)-3:]
	}
	var total int64
	for _, s := range newest {
		total += s.Size
	}
	avg := float64(total) / float64(len(newest))
	return int64(avg * 8 / segmentDuration)
}

// ParseResolution splits "1280x720".
func ParseResolution(s string) (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !found {
		return 0, 0, false
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}
