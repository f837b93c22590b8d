package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Snapshotter captures still previews from a stream's HLS output.
type Snapshotter struct {
	binary  string
	timeout time.Duration
}

// NewSnapshotter creates a snapshotter using the given ffmpeg binary.
func NewSnapshotter(binary string, timeout time.Duration) *Snapshotter {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Snapshotter{binary: binary, timeout: timeout}
}

// Capture writes one JPEG frame from playlistPath to outputPath.
func (s *Snapshotter) Capture(ctx context.Context, playlistPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create preview directory: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary, BuildSnapshotArgs(playlistPath, outputPath)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("snapshot %s: %w: %s", playlistPath, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
