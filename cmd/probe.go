package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/smazurov/hlsrelay/internal/ffmpeg"
	"github.com/smazurov/hlsrelay/internal/logging"
	"github.com/smazurov/hlsrelay/internal/streams"
	"github.com/smazurov/hlsrelay/internal/variant"
	"github.com/spf13/cobra"
)

type resolver interface {
	Resolve(ctx context.Context, rawURL string) (variant.Result, error)
}

type fileProber interface {
	ProbeFile(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// ProbeReport is printed by the probe command.
type ProbeReport struct {
	SourceURL       string              `json:"source_url"`
	URL             string              `json:"url"`
	VariantSelected bool                `json:"variant_selected"`
	VariantError    string              `json:"variant_error,omitempty"`
	Bandwidth       uint32              `json:"bandwidth,omitempty"`
	Resolution      string              `json:"resolution,omitempty"`
	Info            *streams.StreamInfo `json:"info,omitempty"`
	Format          string              `json:"format,omitempty"`
	Bitrate         string              `json:"bitrate,omitempty"`
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var timeout time.Duration
	var maxRedirects int

	cmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Resolve the best HLS variant of a source and print its media summary",
		Long: `Fetches the source URL, picks the highest-bandwidth variant when it is a master ` +
			`playlist, then runs ffprobe against the chosen URL. The report is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			ctx, cancel := context.WithTimeout(c.Context(), 2*timeout)
			defer cancel()

			selector := variant.NewSelector(variant.Options{
				MaxRedirects: maxRedirects,
				Timeout:      timeout,
				Logger:       logging.GetLogger("variant"),
			})
			return runProbe(ctx, c.OutOrStdout(), args[0], selector, ffmpeg.NewProber(timeout))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for the playlist fetch and ffprobe each")
	cmd.Flags().IntVar(&maxRedirects, "max-redirects", 5, "Maximum HTTP redirects to follow")

	return cmd
}

func runProbe(ctx context.Context, w io.Writer, sourceURL string, r resolver, p fileProber) error {
	report := ProbeReport{SourceURL: sourceURL, URL: sourceURL}

	res, err := r.Resolve(ctx, sourceURL)
	if err != nil {
		// Falls back to the source URL the same way a stream start does.
		report.VariantError = err.Error()
	} else if res.Selected {
		report.URL = res.URL
		report.VariantSelected = true
		report.Bandwidth = res.Bandwidth
		report.Resolution = res.Resolution
	}

	probe, err := p.ProbeFile(ctx, report.URL)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	info := streams.InfoFromProbe(probe)
	report.Info = &info
	report.Format = probe.Format.FormatName
	if bps := probe.Format.BitRateBPS(); bps > 0 {
		report.Bitrate = humanize.SI(float64(bps), "bps")
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
