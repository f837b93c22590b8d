package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/smazurov/hlsrelay/internal/config"
	"github.com/smazurov/hlsrelay/internal/housekeeping"
	"github.com/smazurov/hlsrelay/internal/logging"
	"github.com/smazurov/hlsrelay/internal/streams/store"
	"github.com/spf13/cobra"
)

// HousekeepOptions reads the same file and environment keys as the server.
type HousekeepOptions struct {
	Config      string
	StreamsFile string `toml:"streams.config_file" env:"STREAMS_CONFIG_FILE"`
	HLSDir      string `name:"hls-dir" toml:"hls.dir" env:"HLS_DIR"`
	PreviewDir  string `toml:"hls.preview_dir" env:"HLS_PREVIEW_DIR"`
	Retention   int    `toml:"housekeeping.retention" env:"HOUSEKEEPING_RETENTION"`
	JSON        bool
}

// HousekeepReport is printed by the housekeep command.
type HousekeepReport struct {
	Streams         int    `json:"streams"`
	TrimmedSegments int    `json:"trimmed_segments"`
	RemovedDirs     int    `json:"removed_dirs"`
	RemovedPreviews int    `json:"removed_previews"`
	FreedBytes      int64  `json:"freed_bytes"`
	Freed           string `json:"freed"`
}

// CreateHousekeepCmd creates the housekeep command.
func CreateHousekeepCmd() *cobra.Command {
	opts := HousekeepOptions{
		Config:      "config.toml",
		StreamsFile: "streams.json",
		HLSDir:      "data/hls",
		PreviewDir:  "data/previews",
		Retention:   housekeeping.DefaultRetention,
	}

	cmd := &cobra.Command{
		Use:   "housekeep",
		Short: "Run one cleanup pass over the HLS and preview directories",
		Long: `Removes output directories of streams that are no longer configured, trims ` +
			`segments of configured streams down to the retention count and deletes orphaned ` +
			`preview images. Streams are read from the persisted streams file; run it while ` +
			`the server is stopped, since every configured stream is treated as not running.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if err := config.LoadConfig(&opts, c); err != nil {
				return err
			}
			logging.Initialize(config.LoadLoggingConfig(opts.Config))
			return runHousekeep(c.Context(), c.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", opts.Config, "Path to configuration file")
	cmd.Flags().StringVar(&opts.StreamsFile, "streams-file", opts.StreamsFile, "Stream definitions file")
	cmd.Flags().StringVar(&opts.HLSDir, "hls-dir", opts.HLSDir, "HLS output root")
	cmd.Flags().StringVar(&opts.PreviewDir, "preview-dir", opts.PreviewDir, "Preview image directory")
	cmd.Flags().IntVar(&opts.Retention, "retention", opts.Retention, "Segments kept per stream")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON")

	return cmd
}

func runHousekeep(ctx context.Context, w io.Writer, opts HousekeepOptions) error {
	s := store.NewJSON(opts.StreamsFile)
	if err := s.Load(); err != nil {
		return fmt.Errorf("load streams: %w", err)
	}

	ids := make(housekeeping.StaticStreams)
	for _, rec := range s.List() {
		ids[rec.ID] = false
	}

	hk := housekeeping.New(housekeeping.Options{
		HLSDir:     opts.HLSDir,
		PreviewDir: opts.PreviewDir,
		Retention:  opts.Retention,
		Streams:    ids,
	})
	res, err := hk.Collect(ctx)
	if err != nil {
		return err
	}

	report := HousekeepReport{
		Streams:         len(ids),
		TrimmedSegments: res.TrimmedSegments,
		RemovedDirs:     res.RemovedDirs,
		RemovedPreviews: res.RemovedPreviews,
		FreedBytes:      res.FreedBytes,
		Freed:           humanize.Bytes(uint64(res.FreedBytes)),
	}
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err = fmt.Fprintf(w, "trimmed %d segments, removed %d directories and %d previews, freed %s\n",
		report.TrimmedSegments, report.RemovedDirs, report.RemovedPreviews, report.Freed)
	return err
}
