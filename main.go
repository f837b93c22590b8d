package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/hlsrelay/cmd"
	"github.com/smazurov/hlsrelay/internal/api"
	"github.com/smazurov/hlsrelay/internal/config"
	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/ffmpeg"
	"github.com/smazurov/hlsrelay/internal/housekeeping"
	"github.com/smazurov/hlsrelay/internal/logging"
	"github.com/smazurov/hlsrelay/internal/metrics/collectors"
	"github.com/smazurov/hlsrelay/internal/metrics/exporters"
	"github.com/smazurov/hlsrelay/internal/process"
	"github.com/smazurov/hlsrelay/internal/streams"
	"github.com/smazurov/hlsrelay/internal/streams/store"
	"github.com/smazurov/hlsrelay/internal/variant"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Streams settings
	StreamsConfigFile string `help:"Stream definitions file" default:"streams.json" toml:"streams.config_file" env:"STREAMS_CONFIG_FILE"`
	StreamsResume     bool   `help:"Restart streams that were running at shutdown" default:"true" toml:"streams.resume_on_boot" env:"STREAMS_RESUME_ON_BOOT"`

	// HLS output settings
	HLSDir             string `name:"hls-dir" help:"HLS output root" default:"data/hls" toml:"hls.dir" env:"HLS_DIR"`
	HLSPreviewDir      string `name:"preview-dir" help:"Preview image directory" default:"data/previews" toml:"hls.preview_dir" env:"HLS_PREVIEW_DIR"`
	HLSSegmentDuration int    `name:"hls-segment-duration" help:"Target segment length in seconds" default:"4" toml:"hls.segment_duration" env:"HLS_SEGMENT_DURATION"`
	HLSListSize        int    `name:"hls-list-size" help:"Segments kept in the live playlist" default:"6" toml:"hls.list_size" env:"HLS_LIST_SIZE"`
	HLSVideoCodec      string `name:"hls-video-codec" help:"Video codec, or copy" default:"libx264" toml:"hls.video_codec" env:"HLS_VIDEO_CODEC"`
	HLSAudioCodec      string `name:"hls-audio-codec" help:"Audio codec, or copy" default:"aac" toml:"hls.audio_codec" env:"HLS_AUDIO_CODEC"`
	HLSPreset          string `name:"hls-preset" help:"x264 preset" default:"veryfast" toml:"hls.preset" env:"HLS_PRESET"`

	// FFmpeg settings
	FFmpegPath         string `name:"ffmpeg-path" help:"ffmpeg binary" default:"ffmpeg" toml:"ffmpeg.path" env:"FFMPEG_PATH"`
	FFmpegProbeTimeout string `name:"ffmpeg-probe-timeout" help:"ffprobe timeout" default:"10s" toml:"ffmpeg.probe_timeout" env:"FFMPEG_PROBE_TIMEOUT"`

	// Reconnect settings
	ReconnectMaxAttempts int    `help:"Reconnect attempts before giving up" default:"10" toml:"reconnect.max_attempts" env:"RECONNECT_MAX_ATTEMPTS"`
	ReconnectBaseDelay   string `help:"First reconnect delay" default:"5s" toml:"reconnect.base_delay" env:"RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay    string `help:"Reconnect delay cap" default:"60s" toml:"reconnect.max_delay" env:"RECONNECT_MAX_DELAY"`

	// Variant selection settings
	VariantMaxRedirects int    `help:"Redirects followed when fetching a playlist" default:"5" toml:"variant.max_redirects" env:"VARIANT_MAX_REDIRECTS"`
	VariantTimeout      string `help:"Playlist fetch timeout" default:"10s" toml:"variant.timeout" env:"VARIANT_TIMEOUT"`

	// Housekeeping settings
	HousekeepingInterval  string `help:"Cleanup interval" default:"1h" toml:"housekeeping.interval" env:"HOUSEKEEPING_INTERVAL"`
	HousekeepingRetention int    `help:"Segments kept per idle stream" default:"10" toml:"housekeeping.retention" env:"HOUSEKEEPING_RETENTION"`

	// Observability settings
	MetricsPrometheusEnabled bool   `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEEnabled        bool   `name:"metrics-sse-enabled" help:"Publish stream metrics over SSE" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`
	MetricsInterval          string `help:"Stream gauge sampling interval" default:"5s" toml:"metrics.interval" env:"METRICS_INTERVAL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, empty disables auth" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel        string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat       string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingFile         string `help:"Rotating log file, empty disables it" default:"" toml:"logging.file.path" env:"LOGGING_FILE"`
	LoggingStreams      string `help:"Streams logging level" default:"info" toml:"logging.modules.streams" env:"LOGGING_STREAMS"`
	LoggingFFmpeg       string `name:"logging-ffmpeg" help:"Transcoder output logging level" default:"info" toml:"logging.modules.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingVariant      string `help:"Variant selection logging level" default:"info" toml:"logging.modules.variant" env:"LOGGING_VARIANT"`
	LoggingHousekeeping string `help:"Housekeeping logging level" default:"info" toml:"logging.modules.housekeeping" env:"LOGGING_HOUSEKEEPING"`
	LoggingAPI          string `name:"logging-api" help:"API logging level" default:"info" toml:"logging.modules.api" env:"LOGGING_API"`
	LoggingHTTP         string `name:"logging-http" help:"Request logging level" default:"info" toml:"logging.modules.http" env:"LOGGING_HTTP"`
	LoggingMetrics      string `help:"Metrics logging level" default:"info" toml:"logging.modules.metrics" env:"LOGGING_METRICS"`
}

func duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			File:   logging.FileConfig{Path: opts.LoggingFile},
			Modules: map[string]string{
				"streams":      opts.LoggingStreams,
				"ffmpeg":       opts.LoggingFFmpeg,
				"variant":      opts.LoggingVariant,
				"housekeeping": opts.LoggingHousekeeping,
				"api":          opts.LoggingAPI,
				"http":         opts.LoggingHTTP,
				"metrics":      opts.LoggingMetrics,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		// Log levels follow edits to the [logging] section without a restart.
		watcher := config.NewConfigWatcher(opts.Config, config.ParseLoggingConfig, logger)
		watcher.OnReload(func(cfg logging.Config) {
			logging.SetLevels(cfg.Level, cfg.Modules)
			logger.Info("Logging levels reloaded", "level", cfg.Level)
		})

		eventBus := events.New()

		probeTimeout := duration(opts.FFmpegProbeTimeout, 10*time.Second)
		variantTimeout := duration(opts.VariantTimeout, 10*time.Second)

		supervisor := streams.NewSupervisor(streams.Options{
			Store:     store.NewJSON(opts.StreamsConfigFile),
			Launcher:  process.NewExecLauncher(logging.GetLogger("process")),
			Inspector: ffmpeg.NewProber(probeTimeout),
			Resolver: variant.NewSelector(variant.Options{
				MaxRedirects: opts.VariantMaxRedirects,
				Timeout:      variantTimeout,
				Logger:       logging.GetLogger("variant"),
			}),
			Capturer: ffmpeg.NewSnapshotter(opts.FFmpegPath, probeTimeout),
			EventBus: eventBus,
			Config: streams.Config{
				HLSDir:     opts.HLSDir,
				PreviewDir: opts.HLSPreviewDir,
				FFmpegPath: opts.FFmpegPath,
				HLS: ffmpeg.HLSOptions{
					SegmentDuration: opts.HLSSegmentDuration,
					ListSize:        opts.HLSListSize,
					VideoCodec:      opts.HLSVideoCodec,
					AudioCodec:      opts.HLSAudioCodec,
					Preset:          opts.HLSPreset,
				},
				MaxReconnectAttempts: opts.ReconnectMaxAttempts,
				ReconnectBaseDelay:   duration(opts.ReconnectBaseDelay, 5*time.Second),
				ReconnectMaxDelay:    duration(opts.ReconnectMaxDelay, 60*time.Second),
				SourceProbeTimeout:   probeTimeout,
				ResolveTimeout:       variantTimeout,
				ResumeOnBoot:         opts.StreamsResume,
			},
		})

		housekeeper := housekeeping.New(housekeeping.Options{
			HLSDir:     opts.HLSDir,
			PreviewDir: opts.HLSPreviewDir,
			Interval:   duration(opts.HousekeepingInterval, housekeeping.DefaultInterval),
			Retention:  opts.HousekeepingRetention,
			Streams:    supervisor,
			EventBus:   eventBus,
		})

		// Metrics: counters follow bus events, gauges are sampled.
		var eventCollector *collectors.EventCollector
		var streamCollector *collectors.StreamCollector
		var sseExporter *exporters.SSEExporter
		if opts.MetricsPrometheusEnabled || opts.MetricsSSEEnabled {
			eventCollector = collectors.NewEventCollector(eventBus)
			streamCollector = collectors.NewStreamCollector(supervisor, duration(opts.MetricsInterval, 5*time.Second))
		}
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		apiOpts := &api.Options{
			AuthUsername:  opts.AuthUsername,
			AuthPassword:  opts.AuthPassword,
			StreamService: supervisor,
			EventBus:      eventBus,
			HLSDir:        opts.HLSDir,
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Config watcher disabled", "error", startErr)
			}

			if eventCollector != nil {
				eventCollector.Start()
				streamCollector.Start(ctx)
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			// Load after the collectors subscribe so resumed streams are counted.
			supervisor.Load()
			housekeeper.Start(ctx)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()

			if stopErr := server.Stop(stopCtx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			housekeeper.Stop()

			// Stop all transcoders after the API stops accepting new requests.
			logger.Info("Stopping all stream processes")
			supervisor.Shutdown(stopCtx)

			if sseExporter != nil {
				sseExporter.Stop()
			}
			if eventCollector != nil {
				streamCollector.Stop()
				eventCollector.Stop()
			}
			cancel()

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
		})
	})

	cli.Root().Use = "hlsrelay"
	cli.Root().Short = "Supervise ffmpeg HLS relays of remote streams"

	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateHousekeepCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
