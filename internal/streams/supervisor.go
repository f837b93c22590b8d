package streams

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/smazurov/hlsrelay/internal/events"
	"github.com/smazurov/hlsrelay/internal/ffmpeg"
	"github.com/smazurov/hlsrelay/internal/logging"
	"github.com/smazurov/hlsrelay/internal/process"
	"github.com/smazurov/hlsrelay/internal/variant"
)

// MediaInspector probes sources and produced segments.
type MediaInspector interface {
	TestSource(ctx context.Context, url string) error
	ProbeFile(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// VariantResolver picks a concrete rendition of a multi-variant source.
type VariantResolver interface {
	Resolve(ctx context.Context, url string) (variant.Result, error)
}

// PreviewCapturer grabs a still image from a stream's playlist.
type PreviewCapturer interface {
	Capture(ctx context.Context, playlistPath, outputPath string) error
}

// Config holds supervisor tunables. Zero values take the defaults.
type Config struct {
	HLSDir     string
	PreviewDir string
	FFmpegPath string
	HLS        ffmpeg.HLSOptions

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	StopTimeout  time.Duration // grace before a stopping transcoder is killed
	RestartDelay time.Duration

	MonitorInterval       time.Duration
	PreviewInterval       time.Duration
	SegmentCheckInterval  time.Duration
	StaleSegmentFactor    int // stale threshold in segment durations
	StaleRestartThreshold int // consecutive unhealthy checks before a forced reconnect
	ResolutionDelay       time.Duration
	AnalysisDelay         time.Duration
	SourceProbeTimeout    time.Duration
	SourceProbeCooldown   time.Duration
	ResolveTimeout        time.Duration

	ResumeOnBoot bool
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		HLSDir:                "data/hls",
		PreviewDir:            "data/previews",
		FFmpegPath:            "ffmpeg",
		HLS:                   ffmpeg.DefaultHLSOptions(),
		MaxReconnectAttempts:  10,
		ReconnectBaseDelay:    5 * time.Second,
		ReconnectMaxDelay:     60 * time.Second,
		StopTimeout:           5 * time.Second,
		RestartDelay:          time.Second,
		MonitorInterval:       time.Second,
		PreviewInterval:       30 * time.Second,
		SegmentCheckInterval:  15 * time.Second,
		StaleSegmentFactor:    3,
		StaleRestartThreshold: 3,
		ResolutionDelay:       5 * time.Second,
		AnalysisDelay:         10 * time.Second,
		SourceProbeTimeout:    10 * time.Second,
		SourceProbeCooldown:   60 * time.Second,
		ResolveTimeout:        10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HLSDir == "" {
		c.HLSDir = d.HLSDir
	}
	if c.PreviewDir == "" {
		c.PreviewDir = d.PreviewDir
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.HLS.SegmentDuration <= 0 {
		c.HLS.SegmentDuration = d.HLS.SegmentDuration
	}
	if c.HLS.ListSize <= 0 {
		c.HLS.ListSize = d.HLS.ListSize
	}
	if c.HLS.VideoCodec == "" {
		c.HLS.VideoCodec = d.HLS.VideoCodec
	}
	if c.HLS.AudioCodec == "" {
		c.HLS.AudioCodec = d.HLS.AudioCodec
	}
	setDefault(&c.MaxReconnectAttempts, d.MaxReconnectAttempts)
	setDefault(&c.StaleSegmentFactor, d.StaleSegmentFactor)
	setDefault(&c.StaleRestartThreshold, d.StaleRestartThreshold)
	setDefault(&c.ReconnectBaseDelay, d.ReconnectBaseDelay)
	setDefault(&c.ReconnectMaxDelay, d.ReconnectMaxDelay)
	setDefault(&c.StopTimeout, d.StopTimeout)
	setDefault(&c.RestartDelay, d.RestartDelay)
	setDefault(&c.MonitorInterval, d.MonitorInterval)
	setDefault(&c.PreviewInterval, d.PreviewInterval)
	setDefault(&c.SegmentCheckInterval, d.SegmentCheckInterval)
	setDefault(&c.ResolutionDelay, d.ResolutionDelay)
	setDefault(&c.AnalysisDelay, d.AnalysisDelay)
	setDefault(&c.SourceProbeTimeout, d.SourceProbeTimeout)
	setDefault(&c.SourceProbeCooldown, d.SourceProbeCooldown)
	setDefault(&c.ResolveTimeout, d.ResolveTimeout)
	return c
}

func setDefault[T int | time.Duration](v *T, def T) {
	if *v <= 0 {
		*v = def
	}
}

// Options wires a Supervisor's collaborators.
type Options struct {
	Store     Store
	Launcher  process.Launcher
	Inspector MediaInspector
	Resolver  VariantResolver
	Capturer  PreviewCapturer
	EventBus  *events.Bus
	Config    Config
}

// entry is the in-memory state of one stream.
type entry struct {
	rec    *StreamRecord
	handle process.Handle
	// stopping is the handle of the last explicit stop, awaited by the next
	// start so two transcoders never write the same directory.
	stopping process.Handle
	// run increments on every start, stop, exit and delete; callbacks carry
	// the value they were created under and bail out when it moved on.
	run              uint64
	timers           *timerBundle
	reconnect        reconnectState
	lastSegmentCheck *SegmentCheck
	unhealthyChecks  int
}

// Supervisor owns every stream record and its transcoder subprocess.
type Supervisor struct {
	mu      sync.Mutex
	entries map[string]*entry

	store     Store
	launcher  process.Launcher
	inspector MediaInspector
	resolver  VariantResolver
	capturer  PreviewCapturer
	eventBus  *events.Bus
	cfg       Config

	probeCooldown *cache.Cache
	logger        *slog.Logger
	ffmpegLogger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSupervisor creates a supervisor. Call Load before use.
func NewSupervisor(opts Options) *Supervisor {
	cfg := opts.Config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		entries:       make(map[string]*entry),
		store:         opts.Store,
		launcher:      opts.Launcher,
		inspector:     opts.Inspector,
		resolver:      opts.Resolver,
		capturer:      opts.Capturer,
		eventBus:      opts.EventBus,
		cfg:           cfg,
		probeCooldown: cache.New(cfg.SourceProbeCooldown, 5*time.Minute),
		logger:        logging.GetLogger("streams"),
		ffmpegLogger:  logging.GetLogger("ffmpeg"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Load reads persisted records. A store failure degrades to an empty
// in-memory configuration and nothing is written back. Streams that were
// running when the process last exited are reset to stopped, and started
// again when ResumeOnBoot is set.
func (s *Supervisor) Load() {
	if err := s.store.Load(); err != nil {
		s.logger.Error("Failed to load stream configuration, starting empty", "error", err)
		return
	}

	var resume []string
	s.mu.Lock()
	records := s.store.List()
	normalized := make([]StreamRecord, 0, len(records))
	for _, rec := range records {
		r := rec
		if !validStreamID(r.ID) {
			s.logger.Warn("Dropping persisted stream with invalid id", "stream_id", r.ID)
			continue
		}
		if r.Status == StatusRunning || r.Status == StatusStarting {
			resume = append(resume, r.ID)
		}
		s.normalize(&r)
		s.entries[r.ID] = s.newEntry(&r)
		normalized = append(normalized, r.Clone())
	}
	if err := s.store.Replace(normalized); err != nil {
		s.logger.Error("Failed to persist normalized streams", "error", err)
	}
	s.mu.Unlock()

	s.logger.Info("Loaded streams", "count", len(s.entries), "previously_running", len(resume))

	if !s.cfg.ResumeOnBoot {
		return
	}
	for _, id := range resume {
		go func(id string) {
			if err := s.Start(s.ctx, id); err != nil {
				s.logger.Error("Failed to resume stream", "stream_id", id, "error", err)
			}
		}(id)
	}
}

// normalize resets runtime-only state of a record entering the supervisor.
func (s *Supervisor) normalize(r *StreamRecord) {
	r.Status = StatusStopped
	r.Health = HealthUnknown
	r.Stats.Uptime = 0
	r.HLSPath = filepath.Join(s.cfg.HLSDir, r.ID)
	if r.OriginalURL == "" {
		r.OriginalURL = r.URL
	}
	if r.URL == "" {
		r.URL = r.OriginalURL
	}
	d := &r.Diagnostics
	d.MaxReconnectAttempts = s.cfg.MaxReconnectAttempts
	d.ReconnectAttempt = 0
	d.NextReconnectTime = nil
	d.SourceCheckInProgress = false
	if d.HealthCheckStatus == HealthCheckMaxReconnect {
		d.HealthCheckStatus = ""
	}
}

func (s *Supervisor) newEntry(r *StreamRecord) *entry {
	return &entry{
		rec: r,
		reconnect: reconnectState{
			backoff: newBackOff(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay),
		},
	}
}

// current returns the entry for id when its run token still equals run.
// Caller holds s.mu.
func (s *Supervisor) current(id string, run uint64) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok || e.run != run {
		return nil, false
	}
	return e, true
}

// CreateParams are the inputs of Create.
type CreateParams struct {
	Name string
	URL  string
}

// UpdateParams are the inputs of Update; nil fields are left unchanged.
type UpdateParams struct {
	Name *string
	URL  *string
}

// Create adds a stopped stream.
func (s *Supervisor) Create(_ context.Context, params CreateParams) (*StreamRecord, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, errInvalid("name is required")
	}
	sourceURL := strings.TrimSpace(params.URL)
	if err := validateSourceURL(sourceURL); err != nil {
		return nil, err
	}

	now := time.Now()
	id := uuid.NewString()
	rec := &StreamRecord{
		ID:          id,
		Name:        name,
		URL:         sourceURL,
		OriginalURL: sourceURL,
		CreatedAt:   now,
		UpdatedAt:   now,
		Errors:      ErrorHistory{ByType: make(map[ErrorCategory]int)},
	}
	s.normalize(rec)

	s.mu.Lock()
	e := s.newEntry(rec)
	s.entries[id] = e
	if err := s.store.Put(rec.Clone()); err != nil {
		delete(s.entries, id)
		s.mu.Unlock()
		return nil, errInternal("failed to save stream", err)
	}
	out := rec.Clone()
	s.mu.Unlock()

	s.logger.Info("Stream created", "stream_id", id, "name", name, "url", sourceURL)
	s.publish(events.StreamCreatedEvent{StreamID: id, Name: name, Timestamp: now.Format(time.RFC3339)})
	return &out, nil
}

// Get returns a copy of one record.
func (s *Supervisor) Get(_ context.Context, id string) (*StreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, errNotFound(id)
	}
	out := e.rec.Clone()
	return &out, nil
}

// List returns copies of all records ordered by creation time.
func (s *Supervisor) List(_ context.Context) []StreamRecord {
	s.mu.Lock()
	out := make([]StreamRecord, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.rec.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b StreamRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Update changes a stream's name or source. A running stream whose source
// changed is restarted.
func (s *Supervisor) Update(ctx context.Context, id string, params UpdateParams) (*StreamRecord, error) {
	var name, sourceURL string
	if params.Name != nil {
		name = strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, errInvalid("name must not be empty")
		}
	}
	if params.URL != nil {
		sourceURL = strings.TrimSpace(*params.URL)
		if err := validateSourceURL(sourceURL); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, errNotFound(id)
	}
	if name != "" {
		e.rec.Name = name
	}
	urlChanged := sourceURL != "" && sourceURL != e.rec.OriginalURL
	if urlChanged {
		e.rec.OriginalURL = sourceURL
		e.rec.URL = sourceURL
		e.rec.SelectedResolution = ""
		e.rec.StreamInfo = StreamInfo{}
	}
	e.rec.UpdatedAt = time.Now()
	restart := urlChanged && (e.rec.Status == StatusRunning || e.rec.Status == StatusStarting)
	s.persist(e)
	s.mu.Unlock()

	s.publish(events.StreamUpdatedEvent{StreamID: id, Timestamp: time.Now().Format(time.RFC3339)})

	if restart {
		s.logger.Info("Source changed, restarting stream", "stream_id", id)
		if err := s.Restart(ctx, id); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// Delete stops the stream, removes its record, segment directory and preview.
func (s *Supervisor) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return errNotFound(id)
	}
	handle := s.detach(e)
	delete(s.entries, id)
	if err := s.store.Delete(id); err != nil {
		s.logger.Error("Failed to persist stream deletion", "stream_id", id, "error", err)
	}
	hlsPath := e.rec.HLSPath
	s.mu.Unlock()

	s.probeCooldown.Delete(id)
	if handle != nil {
		handle.Stop(s.cfg.StopTimeout)
	}

	if err := os.RemoveAll(hlsPath); err != nil {
		s.logger.Warn("Failed to remove segment directory", "stream_id", id, "path", hlsPath, "error", err)
	}
	if err := os.Remove(s.PreviewPath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove preview", "stream_id", id, "error", err)
	}

	s.logger.Info("Stream deleted", "stream_id", id)
	s.publish(events.StreamDeletedEvent{StreamID: id, Timestamp: time.Now().Format(time.RFC3339)})
	return nil
}

// PreviewPath is where the preview image of id is written.
func (s *Supervisor) PreviewPath(id string) string {
	return filepath.Join(s.cfg.PreviewDir, id+".jpg")
}

// IDs returns the configured stream ids and whether each is running.
func (s *Supervisor) IDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.rec.Status == StatusRunning
	}
	return out
}

// Shutdown stops every transcoder and waits for them to exit. Persisted
// statuses are left as they are so that ResumeOnBoot can restart them.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.cancel()

	s.mu.Lock()
	var handles []process.Handle
	for _, e := range s.entries {
		if h := s.detach(e); h != nil {
			handles = append(handles, h)
		}
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop(s.cfg.StopTimeout)
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			s.logger.Warn("Shutdown deadline reached with transcoders still running", "remaining", len(handles))
			return
		}
	}
	s.logger.Info("All transcoders stopped", "count", len(handles))
}

// detach invalidates the current run and returns its handle, if any.
// Caller holds s.mu.
func (s *Supervisor) detach(e *entry) process.Handle {
	e.run++
	if e.timers != nil {
		e.timers.cancel()
		e.timers = nil
	}
	e.reconnect.cancelTimer()
	h := e.handle
	e.handle = nil
	return h
}

// persist saves e's record. Caller holds s.mu, which keeps saves ordered.
func (s *Supervisor) persist(e *entry) {
	if err := s.store.Put(e.rec.Clone()); err != nil {
		s.logger.Error("Failed to persist stream", "stream_id", e.rec.ID, "error", err)
	}
}

func (s *Supervisor) setStatus(e *entry, status Status) {
	old := e.rec.Status
	if old == status {
		return
	}
	e.rec.Status = status
	s.logger.Debug("Stream status changed", "stream_id", e.rec.ID, "from", old, "to", status)
	s.publish(events.StreamStatusChangedEvent{
		StreamID:  e.rec.ID,
		OldStatus: string(old),
		NewStatus: string(status),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Supervisor) setHealth(e *entry, health Health) {
	old := e.rec.Health
	if old == health {
		return
	}
	e.rec.Health = health
	s.publish(events.StreamHealthChangedEvent{
		StreamID:          e.rec.ID,
		OldHealth:         string(old),
		NewHealth:         string(health),
		HealthCheckStatus: e.rec.Diagnostics.HealthCheckStatus,
		Timestamp:         time.Now().Format(time.RFC3339),
	})
}

// recordError appends to the error history and publishes it. Caller holds
// s.mu and is responsible for reclassifying health.
func (s *Supervisor) recordError(e *entry, category ErrorCategory, message string, at time.Time) {
	e.rec.recordError(category, message, at)
	s.publish(events.StreamErrorEvent{
		StreamID:  e.rec.ID,
		Category:  string(category),
		Message:   message,
		Timestamp: at.Format(time.RFC3339),
	})
}

func (s *Supervisor) publish(ev events.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(ev)
	}
}

var streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// validStreamID reports whether id is safe as a single directory name under
// the HLS root. Generated ids are UUIDs; imported ones may be any slug.
func validStreamID(id string) bool {
	return streamIDPattern.MatchString(id)
}

var sourceSchemes = []string{"http", "https", "rtsp", "rtsps", "rtmp", "rtmps", "srt", "udp", "tcp", "file"}

func validateSourceURL(raw string) error {
	if raw == "" {
		return errInvalid("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errInvalid("invalid url: %v", err)
	}
	if !slices.Contains(sourceSchemes, strings.ToLower(u.Scheme)) {
		return errInvalid("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" && u.Path == "" {
		return errInvalid("url %q has no host", raw)
	}
	return nil
}
