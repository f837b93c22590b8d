package streams

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/hlsrelay/internal/ffmpeg"
	"github.com/smazurov/hlsrelay/internal/process"
	"github.com/smazurov/hlsrelay/internal/variant"
)

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	records map[string]StreamRecord
	puts    int
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]StreamRecord)}
}

func (m *memStore) Load() error { return m.loadErr }

func (m *memStore) Get(id string) (StreamRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *memStore) List() []StreamRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StreamRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}

func (m *memStore) Put(rec StreamRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	m.puts++
	return nil
}

func (m *memStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memStore) Replace(records []StreamRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]StreamRecord)
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

// fakeHandle is a process.Handle that exits when told to.
type fakeHandle struct {
	pid    int
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	status process.ExitStatus
	stops  atomic.Int32
	// linger keeps the handle alive after Stop, like a transcoder still
	// flushing its last segment.
	linger bool
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int               { return h.pid }
func (h *fakeHandle) Signal(os.Signal) error { return nil }
func (h *fakeHandle) Done() <-chan struct{}  { return h.done }

func (h *fakeHandle) Stop(time.Duration) {
	h.stops.Add(1)
	if h.linger {
		return
	}
	h.exit(process.ExitStatus{Code: -1, Signal: "interrupt"})
}

func (h *fakeHandle) ExitStatus() process.ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) exit(status process.ExitStatus) {
	h.once.Do(func() {
		h.mu.Lock()
		h.status = status
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *fakeHandle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// fakeLauncher records launches. onLaunch, if set, runs before the handle is
// returned (for example to write segment files into spec.Dir).
type fakeLauncher struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	specs    []process.Spec
	err      error
	linger   bool
	onLaunch func(spec process.Spec)
}

func (l *fakeLauncher) Launch(_ context.Context, spec process.Spec) (process.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	if l.onLaunch != nil {
		l.onLaunch(spec)
	}
	h := newFakeHandle(1000 + len(l.handles))
	h.linger = l.linger
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.specs)
}

func (l *fakeLauncher) spec(i int) process.Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[i]
}

func (l *fakeLauncher) setLinger(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.linger = v
}

func (l *fakeLauncher) last() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handles) == 0 {
		return nil
	}
	return l.handles[len(l.handles)-1]
}

func (l *fakeLauncher) alive() []*fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*fakeHandle
	for _, h := range l.handles {
		if h.alive() {
			out = append(out, h)
		}
	}
	return out
}

// fakeInspector answers source probes with sourceErr and segment probes with
// probe.
type fakeInspector struct {
	mu        sync.Mutex
	sourceErr error
	probe     *ffmpeg.ProbeResult
	tests     int
}

func (f *fakeInspector) TestSource(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests++
	return f.sourceErr
}

func (f *fakeInspector) ProbeFile(context.Context, string) (*ffmpeg.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probe == nil {
		return nil, errors.New("no probe data")
	}
	return f.probe, nil
}

type fakeResolver struct {
	result variant.Result
	err    error
}

func (f fakeResolver) Resolve(_ context.Context, url string) (variant.Result, error) {
	if f.err != nil {
		return variant.Result{URL: url}, f.err
	}
	if !f.result.Selected {
		return variant.Result{URL: url}, nil
	}
	return f.result, nil
}

type fakeCapturer struct {
	calls atomic.Int32
}

func (f *fakeCapturer) Capture(_ context.Context, _, out string) error {
	f.calls.Add(1)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("jpeg"), 0o644)
}

// testConfig keeps every periodic job out of the way unless a test opts in.
func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.HLSDir = filepath.Join(root, "hls")
	cfg.PreviewDir = filepath.Join(root, "previews")
	cfg.RestartDelay = time.Millisecond
	cfg.StopTimeout = 50 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	cfg.MonitorInterval = time.Hour
	cfg.PreviewInterval = time.Hour
	cfg.SegmentCheckInterval = time.Hour
	cfg.ResolutionDelay = time.Hour
	cfg.AnalysisDelay = time.Hour
	return cfg
}

type harness struct {
	sup       *Supervisor
	store     *memStore
	launcher  *fakeLauncher
	inspector *fakeInspector
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		launcher:  &fakeLauncher{},
		inspector: &fakeInspector{},
	}
	h.sup = NewSupervisor(Options{
		Store:     h.store,
		Launcher:  h.launcher,
		Inspector: h.inspector,
		Resolver:  fakeResolver{},
		Capturer:  &fakeCapturer{},
		Config:    cfg,
	})
	h.sup.Load()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.sup.Shutdown(ctx)
	})
	return h
}

func (h *harness) create(t *testing.T, url string) string {
	t.Helper()
	rec, err := h.sup.Create(context.Background(), CreateParams{Name: "cam", URL: url})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec.ID
}

func (h *harness) get(t *testing.T, id string) *StreamRecord {
	t.Helper()
	rec, err := h.sup.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return rec
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: "+format, args...)
}

func writeHLSOutput(dir string, segments int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:1\n"
	for i := 1; i <= segments; i++ {
		name := fmt.Sprintf("segment_%05d.ts", i)
		playlist += "#EXTINF:4.000000,\n" + name + "\n"
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, 250_000), 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte(playlist), 0o644)
}
