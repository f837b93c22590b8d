// Package variant picks the highest-bandwidth rendition of a multi-variant
// HLS source.
package variant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/livepeer/m3u8"
	"github.com/smazurov/hlsrelay/internal/version"
)

// ErrTooManyRedirects is returned when the source redirects more than
// MaxRedirects times.
var ErrTooManyRedirects = errors.New("too many redirects")

const (
	defaultMaxRedirects = 5
	defaultTimeout      = 10 * time.Second
	maxPlaylistBytes    = 2 << 20
)

// Result is the outcome of a resolution.
type Result struct {
	URL        string // variant URL, or the input URL when nothing was selected
	Resolution string // declared RESOLUTION of the chosen variant
	Bandwidth  uint32
	Selected   bool
}

// Options configures a Selector.
type Options struct {
	MaxRedirects int
	Timeout      time.Duration
	Logger       *slog.Logger
	Transport    http.RoundTripper
}

// Selector fetches source playlists over HTTP.
type Selector struct {
	client       *http.Client
	maxRedirects int
	logger       *slog.Logger
}

// NewSelector creates a selector.
func NewSelector(opts Options) *Selector {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Selector{maxRedirects: opts.MaxRedirects, logger: opts.Logger}
	s.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: opts.Transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > s.maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
	return s
}

// Resolve returns the highest-bandwidth variant of rawURL when it is a
// master playlist. Any other successfully fetched document yields rawURL with
// Selected false. Fetch failures are returned as errors together with the
// unchanged URL so callers can fall back.
func (s *Selector) Resolve(ctx context.Context, rawURL string) (Result, error) {
	unchanged := Result{URL: rawURL}

	base, err := url.Parse(rawURL)
	if err != nil {
		return unchanged, fmt.Errorf("parse source url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return unchanged, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return unchanged, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrTooManyRedirects) {
			return unchanged, ErrTooManyRedirects
		}
		return unchanged, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unchanged, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return unchanged, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if !strings.Contains(string(body), "#EXT-X-STREAM-INF") {
		return unchanged, nil
	}

	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(string(body)), false)
	if err != nil || listType != m3u8.MASTER {
		s.logger.Debug("Source is not a parsable master playlist", "url", rawURL, "error", err)
		return unchanged, nil
	}

	best := pickHighest(pl.(*m3u8.MasterPlaylist).Variants)
	if best == nil {
		return unchanged, nil
	}

	// Relative URIs resolve against the post-redirect location.
	final := resp.Request.URL
	ref, err := url.Parse(strings.TrimSpace(best.URI))
	if err != nil {
		return unchanged, nil
	}

	result := Result{
		URL:        final.ResolveReference(ref).String(),
		Resolution: best.Resolution,
		Bandwidth:  best.Bandwidth,
		Selected:   true,
	}
	s.logger.Info("Selected source variant",
		"url", rawURL,
		"variant", result.URL,
		"bandwidth", result.Bandwidth,
		"resolution", result.Resolution)
	return result, nil
}

// pickHighest returns the variant with the largest bandwidth, the first one
// on ties.
func pickHighest(variants []*m3u8.Variant) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}
