// Package modelstore downloads model artifacts into a local cache directory
// and reports per-file progress in the shape clients already understand
// (initiate, download, progress, done, ready).
//
// Concurrent requests for the same file share one download. Partial files
// are written next to their destination with a ".part" suffix and renamed
// into place only once complete, so a crashed download never leaves a
// truncated model behind.
package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
)

// DefaultConcurrency bounds FetchAll when no limit is configured.
const DefaultConcurrency = 4

// ErrChecksum is returned when a downloaded file does not match its SHA256.
var ErrChecksum = errors.New("modelstore: checksum mismatch")

// File describes one model artifact.
type File struct {
	// Name is the model the file belongs to, e.g. "whisper-base".
	Name string `yaml:"name"`

	// Path is the location inside the cache directory.
	Path string `yaml:"path"`

	// URL is where the file is downloaded from.
	URL string `yaml:"url"`

	// SHA256 is the optional hex digest the download must match.
	SHA256 string `yaml:"sha256"`
}

// ProgressFunc receives progress events. It may be called from several
// goroutines during FetchAll.
type ProgressFunc func(protocol.ProgressInfo)

// Option configures a [Store].
type Option func(*Store)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithConcurrency sets how many files FetchAll downloads at once.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Store is a download cache rooted at a directory. It is safe for
// concurrent use.
type Store struct {
	dir         string
	client      *http.Client
	concurrency int
	group       singleflight.Group
}

// New returns a Store caching files under dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, client: http.DefaultClient, concurrency: DefaultConcurrency}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute cache location of f.
func (s *Store) Path(f File) string {
	return filepath.Join(s.dir, filepath.FromSlash(f.Path))
}

// Cached reports whether f is already present in the cache.
func (s *Store) Cached(f File) bool {
	st, err := os.Stat(s.Path(f))
	return err == nil && st.Mode().IsRegular()
}

// Fetch makes sure f is in the cache and returns its path. A cached file
// reports done without touching the network.
func (s *Store) Fetch(ctx context.Context, f File, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(protocol.ProgressInfo) {}
	}
	if err := validate(f); err != nil {
		return "", err
	}
	dst := s.Path(f)
	progress(protocol.ProgressInfo{Status: protocol.ProgressInitiate, Name: f.Name, File: f.Path})

	if !s.Cached(f) {
		_, err, _ := s.group.Do(dst, func() (any, error) {
			if s.Cached(f) {
				return nil, nil
			}
			return nil, s.download(ctx, f, dst, progress)
		})
		if err != nil {
			return "", err
		}
	}

	progress(protocol.ProgressInfo{Status: protocol.ProgressDone, Name: f.Name, File: f.Path, Progress: 100})
	return dst, nil
}

// FetchAll fetches files concurrently, then reports ready once per model.
func (s *Store) FetchAll(ctx context.Context, files []File, progress ProgressFunc) error {
	if progress == nil {
		progress = func(protocol.ProgressInfo) {}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, f := range files {
		g.Go(func() error {
			_, err := s.Fetch(gctx, f, progress)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, f := range files {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		progress(protocol.ProgressInfo{Status: protocol.ProgressReady, Name: f.Name})
	}
	return nil
}

// Preparer adapts FetchAll to the worker load hook.
func (s *Store) Preparer(files []File) worker.Preparer {
	if len(files) == 0 {
		return nil
	}
	return func(ctx context.Context, progress func(protocol.ProgressInfo)) error {
		return s.FetchAll(ctx, files, progress)
	}
}

func (s *Store) download(ctx context.Context, f File, dst string, progress ProgressFunc) error {
	progress(protocol.ProgressInfo{Status: protocol.ProgressDownload, Name: f.Name, File: f.Path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("modelstore: build request for %s: %w", f.Path, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("modelstore: fetch %s: %w", f.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("modelstore: fetch %s: unexpected status %d", f.Path, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("modelstore: create cache dir: %w", err)
	}
	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("modelstore: create %s: %w", part, err)
	}

	h := sha256.New()
	pr := &progressReader{
		r:        resp.Body,
		total:    resp.ContentLength,
		report:   progress,
		template: protocol.ProgressInfo{Status: protocol.ProgressProgress, Name: f.Name, File: f.Path},
	}
	_, copyErr := io.Copy(io.MultiWriter(out, h), pr)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("modelstore: write %s: %w", f.Path, err)
	}

	if f.SHA256 != "" {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, f.SHA256) {
			_ = os.Remove(part)
			return fmt.Errorf("%w: %s has %s", ErrChecksum, f.Path, got)
		}
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("modelstore: finalize %s: %w", f.Path, err)
	}
	slog.Debug("modelstore: downloaded", "file", f.Path, "bytes", pr.loaded)
	return nil
}

func validate(f File) error {
	if f.Path == "" || f.URL == "" {
		return fmt.Errorf("modelstore: file %q needs both path and url", f.Name)
	}
	clean := filepath.Clean(filepath.FromSlash(f.Path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("modelstore: path %q escapes the cache directory", f.Path)
	}
	return nil
}

// progressReader reports progress at most once per whole percent. Without a
// known length it reports every megabyte.
type progressReader struct {
	r        io.Reader
	total    int64
	loaded   int64
	last     int64
	report   ProgressFunc
	template protocol.ProgressInfo
}

const unknownLengthStep = 1 << 20

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.loaded += int64(n)
	if n > 0 {
		p.maybeReport(err == io.EOF)
	}
	return n, err
}

func (p *progressReader) maybeReport(final bool) {
	info := p.template
	info.Loaded = p.loaded
	if p.total > 0 {
		pct := p.loaded * 100 / p.total
		if pct == p.last && !final {
			return
		}
		p.last = pct
		info.Total = p.total
		info.Progress = float64(p.loaded) * 100 / float64(p.total)
	} else {
		if p.loaded-p.last < unknownLengthStep && !final {
			return
		}
		p.last = p.loaded
	}
	p.report(info)
}
