// Package buffer pre-fetches a network stream into a bounded cache file so
// playback can read from a local, partially buffered source.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	CacheFileName      = "stream.cache"
	ChunkSize          = 8 * 1024
	DefaultStopTimeout = 5 * time.Second
	DefaultReadTimeout = 10 * time.Second
)

var (
	// ErrNetwork wraps every connect, status and read failure of the stream.
	ErrNetwork = errors.New("network failure")
	// ErrTeardownTimeout is returned by Stop when the writer did not exit in time.
	// The buffer is considered stopped anyway.
	ErrTeardownTimeout = errors.New("stream buffer teardown timed out")
	// ErrPathBusy is returned by Start when another buffer writes to the same cache file.
	ErrPathBusy = errors.New("cache file is in use by another stream buffer")
	// ErrActive is returned by Clear while the writer may still hold the file open.
	ErrActive = errors.New("stream buffer is active")
)

// StatusError reports a non-200 response from the stream server.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream returned status %d: %s", e.StatusCode, e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrNetwork
}

// Cache paths with a live writer. Start claims a path, Stop releases it.
var (
	claimsMu sync.Mutex
	claims   = make(map[string]struct{})
)

func claim(path string) bool {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if _, ok := claims[path]; ok {
		return false
	}
	claims[path] = struct{}{}
	return true
}

func release(path string) {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	delete(claims, path)
}

// CachePath returns the cache file used for cacheDir.
func CachePath(cacheDir string) string {
	return filepath.Join(cacheDir, CacheFileName)
}

// RemoveStale deletes a cache file left behind by a previous process.
// It does nothing if a buffer in this process owns the file.
func RemoveStale(cacheDir string) error {
	path := CachePath(cacheDir)
	if !claim(path) {
		return nil
	}
	defer release(path)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale cache file: %w", err)
	}
	return nil
}

// Options configures a StreamBuffer. Zero values use the package defaults.
type Options struct {
	Client      *http.Client
	StopTimeout time.Duration
	ReadTimeout time.Duration
	UserAgent   string
}

// Stats describes the writer's progress.
type Stats struct {
	BytesWritten int64
	Truncations  int64
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	active atomic.Bool
}

// StreamBuffer writes one stream into one cache file from a background goroutine.
type StreamBuffer struct {
	client      *http.Client
	stopTimeout time.Duration
	readTimeout time.Duration
	userAgent   string

	mu   sync.Mutex
	path string
	task *task

	bytesWritten atomic.Int64
	truncations  atomic.Int64
}

func New(opts Options) *StreamBuffer {
	b := &StreamBuffer{
		client:      opts.Client,
		stopTimeout: opts.StopTimeout,
		readTimeout: opts.ReadTimeout,
		userAgent:   opts.UserAgent,
	}
	if b.client == nil {
		b.client = newStreamClient()
	}
	if b.stopTimeout <= 0 {
		b.stopTimeout = DefaultStopTimeout
	}
	if b.readTimeout <= 0 {
		b.readTimeout = DefaultReadTimeout
	}
	return b
}

func newStreamClient() *http.Client {
	return &http.Client{
		Timeout: 0, // Streams are long-lived; reads are bounded by the context reader
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}
}

// Start creates or truncates the cache file and begins buffering url in the
// background. It returns once the file is ready; network failures are only logged.
func (b *StreamBuffer) Start(url string, capacity int64, cacheDir string) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid buffer capacity %d", capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.task != nil {
		return fmt.Errorf("stream buffer already started for %s", b.path)
	}

	path := CachePath(cacheDir)
	if !claim(path) {
		return fmt.Errorf("%s: %w", path, ErrPathBusy)
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		release(path)
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		release(path)
		return fmt.Errorf("failed to create cache file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	t.active.Store(true)

	b.path = path
	b.task = t
	b.bytesWritten.Store(0)
	b.truncations.Store(0)

	go b.run(ctx, t, file, url, capacity)

	log.Debug().Str("url", url).Str("file", path).Int64("capacity", capacity).Msg("Stream buffering started")
	return nil
}

func (b *StreamBuffer) run(ctx context.Context, t *task, file *os.File, url string, capacity int64) {
	defer close(t.done)
	defer file.Close()

	err := b.fill(ctx, file, url, capacity)
	t.active.Store(false)

	switch {
	case ctx.Err() != nil:
		log.Debug().Msg("Stream buffering cancelled")
	case err != nil:
		log.Error().Err(err).Str("url", url).Msg("Stream buffering failed")
	default:
		log.Debug().Str("url", url).Msg("Stream ended, buffering stopped")
	}
}

func (b *StreamBuffer) fill(ctx context.Context, file *os.File, url string, capacity int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}
	// Raw audio only, no interleaved ICY blocks
	req.Header.Set("Icy-MetaData", "0")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body := &contextReader{reader: resp.Body, ctx: ctx, timeout: b.readTimeout}
	chunk := make([]byte, ChunkSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, readErr := body.Read(chunk)
		if n > 0 && ctx.Err() == nil {
			if err := b.write(file, chunk[:n], capacity); err != nil {
				return err
			}
		}

		if readErr != nil {
			if ctx.Err() != nil || errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrNetwork, readErr)
		}
	}
}

// write appends p and truncates the whole file once it grows past capacity.
// The file restarts from offset 0; it is not a sliding window.
func (b *StreamBuffer) write(file *os.File, p []byte, capacity int64) error {
	if _, err := file.Write(p); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	b.bytesWritten.Add(int64(len(p)))

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat cache file: %w", err)
	}
	if info.Size() <= capacity {
		return nil
	}

	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate cache file: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind cache file: %w", err)
	}
	b.truncations.Add(1)
	log.Debug().Int64("size", info.Size()).Int64("capacity", capacity).Msg("Cache file over capacity, truncated")
	return nil
}

// Stop cancels the writer and waits for it to exit, up to the stop timeout.
// On timeout the writer is abandoned, the buffer is marked stopped and
// ErrTeardownTimeout is returned. Stop is idempotent.
func (b *StreamBuffer) Stop() error {
	b.mu.Lock()
	t := b.task
	path := b.path
	b.task = nil
	b.mu.Unlock()

	if t == nil {
		return nil
	}

	t.cancel()
	defer release(path)

	timer := time.NewTimer(b.stopTimeout)
	defer timer.Stop()

	select {
	case <-t.done:
		stats := b.Stats()
		log.Debug().
			Str("file", path).
			Int64("bytes", stats.BytesWritten).
			Int64("truncations", stats.Truncations).
			Msg("Stream buffering stopped")
		return nil
	case <-timer.C:
		t.active.Store(false)
		log.Warn().Str("file", path).Dur("timeout", b.stopTimeout).Msg("Stream buffer did not stop in time, abandoning writer")
		return ErrTeardownTimeout
	}
}

// Clear removes the cache file. It must be called after Stop.
func (b *StreamBuffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.task != nil {
		return ErrActive
	}
	if b.path == "" {
		return nil
	}
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// IsActive reports whether the writer is running: true after Start until
// Stop or a terminal network or file error.
func (b *StreamBuffer) IsActive() bool {
	b.mu.Lock()
	t := b.task
	b.mu.Unlock()
	return t != nil && t.active.Load()
}

func (b *StreamBuffer) Stats() Stats {
	return Stats{
		BytesWritten: b.bytesWritten.Load(),
		Truncations:  b.truncations.Load(),
	}
}

// contextReader bounds every read by a timeout and the context, so a stalled
// socket cannot block shutdown. The spawned read goroutine exits with the body.
type contextReader struct {
	reader  io.Reader
	ctx     context.Context
	timeout time.Duration
}

func (cr *contextReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}

	timer := time.NewTimer(cr.timeout)
	defer timer.Stop()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := cr.reader.Read(p)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("read timeout: no data received for %v", cr.timeout)
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	}
}
