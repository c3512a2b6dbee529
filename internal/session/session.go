// Package session owns what is playing: the current channel, the play state
// and the metadata pipeline. It drives the engine and the stream buffer on
// every transition and publishes consistent snapshots to a Publisher.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/rs/zerolog/log"
)

const (
	// TitleQueueSize bounds the queue between the engine callback and the session loop.
	TitleQueueSize        = 16
	DefaultResolveTimeout = 10 * time.Second
	DefaultVolume         = 70
)

var (
	ErrClosed       = errors.New("session is closed")
	ErrEmptyCatalog = errors.New("no channels available")
)

type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Snapshot is a copy of the session taken under its lock. Channel is nil iff
// State is Stopped.
type Snapshot struct {
	State      State
	Channel    *station.Station
	Track      metadata.Track
	History    []metadata.HistoryEntry
	Volume     int
	Generation uint64
	LastError  string
}

// Engine plays one stream URL at a time. onTitle is called from the engine's
// own goroutine whenever the inline title changes.
type Engine interface {
	Play(url string, onTitle func(string)) error
	Stop()
	SetPaused(paused bool)
	SetVolume(percent int)
}

// Buffer pre-fetches a stream into the cache file.
type Buffer interface {
	Start(url string, capacity int64, cacheDir string) error
	Stop() error
	Clear() error
	IsActive() bool
}

// Resolver turns a channel's playlist URL into a direct stream URL.
type Resolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// Publisher receives every state and metadata change, in order.
type Publisher interface {
	PublishState(Snapshot)
	PublishMetadata(Snapshot)
}

// Catalog lists the channels Next and Previous cycle through.
type Catalog interface {
	Stations() []station.Station
}

// Deps are the collaborators of a Session. Resolver, Publisher and Catalog are optional.
type Deps struct {
	Engine    Engine
	NewBuffer func() Buffer
	Resolver  Resolver
	Publisher Publisher
	Catalog   Catalog
}

// Options is the session configuration, validated once by New.
type Options struct {
	CacheDir             string
	BufferCapacity       int64
	HistorySize          int
	ResetHistoryOnSwitch bool
	TitleFallback        bool
	ResolveTimeout       time.Duration
	Volume               int
}

type titleEvent struct {
	gen uint64
	raw string
}

type nopPublisher struct{}

func (nopPublisher) PublishState(Snapshot)    {}
func (nopPublisher) PublishMetadata(Snapshot) {}

type Session struct {
	engine    Engine
	newBuffer func() Buffer
	resolver  Resolver
	publisher Publisher
	catalog   Catalog
	opts      Options

	// opMu serializes transitions. Only the goroutine holding it touches buf.
	opMu sync.Mutex
	buf  Buffer

	// pubMu keeps publishes in the same order as the mutations they report.
	pubMu sync.Mutex

	mu           sync.Mutex
	state        State
	channel      *station.Station
	lastChannel  *station.Station
	pipeline     *metadata.Pipeline
	volume       int
	generation   uint64
	activeGen    uint64
	pendingTitle string
	lastError    string
	closed       bool

	titles chan titleEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func New(deps Deps, opts Options) (*Session, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("session requires an engine")
	}
	if deps.NewBuffer == nil {
		return nil, fmt.Errorf("session requires a buffer factory")
	}
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("session requires a cache directory")
	}
	if opts.BufferCapacity <= 0 {
		return nil, fmt.Errorf("invalid buffer capacity %d", opts.BufferCapacity)
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.Volume < 0 || opts.Volume > 100 {
		opts.Volume = DefaultVolume
	}

	publisher := deps.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		engine:    deps.Engine,
		newBuffer: deps.NewBuffer,
		resolver:  deps.Resolver,
		publisher: publisher,
		catalog:   deps.Catalog,
		opts:      opts,
		pipeline: metadata.NewPipeline(metadata.Options{
			HistorySize:            opts.HistorySize,
			FallbackToChannelTitle: opts.TitleFallback,
		}),
		volume: opts.Volume,
		titles: make(chan titleEvent, TitleQueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.engine.SetVolume(opts.Volume)

	go s.loop(ctx)
	return s, nil
}

// loop is the single writer for engine-driven metadata changes.
func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.titles:
			s.applyTitle(ev)
		}
	}
}

// titleCallback returns the engine callback for generation gen. It never blocks.
func (s *Session) titleCallback(gen uint64) func(string) {
	return func(raw string) {
		select {
		case s.titles <- titleEvent{gen: gen, raw: raw}:
		default:
			log.Warn().Str("title", raw).Msg("Title queue full, dropping stream title")
		}
	}
}

func (s *Session) applyTitle(ev titleEvent) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if ev.gen != s.generation {
		s.mu.Unlock()
		log.Debug().Uint64("gen", ev.gen).Str("title", ev.raw).Msg("Dropping title of superseded channel")
		return
	}
	if ev.gen != s.activeGen {
		// Engine is up but the switch is not committed yet.
		s.pendingTitle = ev.raw
		s.mu.Unlock()
		return
	}
	changed := s.pipeline.OnRawTitle(ev.raw)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.publisher.PublishMetadata(snap)
	}
}

// PlayChannel stops whatever is playing and starts ch. On failure the session
// ends up Stopped with no channel and the error is returned.
func (s *Session) PlayChannel(ch station.Station) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.playChannelLocked(ch)
}

func (s *Session) playChannelLocked(ch station.Station) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// Titles of the old channel are dropped from here on.
	s.generation++
	gen := s.generation
	s.pendingTitle = ""
	s.mu.Unlock()

	log.Debug().Str("channel", ch.ID).Uint64("gen", gen).Msg("Switching channel")

	streamURL, err := s.resolve(ch)
	if err != nil {
		return s.fail(ch, err)
	}

	s.teardownLocked()

	buf := s.newBuffer()
	if err := buf.Start(streamURL, s.opts.BufferCapacity, s.opts.CacheDir); err != nil {
		return s.fail(ch, fmt.Errorf("failed to start stream buffer: %w", err))
	}
	s.buf = buf

	if err := s.engine.Play(streamURL, s.titleCallback(gen)); err != nil {
		return s.fail(ch, fmt.Errorf("failed to start playback: %w", err))
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	channel := ch
	s.state = Playing
	s.channel = &channel
	s.lastChannel = &channel
	s.activeGen = gen
	s.lastError = ""
	s.pipeline.Reset()
	if s.opts.ResetHistoryOnSwitch {
		s.pipeline.ClearHistory()
	}
	s.pipeline.SetChannelTitle(ch.Title)
	if s.pendingTitle != "" {
		s.pipeline.OnRawTitle(s.pendingTitle)
		s.pendingTitle = ""
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Info().Str("channel", ch.ID).Str("url", streamURL).Msg("Channel playing")

	s.publisher.PublishState(snap)
	s.publisher.PublishMetadata(snap)
	return nil
}

func (s *Session) resolve(ch station.Station) (string, error) {
	playlistURL, err := ch.ResolveStreamURL()
	if err != nil {
		return "", err
	}
	if s.resolver == nil {
		return playlistURL, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ResolveTimeout)
	defer cancel()

	streamURL, err := s.resolver.Resolve(ctx, playlistURL)
	if err != nil {
		return "", fmt.Errorf("failed to resolve stream for %s: %w", ch.ID, err)
	}
	return streamURL, nil
}

// fail tears everything down and commits Stopped with the error message.
func (s *Session) fail(ch station.Station, err error) error {
	s.teardownLocked()

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.generation++
	s.state = Stopped
	s.channel = nil
	s.activeGen = 0
	s.pendingTitle = ""
	s.lastError = err.Error()
	s.pipeline.Reset()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Error().Err(err).Str("channel", ch.ID).Msg("Failed to play channel")

	s.publisher.PublishState(snap)
	s.publisher.PublishMetadata(snap)
	return err
}

// teardownLocked stops and removes the buffer, then stops the engine. The
// buffer is fully joined before this returns. Failures are logged only.
func (s *Session) teardownLocked() {
	if s.buf != nil {
		if err := s.buf.Stop(); err != nil {
			log.Warn().Err(err).Msg("Stream buffer teardown")
		}
		if err := s.buf.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear stream buffer")
		}
		s.buf = nil
	}
	s.engine.Stop()
}

// Pause pauses a playing session; otherwise it does nothing.
func (s *Session) Pause() {
	s.setPaused(true)
}

// Resume resumes a paused session; otherwise it does nothing.
func (s *Session) Resume() {
	s.setPaused(false)
}

func (s *Session) setPaused(paused bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setPausedLocked(paused)
}

func (s *Session) setPausedLocked(paused bool) {
	from, to := Playing, Paused
	if !paused {
		from, to = Paused, Playing
	}

	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.engine.SetPaused(paused)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.state = to
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Debug().Str("state", to.String()).Msg("Session state changed")
	s.publisher.PublishState(snap)
}

// TogglePause pauses while playing and resumes while paused. When stopped it
// behaves like Play.
func (s *Session) TogglePause() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.State() {
	case Playing:
		s.setPausedLocked(true)
	case Paused:
		s.setPausedLocked(false)
	default:
		return s.playLocked()
	}
	return nil
}

// Play resumes a paused session, or starts the last played channel (the
// first catalog channel if none) when stopped.
func (s *Session) Play() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.playLocked()
}

func (s *Session) playLocked() error {
	s.mu.Lock()
	state := s.state
	last := s.lastChannel
	s.mu.Unlock()

	switch state {
	case Playing:
		return nil
	case Paused:
		s.setPausedLocked(false)
		return nil
	}

	if last != nil {
		return s.playChannelLocked(*last)
	}

	stations := s.stations()
	if len(stations) == 0 {
		return ErrEmptyCatalog
	}
	return s.playChannelLocked(stations[0])
}

// Stop stops the engine, removes the buffer and commits Stopped.
func (s *Session) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	s.mu.Lock()
	idle := s.state == Stopped && s.channel == nil
	s.generation++
	s.pendingTitle = ""
	s.mu.Unlock()

	s.teardownLocked()
	if idle {
		return
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.state = Stopped
	s.channel = nil
	s.activeGen = 0
	s.pipeline.Reset()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Debug().Msg("Session stopped")

	s.publisher.PublishState(snap)
	s.publisher.PublishMetadata(snap)
}

// Next plays the catalog channel after the current (or last played) one, wrapping around.
func (s *Session) Next() error {
	return s.step(1)
}

// Previous plays the catalog channel before the current (or last played) one, wrapping around.
func (s *Session) Previous() error {
	return s.step(-1)
}

func (s *Session) step(delta int) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	stations := s.stations()
	if len(stations) == 0 {
		return ErrEmptyCatalog
	}

	s.mu.Lock()
	ref := s.channel
	if ref == nil {
		ref = s.lastChannel
	}
	s.mu.Unlock()

	idx := -1
	if ref != nil {
		idx = slices.IndexFunc(stations, func(st station.Station) bool { return st.ID == ref.ID })
	}

	var next int
	switch {
	case idx < 0 && delta > 0:
		next = 0
	case idx < 0:
		next = len(stations) - 1
	default:
		next = (idx + delta + len(stations)) % len(stations)
	}

	return s.playChannelLocked(stations[next])
}

func (s *Session) stations() []station.Station {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Stations()
}

// SetVolume clamps percent to 0..100, applies it to the engine and publishes it.
func (s *Session) SetVolume(percent int) {
	percent = min(max(percent, 0), 100)

	// The engine and the recorded volume change in the same order.
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.engine.SetVolume(percent)

	s.mu.Lock()
	if s.volume == percent {
		s.mu.Unlock()
		return
	}
	s.volume = percent
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publisher.PublishState(snap)
}

// SeedTrack sets an initial track from an out-of-band source, such as the
// songs API. It applies only while channelID is playing and no inline title
// has been seen yet.
func (s *Session) SeedTrack(channelID string, t metadata.Track) bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if s.channel == nil || s.channel.ID != channelID || !s.pipeline.Current().IsSentinel() {
		s.mu.Unlock()
		return false
	}
	changed := s.pipeline.Update(t)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.publisher.PublishMetadata(snap)
	}
	return changed
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      s.state,
		Track:      s.pipeline.Current(),
		History:    s.pipeline.History(),
		Volume:     s.volume,
		Generation: s.generation,
		LastError:  s.lastError,
	}
	if s.channel != nil {
		ch := *s.channel
		ch.Playlists = slices.Clone(s.channel.Playlists)
		snap.Channel = &ch
	}
	return snap
}

// Close stops playback, removes the cache file and ends the title loop.
func (s *Session) Close() {
	s.opMu.Lock()
	s.stopLocked()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.opMu.Unlock()

	s.cancel()
	<-s.done
}
