package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/glebovdev/somafm-tui/internal/station"
)

type fakeEngine struct {
	mu         sync.Mutex
	playing    string
	paused     bool
	volume     int
	plays      []string
	stops      int
	onTitle    func(string)
	failPlay   error
	titleOnRun string
}

func (e *fakeEngine) Play(url string, onTitle func(string)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failPlay != nil {
		return e.failPlay
	}
	e.playing = url
	e.paused = false
	e.plays = append(e.plays, url)
	e.onTitle = onTitle
	if e.titleOnRun != "" {
		onTitle(e.titleOnRun)
	}
	return nil
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = ""
	e.paused = false
	e.stops++
}

func (e *fakeEngine) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
}

func (e *fakeEngine) SetVolume(percent int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = percent
}

func (e *fakeEngine) volumeLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// emit delivers a title through the callback of the current stream.
func (e *fakeEngine) emit(title string) {
	e.mu.Lock()
	cb := e.onTitle
	e.mu.Unlock()
	cb(title)
}

func (e *fakeEngine) callback() func(string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onTitle
}

func (e *fakeEngine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// bufferTracker counts live fake buffers across a whole test.
type bufferTracker struct {
	mu        sync.Mutex
	active    int
	maxActive int
	started   []string
	cleared   int
	failStart error
}

type fakeBuffer struct {
	tracker *bufferTracker
	active  bool
}

func (t *bufferTracker) factory() func() Buffer {
	return func() Buffer { return &fakeBuffer{tracker: t} }
}

func (b *fakeBuffer) Start(url string, capacity int64, cacheDir string) error {
	t := b.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failStart != nil {
		return t.failStart
	}
	b.active = true
	t.active++
	if t.active > t.maxActive {
		t.maxActive = t.active
	}
	t.started = append(t.started, url)
	return nil
}

func (b *fakeBuffer) Stop() error {
	t := b.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if b.active {
		b.active = false
		t.active--
	}
	return nil
}

func (b *fakeBuffer) Clear() error {
	t := b.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if b.active {
		return errors.New("clear while active")
	}
	t.cleared++
	return nil
}

func (b *fakeBuffer) IsActive() bool {
	b.tracker.mu.Lock()
	defer b.tracker.mu.Unlock()
	return b.active
}

func (t *bufferTracker) stats() (active, maxActive, cleared int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.maxActive, t.cleared
}

// recorder is a Publisher that checks every snapshot it receives.
type recorder struct {
	t          *testing.T
	mu         sync.Mutex
	states     []Snapshot
	metadata   []Snapshot
	violations []string
}

func (r *recorder) check(kind string, s Snapshot) {
	if s.State == Stopped && s.Channel != nil {
		r.violations = append(r.violations, fmt.Sprintf("%s: Stopped with channel %s", kind, s.Channel.ID))
	}
	if s.State != Stopped && s.Channel == nil {
		r.violations = append(r.violations, fmt.Sprintf("%s: %s without channel", kind, s.State))
	}
}

func (r *recorder) PublishState(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.check("state", s)
	r.states = append(r.states, s)
}

func (r *recorder) PublishMetadata(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.check("metadata", s)
	r.metadata = append(r.metadata, s)
}

func (r *recorder) lastState() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func (r *recorder) stateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) assertConsistent() {
	r.t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.violations {
		r.t.Error(v)
	}
}

type mapResolver map[string]string

func (m mapResolver) Resolve(ctx context.Context, url string) (string, error) {
	if direct, ok := m[url]; ok {
		return direct, nil
	}
	return "", fmt.Errorf("no stream in playlist %s", url)
}

type staticCatalog []station.Station

func (c staticCatalog) Stations() []station.Station {
	return c
}

func testChannel(id string) station.Station {
	return station.Station{
		ID:    id,
		Title: "Channel " + id,
		Playlists: []station.Playlist{
			{URL: "https://somafm.test/" + id + "256.pls", Format: "mp3", Quality: "highest"},
		},
	}
}

type harness struct {
	session  *Session
	engine   *fakeEngine
	buffers  *bufferTracker
	recorder *recorder
}

func newHarness(t *testing.T, opts Options, catalog ...station.Station) *harness {
	t.Helper()

	h := &harness{
		engine:   &fakeEngine{},
		buffers:  &bufferTracker{},
		recorder: &recorder{t: t},
	}

	if opts.CacheDir == "" {
		opts.CacheDir = t.TempDir()
	}
	if opts.BufferCapacity == 0 {
		opts.BufferCapacity = 1 << 20
	}

	s, err := New(Deps{
		Engine:    h.engine,
		NewBuffer: h.buffers.factory(),
		Publisher: h.recorder,
		Catalog:   staticCatalog(catalog),
	}, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)

	h.session = s
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitTrack(t *testing.T, artist, title string) {
	t.Helper()
	waitFor(t, artist+" - "+title, func() bool {
		tr := h.session.Snapshot().Track
		return tr.Artist == artist && tr.Title == title
	})
}

func TestNewValidatesOptions(t *testing.T) {
	engine := &fakeEngine{}
	factory := (&bufferTracker{}).factory()

	tests := []struct {
		name string
		deps Deps
		opts Options
	}{
		{"no engine", Deps{NewBuffer: factory}, Options{CacheDir: "/tmp", BufferCapacity: 1}},
		{"no buffer factory", Deps{Engine: engine}, Options{CacheDir: "/tmp", BufferCapacity: 1}},
		{"no cache dir", Deps{Engine: engine, NewBuffer: factory}, Options{BufferCapacity: 1}},
		{"zero capacity", Deps{Engine: engine, NewBuffer: factory}, Options{CacheDir: "/tmp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps, tt.opts); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestInitialSnapshot(t *testing.T) {
	h := newHarness(t, Options{Volume: 40})

	snap := h.session.Snapshot()
	if snap.State != Stopped || snap.Channel != nil {
		t.Errorf("initial snapshot = %s / %v", snap.State, snap.Channel)
	}
	if !snap.Track.IsSentinel() {
		t.Errorf("initial track = %+v, want sentinel", snap.Track)
	}
	if snap.Volume != 40 {
		t.Errorf("Volume = %d, want 40", snap.Volume)
	}
	if h.engine.volume != 40 {
		t.Errorf("engine volume = %d, want 40", h.engine.volume)
	}
}

func TestPlaybackScenario(t *testing.T) {
	chA, chB := testChannel("a"), testChannel("b")
	h := newHarness(t, Options{})
	s := h.session

	if err := s.PlayChannel(chA); err != nil {
		t.Fatalf("PlayChannel(a) error = %v", err)
	}
	snap := s.Snapshot()
	if snap.State != Playing || snap.Channel == nil || snap.Channel.ID != "a" {
		t.Fatalf("after play a: %s %v", snap.State, snap.Channel)
	}
	if !snap.Track.IsSentinel() {
		t.Errorf("track after play = %+v, want sentinel", snap.Track)
	}

	h.engine.emit("X - Y")
	h.waitTrack(t, "X", "Y")
	if got := s.Snapshot().History; len(got) != 0 {
		t.Errorf("history after first title = %v, want empty", got)
	}

	h.engine.emit("P - Q")
	h.waitTrack(t, "P", "Q")
	history := s.Snapshot().History
	if len(history) != 1 || history[0].Artist != "X" || history[0].Title != "Y" {
		t.Fatalf("history = %+v, want [X - Y]", history)
	}

	if err := s.PlayChannel(chB); err != nil {
		t.Fatalf("PlayChannel(b) error = %v", err)
	}
	snap = s.Snapshot()
	if snap.State != Playing || snap.Channel.ID != "b" {
		t.Fatalf("after play b: %s %v", snap.State, snap.Channel)
	}
	if !snap.Track.IsSentinel() {
		t.Errorf("track after switch = %+v, want sentinel", snap.Track)
	}
	if len(snap.History) != 1 || snap.History[0].Artist != "X" {
		t.Errorf("history after switch = %+v, want unchanged", snap.History)
	}

	s.Stop()
	snap = s.Snapshot()
	if snap.State != Stopped || snap.Channel != nil {
		t.Errorf("after stop: %s %v", snap.State, snap.Channel)
	}

	active, _, _ := h.buffers.stats()
	if active != 0 {
		t.Errorf("active buffers after stop = %d, want 0", active)
	}
	h.recorder.assertConsistent()
}

func TestAtMostOneActiveBuffer(t *testing.T) {
	channels := []station.Station{testChannel("a"), testChannel("b"), testChannel("c")}
	h := newHarness(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := h.session.PlayChannel(channels[i%len(channels)]); err != nil {
				t.Errorf("PlayChannel() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	active, maxActive, cleared := h.buffers.stats()
	if maxActive != 1 {
		t.Errorf("max concurrently active buffers = %d, want 1", maxActive)
	}
	if active != 1 {
		t.Errorf("active buffers = %d, want 1", active)
	}
	if cleared != 29 {
		t.Errorf("cleared buffers = %d, want 29", cleared)
	}
	h.recorder.assertConsistent()
}

func TestPlayChannelNoStream(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.session

	if err := s.PlayChannel(testChannel("a")); err != nil {
		t.Fatalf("PlayChannel(a) error = %v", err)
	}

	aacOnly := station.Station{
		ID:        "aac",
		Playlists: []station.Playlist{{URL: "https://somafm.test/aac.pls", Format: "aac"}},
	}
	err := s.PlayChannel(aacOnly)
	if !errors.Is(err, station.ErrNoStreamAvailable) {
		t.Fatalf("PlayChannel(aac) error = %v, want ErrNoStreamAvailable", err)
	}

	snap := s.Snapshot()
	if snap.State != Stopped || snap.Channel != nil {
		t.Errorf("after failure: %s %v", snap.State, snap.Channel)
	}
	if snap.LastError == "" {
		t.Error("LastError should describe the failure")
	}
	if last := h.recorder.lastState(); last.State != Stopped {
		t.Errorf("last published state = %s, want Stopped", last.State)
	}

	active, _, _ := h.buffers.stats()
	if active != 0 {
		t.Errorf("active buffers after failure = %d, want 0", active)
	}

	// The session stays usable.
	if err := s.PlayChannel(testChannel("b")); err != nil {
		t.Fatalf("PlayChannel(b) error = %v", err)
	}
	if s.Snapshot().LastError != "" {
		t.Error("LastError should be cleared by a successful switch")
	}
	h.recorder.assertConsistent()
}

func TestPlayChannelEngineFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.failPlay = errors.New("no audio device")

	err := h.session.PlayChannel(testChannel("a"))
	if err == nil {
		t.Fatal("PlayChannel() should fail")
	}

	if h.session.State() != Stopped {
		t.Errorf("State() = %s, want Stopped", h.session.State())
	}
	active, _, cleared := h.buffers.stats()
	if active != 0 || cleared != 1 {
		t.Errorf("buffers active=%d cleared=%d, want 0 and 1", active, cleared)
	}
	h.recorder.assertConsistent()
}

func TestPlayChannelBufferFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.buffers.failStart = errors.New("disk full")

	if err := h.session.PlayChannel(testChannel("a")); err == nil {
		t.Fatal("PlayChannel() should fail")
	}
	if h.session.State() != Stopped {
		t.Errorf("State() = %s, want Stopped", h.session.State())
	}
	if len(h.engine.plays) != 0 {
		t.Errorf("engine played %v after buffer failure", h.engine.plays)
	}
}

func TestResolverIsUsed(t *testing.T) {
	ch := testChannel("a")
	playlist, _ := ch.ResolveStreamURL()

	engine := &fakeEngine{}
	buffers := &bufferTracker{}
	s, err := New(Deps{
		Engine:    engine,
		NewBuffer: buffers.factory(),
		Resolver:  mapResolver{playlist: "https://ice.somafm.test/a-256-mp3"},
	}, Options{CacheDir: t.TempDir(), BufferCapacity: 1024})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if err := s.PlayChannel(ch); err != nil {
		t.Fatalf("PlayChannel() error = %v", err)
	}
	if engine.plays[0] != "https://ice.somafm.test/a-256-mp3" {
		t.Errorf("engine played %q", engine.plays[0])
	}
	if buffers.started[0] != "https://ice.somafm.test/a-256-mp3" {
		t.Errorf("buffer started with %q", buffers.started[0])
	}

	if err := s.PlayChannel(testChannel("unknown")); err == nil {
		t.Error("PlayChannel() with unresolvable playlist should fail")
	}
	if s.State() != Stopped {
		t.Errorf("State() = %s, want Stopped", s.State())
	}
}

func TestStaleTitlesAreDropped(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.session

	if err := s.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}
	oldCallback := h.engine.callback()

	if err := s.PlayChannel(testChannel("b")); err != nil {
		t.Fatal(err)
	}

	oldCallback("Old - Track")
	h.engine.emit("New - Track")
	h.waitTrack(t, "New", "Track")

	for _, entry := range s.Snapshot().History {
		if entry.Artist == "Old" {
			t.Errorf("title of superseded channel reached history: %+v", entry)
		}
	}

	s.Stop()
	oldCallback("Late - Title")
	time.Sleep(20 * time.Millisecond)
	if tr := s.Snapshot().Track; !tr.IsSentinel() {
		t.Errorf("track after stop = %+v, want sentinel", tr)
	}
}

func TestTitleBeforeCommitIsApplied(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.titleOnRun = "Early - Bird"

	if err := h.session.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}
	h.waitTrack(t, "Early", "Bird")
}

func TestUnparseableTitleIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.session.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}

	h.engine.emit("A - B")
	h.waitTrack(t, "A", "B")

	h.engine.emit("NoSeparatorHere")
	h.engine.emit("C - D")
	h.waitTrack(t, "C", "D")

	history := h.session.Snapshot().History
	if len(history) != 1 || history[0].Artist != "A" {
		t.Errorf("history = %+v, want only A - B", history)
	}
}

func TestTitleFallback(t *testing.T) {
	h := newHarness(t, Options{TitleFallback: true})
	if err := h.session.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}

	h.engine.emit("Station ID")
	h.waitTrack(t, "Channel a", "Station ID")
}

func TestResetHistoryOnSwitch(t *testing.T) {
	h := newHarness(t, Options{ResetHistoryOnSwitch: true})
	s := h.session

	if err := s.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}
	h.engine.emit("A - 1")
	h.waitTrack(t, "A", "1")
	h.engine.emit("A - 2")
	h.waitTrack(t, "A", "2")

	if len(s.Snapshot().History) != 1 {
		t.Fatalf("history = %v, want one entry", s.Snapshot().History)
	}

	if err := s.PlayChannel(testChannel("b")); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().History; len(got) != 0 {
		t.Errorf("history after switch = %v, want empty", got)
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.session

	s.Pause()
	s.Resume()
	if s.State() != Stopped {
		t.Fatalf("pause/resume while stopped changed state to %s", s.State())
	}
	if h.recorder.stateCount() != 0 {
		t.Errorf("no-op transitions published %d states", h.recorder.stateCount())
	}

	if err := s.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}

	s.Resume()
	if s.State() != Playing {
		t.Errorf("Resume() while playing changed state to %s", s.State())
	}

	s.Pause()
	if s.State() != Paused || !h.engine.isPaused() {
		t.Errorf("after Pause: state=%s engine paused=%v", s.State(), h.engine.isPaused())
	}
	if snap := s.Snapshot(); snap.Channel == nil || snap.Channel.ID != "a" {
		t.Errorf("Pause lost the channel: %v", snap.Channel)
	}

	s.Resume()
	if s.State() != Playing || h.engine.isPaused() {
		t.Errorf("after Resume: state=%s engine paused=%v", s.State(), h.engine.isPaused())
	}

	if err := s.TogglePause(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Paused {
		t.Errorf("TogglePause() from Playing = %s, want Paused", s.State())
	}
	if err := s.TogglePause(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Playing {
		t.Errorf("TogglePause() from Paused = %s, want Playing", s.State())
	}

	s.Pause()
	s.Stop()
	if s.State() != Stopped {
		t.Errorf("Stop() from Paused = %s", s.State())
	}
	h.recorder.assertConsistent()
}

func TestPlayAndToggleFromStopped(t *testing.T) {
	chA, chB := testChannel("a"), testChannel("b")
	h := newHarness(t, Options{}, chA, chB)
	s := h.session

	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); snap.Channel == nil || snap.Channel.ID != "a" {
		t.Fatalf("Play() from fresh session = %v, want first catalog channel", snap.Channel)
	}

	if err := s.PlayChannel(chB); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	if err := s.TogglePause(); err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); snap.State != Playing || snap.Channel.ID != "b" {
		t.Errorf("TogglePause() from Stopped = %s %v, want last channel b", snap.State, snap.Channel)
	}
}

func TestPlayWithEmptyCatalog(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.session.Play(); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("Play() error = %v, want ErrEmptyCatalog", err)
	}
	if err := h.session.Next(); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("Next() error = %v, want ErrEmptyCatalog", err)
	}
}

func TestNextPrevious(t *testing.T) {
	catalog := []station.Station{testChannel("a"), testChannel("b"), testChannel("c")}
	h := newHarness(t, Options{}, catalog...)
	s := h.session

	current := func() string {
		snap := s.Snapshot()
		if snap.Channel == nil {
			return ""
		}
		return snap.Channel.ID
	}

	steps := []struct {
		name string
		op   func() error
		want string
	}{
		{"next from nothing", s.Next, "a"},
		{"next", s.Next, "b"},
		{"next", s.Next, "c"},
		{"next wraps", s.Next, "a"},
		{"previous wraps", s.Previous, "c"},
		{"previous", s.Previous, "b"},
	}

	for _, step := range steps {
		if err := step.op(); err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if got := current(); got != step.want {
			t.Fatalf("%s: channel = %q, want %q", step.name, got, step.want)
		}
	}

	s.Stop()
	if err := s.Next(); err != nil {
		t.Fatal(err)
	}
	if got := current(); got != "c" {
		t.Errorf("Next() after stop = %q, want c (after last played b)", got)
	}
}

func TestPreviousFromNothing(t *testing.T) {
	h := newHarness(t, Options{}, testChannel("a"), testChannel("b"))
	if err := h.session.Previous(); err != nil {
		t.Fatal(err)
	}
	if got := h.session.Snapshot().Channel.ID; got != "b" {
		t.Errorf("Previous() from fresh session = %q, want b", got)
	}
}

func TestSetVolume(t *testing.T) {
	h := newHarness(t, Options{Volume: 50})
	s := h.session

	tests := []struct {
		in, want int
	}{
		{80, 80},
		{150, 100},
		{-5, 0},
	}
	for _, tt := range tests {
		s.SetVolume(tt.in)
		if got := s.Snapshot().Volume; got != tt.want {
			t.Errorf("SetVolume(%d) -> %d, want %d", tt.in, got, tt.want)
		}
		if h.engine.volume != tt.want {
			t.Errorf("engine volume = %d, want %d", h.engine.volume, tt.want)
		}
		if got := h.recorder.lastState().Volume; got != tt.want {
			t.Errorf("published volume = %d, want %d", got, tt.want)
		}
	}

	before := h.recorder.stateCount()
	s.SetVolume(0)
	if h.recorder.stateCount() != before {
		t.Error("unchanged volume should not publish")
	}
}

func TestConcurrentSetVolumeMatchesEngine(t *testing.T) {
	h := newHarness(t, Options{Volume: 50})
	s := h.session

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				s.SetVolume(v)
			}((round*8 + i) % 101)
		}
		wg.Wait()

		recorded := s.Snapshot().Volume
		if audible := h.engine.volumeLevel(); audible != recorded {
			t.Fatalf("round %d: engine volume %d, session volume %d", round, audible, recorded)
		}
		if published := h.recorder.lastState().Volume; published != recorded {
			t.Fatalf("round %d: published volume %d, session volume %d", round, published, recorded)
		}
	}
}

func TestSeedTrack(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.session
	seed := metadata.Track{Artist: "Seed", Title: "Song", Duration: metadata.UnknownDuration}

	if s.SeedTrack("a", seed) {
		t.Error("SeedTrack() while stopped should not apply")
	}

	if err := s.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}
	if s.SeedTrack("b", seed) {
		t.Error("SeedTrack() for another channel should not apply")
	}
	if !s.SeedTrack("a", seed) {
		t.Fatal("SeedTrack() should apply while the track is the sentinel")
	}
	if tr := s.Snapshot().Track; tr.Artist != "Seed" {
		t.Errorf("track = %+v", tr)
	}

	h.engine.emit("Live - Title")
	h.waitTrack(t, "Live", "Title")

	if s.SeedTrack("a", metadata.Track{Artist: "Late", Title: "Seed"}) {
		t.Error("SeedTrack() after an inline title should not apply")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.session.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}
	h.engine.emit("A - 1")
	h.waitTrack(t, "A", "1")
	h.engine.emit("A - 2")
	h.waitTrack(t, "A", "2")

	snap := h.session.Snapshot()
	snap.Channel.Title = "mutated"
	snap.Channel.Playlists[0].URL = "mutated"
	snap.History[0].Artist = "mutated"

	again := h.session.Snapshot()
	if again.Channel.Title == "mutated" || again.Channel.Playlists[0].URL == "mutated" {
		t.Error("snapshot channel aliases session state")
	}
	if again.History[0].Artist == "mutated" {
		t.Error("snapshot history aliases session state")
	}
}

func TestMetadataPublishedOnChange(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.session.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}

	count := func() int {
		h.recorder.mu.Lock()
		defer h.recorder.mu.Unlock()
		return len(h.recorder.metadata)
	}
	base := count()

	h.engine.emit("A - 1")
	h.engine.emit("A - 1")
	h.engine.emit("A - 2")
	waitFor(t, "two metadata publishes", func() bool { return count()-base >= 2 })

	time.Sleep(20 * time.Millisecond)
	if got := count() - base; got != 2 {
		t.Errorf("metadata publishes = %d, want 2", got)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.session

	if err := s.PlayChannel(testChannel("a")); err != nil {
		t.Fatal(err)
	}

	s.Close()

	if s.State() != Stopped {
		t.Errorf("State() after Close = %s", s.State())
	}
	active, _, _ := h.buffers.stats()
	if active != 0 {
		t.Errorf("active buffers after Close = %d", active)
	}
	if err := s.PlayChannel(testChannel("b")); !errors.Is(err, ErrClosed) {
		t.Errorf("PlayChannel() after Close error = %v, want ErrClosed", err)
	}

	// Close is idempotent; the harness calls it again on cleanup.
	s.Close()
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Stopped:  "Stopped",
		Playing:  "Playing",
		Paused:   "Paused",
		State(9): "Unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}
