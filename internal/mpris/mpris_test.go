package mpris

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebovdev/somafm-tui/internal/cache"
	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

type fakeProps struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func newFakeProps() *fakeProps {
	return &fakeProps{values: make(map[string]interface{})}
}

func (f *fakeProps) SetMust(iface, property string, v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[iface+"."+property] = v
}

func (f *fakeProps) get(property string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[PlayerIface+"."+property]
}

func (f *fakeProps) metadata(t *testing.T) map[string]dbus.Variant {
	t.Helper()
	md, ok := f.get("Metadata").(map[string]dbus.Variant)
	if !ok {
		t.Fatalf("Metadata = %#v, want map", f.get("Metadata"))
	}
	return md
}

type fakeController struct {
	calls  chan string
	volume chan int
	err    error
}

func newFakeController() *fakeController {
	return &fakeController{calls: make(chan string, 16), volume: make(chan int, 4)}
}

func (c *fakeController) PlayChannel(station.Station) error { c.calls <- "PlayChannel"; return c.err }
func (c *fakeController) Pause()                            { c.calls <- "Pause" }
func (c *fakeController) Resume()                           { c.calls <- "Resume" }
func (c *fakeController) TogglePause() error                { c.calls <- "TogglePause"; return c.err }
func (c *fakeController) Play() error                       { c.calls <- "Play"; return c.err }
func (c *fakeController) Stop()                             { c.calls <- "Stop" }
func (c *fakeController) Next() error                       { c.calls <- "Next"; return c.err }
func (c *fakeController) Previous() error                   { c.calls <- "Previous"; return c.err }
func (c *fakeController) SetVolume(percent int)             { c.volume <- percent }

func (c *fakeController) Snapshot() session.Snapshot {
	return session.Snapshot{State: session.Stopped, Track: metadata.Sentinel()}
}

func (c *fakeController) next(t *testing.T) string {
	t.Helper()
	select {
	case call := <-c.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no command was forwarded")
		return ""
	}
}

var groove = &station.Station{
	ID:          "groovesalad",
	Title:       "Groove Salad",
	Description: "A nicely chilled plate of ambient beats",
	LargeImage:  "https://somafm.com/img/groovesalad120.png",
}

func playingSnapshot(track metadata.Track) session.Snapshot {
	return session.Snapshot{
		State:      session.Playing,
		Channel:    groove,
		Track:      track,
		Volume:     70,
		Generation: 1,
	}
}

func TestPlaybackStatus(t *testing.T) {
	tests := []struct {
		state session.State
		want  string
	}{
		{session.Playing, "Playing"},
		{session.Paused, "Paused"},
		{session.Stopped, "Stopped"},
		{session.State(42), "Stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := playbackStatus(tt.state); got != tt.want {
				t.Errorf("playbackStatus(%v) = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestVolumeConversion(t *testing.T) {
	tests := []struct {
		percent int
		mpris   float64
	}{
		{0, 0},
		{50, 0.5},
		{100, 1},
		{150, 1},
		{-5, 0},
	}
	for _, tt := range tests {
		if got := volumeToMPRIS(tt.percent); got != tt.mpris {
			t.Errorf("volumeToMPRIS(%d) = %v, want %v", tt.percent, got, tt.mpris)
		}
	}

	fromTests := map[float64]int{0: 0, 0.42: 42, 0.999: 100, 1: 100, 2.5: 100, -1: 0}
	for v, want := range fromTests {
		if got := volumeFromMPRIS(v); got != want {
			t.Errorf("volumeFromMPRIS(%v) = %d, want %d", v, got, want)
		}
	}
}

func TestTrackPath(t *testing.T) {
	tests := map[string]dbus.ObjectPath{
		"groovesalad": "/org/somafm/track/groovesalad",
		"sf-1033":     "/org/somafm/track/sf_1033",
		"":            "/org/somafm/track/unknown",
	}
	for id, want := range tests {
		if got := trackPath(id); got != want {
			t.Errorf("trackPath(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestBuildMetadata(t *testing.T) {
	t.Run("stopped is empty", func(t *testing.T) {
		md := buildMetadata(session.Snapshot{State: session.Stopped, Track: metadata.Sentinel()}, "")
		if len(md) != 0 {
			t.Errorf("metadata = %v, want empty", md)
		}
	})

	t.Run("placeholder track", func(t *testing.T) {
		md := buildMetadata(playingSnapshot(metadata.Sentinel()), "")

		if _, ok := md["xesam:artist"]; ok {
			t.Error("placeholder artist should be omitted")
		}
		if _, ok := md["xesam:title"]; ok {
			t.Error("placeholder title should be omitted")
		}
		if got := md["xesam:album"].Value(); got != "Groove Salad" {
			t.Errorf("xesam:album = %v", got)
		}
		if got := md["mpris:trackid"].Value(); got != dbus.ObjectPath("/org/somafm/track/groovesalad") {
			t.Errorf("mpris:trackid = %v", got)
		}
		if _, ok := md["mpris:artUrl"]; ok {
			t.Error("artUrl should be omitted when empty")
		}
	})

	t.Run("real track", func(t *testing.T) {
		track := metadata.Track{Artist: "Boards of Canada", Title: "Roygbiv"}
		md := buildMetadata(playingSnapshot(track), "file:///tmp/a.png")

		artists, ok := md["xesam:artist"].Value().([]string)
		if !ok || len(artists) != 1 || artists[0] != "Boards of Canada" {
			t.Errorf("xesam:artist = %v", md["xesam:artist"].Value())
		}
		if got := md["xesam:title"].Value(); got != "Roygbiv" {
			t.Errorf("xesam:title = %v", got)
		}
		comments, ok := md["xesam:comment"].Value().([]string)
		if !ok || len(comments) != 1 || comments[0] != groove.Description {
			t.Errorf("xesam:comment = %v", md["xesam:comment"].Value())
		}
		if got := md["mpris:artUrl"].Value(); got != "file:///tmp/a.png" {
			t.Errorf("mpris:artUrl = %v", got)
		}
	})
}

func TestOnStateChangedSetsProperties(t *testing.T) {
	s := newService(newFakeController(), Options{SendMetadata: true})
	props := newFakeProps()
	s.props = props

	snap := playingSnapshot(metadata.Track{Artist: "A", Title: "T"})
	snap.State = session.Paused
	snap.Volume = 25

	if err := s.OnStateChanged(snap); err != nil {
		t.Fatalf("OnStateChanged() error = %v", err)
	}

	if got := props.get("PlaybackStatus"); got != "Paused" {
		t.Errorf("PlaybackStatus = %v, want Paused", got)
	}
	if got := props.get("Volume"); got != 0.25 {
		t.Errorf("Volume = %v, want 0.25", got)
	}
	if got := props.metadata(t)["xesam:title"].Value(); got != "T" {
		t.Errorf("xesam:title = %v", got)
	}
}

func TestMetadataDisabled(t *testing.T) {
	s := newService(newFakeController(), Options{SendMetadata: false, SendArtwork: true})
	props := newFakeProps()
	s.props = props

	if err := s.OnMetadataChanged(playingSnapshot(metadata.Track{Artist: "A", Title: "T"})); err != nil {
		t.Fatal(err)
	}
	if md := props.metadata(t); len(md) != 0 {
		t.Errorf("metadata = %v, want empty when disabled", md)
	}
}

func TestNoPropertiesBeforeExport(t *testing.T) {
	s := newService(newFakeController(), Options{SendMetadata: true})
	if err := s.OnStateChanged(playingSnapshot(metadata.Sentinel())); err != nil {
		t.Errorf("OnStateChanged() without bus error = %v", err)
	}
}

func TestRemoteArtworkWithoutCache(t *testing.T) {
	s := newService(newFakeController(), Options{SendMetadata: true, SendArtwork: true})
	props := newFakeProps()
	s.props = props

	if err := s.OnMetadataChanged(playingSnapshot(metadata.Sentinel())); err != nil {
		t.Fatal(err)
	}
	if got := props.metadata(t)["mpris:artUrl"].Value(); got != groove.LargeImage {
		t.Errorf("mpris:artUrl = %v, want %q", got, groove.LargeImage)
	}
}

func TestCachedArtworkEnrichment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	artwork, err := cache.NewArtworkAt(t.TempDir(), 8)
	if err != nil {
		t.Fatal(err)
	}

	s := newService(newFakeController(), Options{SendMetadata: true, SendArtwork: true, Artwork: artwork})
	defer s.Close()
	props := newFakeProps()
	s.props = props

	ch := *groove
	ch.LargeImage = server.URL + "/groovesalad120.png"
	snap := playingSnapshot(metadata.Sentinel())
	snap.Channel = &ch

	if err := s.OnMetadataChanged(snap); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if art, ok := props.metadata(t)["mpris:artUrl"]; ok {
			url, _ := art.Value().(string)
			if strings.HasPrefix(url, "file://") && strings.HasSuffix(url, ".png") {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("metadata was not enriched with a local artwork file: %v", props.metadata(t))
}

func TestStaleArtworkIsDropped(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()
	defer close(release)

	artwork, err := cache.NewArtworkAt(t.TempDir(), 8)
	if err != nil {
		t.Fatal(err)
	}

	s := newService(newFakeController(), Options{SendMetadata: true, SendArtwork: true, Artwork: artwork})
	props := newFakeProps()
	s.props = props

	ch := *groove
	ch.LargeImage = server.URL + "/slow.png"
	first := playingSnapshot(metadata.Sentinel())
	first.Channel = &ch
	if err := s.OnMetadataChanged(first); err != nil {
		t.Fatal(err)
	}

	// Stopping advertises empty metadata before the download finishes.
	if err := s.OnMetadataChanged(session.Snapshot{State: session.Stopped, Track: metadata.Sentinel(), Generation: 2}); err != nil {
		t.Fatal(err)
	}
	release <- struct{}{}

	time.Sleep(100 * time.Millisecond)
	if md := props.metadata(t); len(md) != 0 {
		t.Errorf("stale artwork overwrote newer metadata: %v", md)
	}
	s.Close()
}

func TestPlayerMethodsForwardCommands(t *testing.T) {
	ctrl := newFakeController()
	s := newService(ctrl, Options{})
	p := &playerObject{s: s}

	tests := []struct {
		call func() *dbus.Error
		want string
	}{
		{p.Next, "Next"},
		{p.Previous, "Previous"},
		{p.Pause, "Pause"},
		{p.PlayPause, "TogglePause"},
		{p.Stop, "Stop"},
		{p.Play, "Play"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if err := tt.call(); err != nil {
				t.Fatalf("method returned %v", err)
			}
			if got := ctrl.next(t); got != tt.want {
				t.Errorf("forwarded %q, want %q", got, tt.want)
			}
		})
	}

	if err := p.OpenUri("http://example.com/x.mp3"); err == nil {
		t.Error("OpenUri() should be rejected")
	}
	if err := p.Seek(1000); err != nil {
		t.Errorf("Seek() = %v", err)
	}
}

func TestCommandErrorsAreAbsorbed(t *testing.T) {
	ctrl := newFakeController()
	ctrl.err = errors.New("empty catalog")
	p := &playerObject{s: newService(ctrl, Options{})}

	if err := p.Next(); err != nil {
		t.Errorf("Next() = %v, want nil", err)
	}
	if got := ctrl.next(t); got != "Next" {
		t.Errorf("forwarded %q", got)
	}
}

func TestVolumeWrite(t *testing.T) {
	ctrl := newFakeController()
	s := newService(ctrl, Options{})

	if err := s.onVolumeWrite(&prop.Change{Iface: PlayerIface, Name: "Volume", Value: 0.42}); err != nil {
		t.Fatalf("onVolumeWrite() error = %v", err)
	}
	select {
	case got := <-ctrl.volume:
		if got != 42 {
			t.Errorf("SetVolume(%d), want 42", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SetVolume was not called")
	}

	if err := s.onVolumeWrite(&prop.Change{Iface: PlayerIface, Name: "Volume", Value: "loud"}); err == nil {
		t.Error("onVolumeWrite() should reject non-double values")
	}
}

func TestQuit(t *testing.T) {
	quit := make(chan struct{})
	s := newService(newFakeController(), Options{OnQuit: func() { close(quit) }})

	if err := (&rootObject{s: s}).Quit(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-quit:
	case <-time.After(2 * time.Second):
		t.Fatal("OnQuit was not called")
	}

	if err := (&rootObject{s: newService(newFakeController(), Options{})}).Quit(); err != nil {
		t.Errorf("Quit() without handler = %v", err)
	}
}
