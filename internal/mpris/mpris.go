// Package mpris exposes the player on the D-Bus session bus through the
// MPRIS2 interfaces, so desktop media keys and applets can drive it.
package mpris

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glebovdev/somafm-tui/internal/cache"
	"github.com/glebovdev/somafm-tui/internal/config"
	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/glebovdev/somafm-tui/internal/mirror"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/rs/zerolog/log"
)

const (
	BusName     = "org.mpris.MediaPlayer2.somafm_tui"
	ObjectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	RootIface   = "org.mpris.MediaPlayer2"
	PlayerIface = "org.mpris.MediaPlayer2.Player"

	// TrackPathPrefix prefixes mpris:trackid; the channel id is appended.
	TrackPathPrefix = "/org/somafm/track/"

	Identity = "SomaFM TUI Player"
)

var ErrNameTaken = errors.New("mpris bus name is already owned")

// Options select what is advertised on the bus.
type Options struct {
	SendMetadata bool
	SendArtwork  bool
	// Artwork caches channel images locally. Nil advertises the remote URL.
	Artwork *cache.Artwork
	// OnQuit is called when a remote client asks the player to quit.
	OnQuit func()
}

// propertySetter is the part of *prop.Properties the service writes through.
type propertySetter interface {
	SetMust(iface, property string, v interface{})
}

// Service is a mirror.Observer that re-advertises session snapshots as MPRIS
// properties and forwards MPRIS method calls as session commands.
type Service struct {
	conn  *dbus.Conn
	props propertySetter
	ctrl  mirror.Controller
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	seq uint64
}

func newService(ctrl mirror.Controller, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{ctrl: ctrl, opts: opts, ctx: ctx, cancel: cancel}
}

// Start connects to the session bus, exports both MPRIS interfaces and
// claims BusName.
func Start(ctrl mirror.Controller, opts Options) (*Service, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	s := newService(ctrl, opts)
	s.conn = conn

	if err := s.export(); err != nil {
		s.Close()
		return nil, err
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		s.Close()
		return nil, ErrNameTaken
	}

	log.Info().Str("name", BusName).Msg("MPRIS service started")
	return s, nil
}

func (s *Service) export() error {
	root := &rootObject{s: s}
	player := &playerObject{s: s}

	if err := s.conn.Export(root, ObjectPath, RootIface); err != nil {
		return fmt.Errorf("failed to export %s: %w", RootIface, err)
	}
	if err := s.conn.Export(player, ObjectPath, PlayerIface); err != nil {
		return fmt.Errorf("failed to export %s: %w", PlayerIface, err)
	}

	props, err := prop.Export(s.conn, ObjectPath, s.propertyMap(s.ctrl.Snapshot()))
	if err != nil {
		return fmt.Errorf("failed to export properties: %w", err)
	}
	s.props = props

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       RootIface,
				Methods:    introspect.Methods(root),
				Properties: props.Introspection(RootIface),
			},
			{
				Name:       PlayerIface,
				Methods:    introspect.Methods(player),
				Properties: props.Introspection(PlayerIface),
			},
		},
	}
	return s.conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable")
}

func (s *Service) propertyMap(snap session.Snapshot) prop.Map {
	readOnly := func(v interface{}) *prop.Prop {
		return &prop.Prop{Value: v, Emit: prop.EmitTrue}
	}

	return prop.Map{
		RootIface: {
			"CanQuit":             readOnly(true),
			"CanRaise":            readOnly(false),
			"HasTrackList":        readOnly(false),
			"Identity":            readOnly(Identity),
			"SupportedUriSchemes": readOnly([]string{"http", "https"}),
			"SupportedMimeTypes":  readOnly([]string{"audio/mpeg", "audio/mp3"}),
		},
		PlayerIface: {
			"PlaybackStatus": readOnly(playbackStatus(snap.State)),
			"Metadata":       readOnly(s.metadataFor(snap, "")),
			"Volume": {
				Value:    volumeToMPRIS(snap.Volume),
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: s.onVolumeWrite,
			},
			"Position":      {Value: int64(0), Emit: prop.EmitFalse},
			"Rate":          readOnly(1.0),
			"MinimumRate":   readOnly(1.0),
			"MaximumRate":   readOnly(1.0),
			"CanGoNext":     readOnly(true),
			"CanGoPrevious": readOnly(true),
			"CanPlay":       readOnly(true),
			"CanPause":      readOnly(true),
			"CanSeek":       readOnly(false),
			"CanControl":    readOnly(true),
		},
	}
}

// onVolumeWrite runs with the property table locked, so the command is
// issued from its own goroutine.
func (s *Service) onVolumeWrite(c *prop.Change) *dbus.Error {
	v, ok := c.Value.(float64)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("volume must be a double, got %T", c.Value))
	}
	percent := volumeFromMPRIS(v)
	go s.ctrl.SetVolume(percent)
	return nil
}

func (s *Service) Name() string {
	return "mpris"
}

func (s *Service) OnStateChanged(snap session.Snapshot) error {
	if s.props == nil {
		return nil
	}
	s.props.SetMust(PlayerIface, "PlaybackStatus", playbackStatus(snap.State))
	s.props.SetMust(PlayerIface, "Volume", volumeToMPRIS(snap.Volume))
	return s.OnMetadataChanged(snap)
}

func (s *Service) OnMetadataChanged(snap session.Snapshot) error {
	if s.props == nil {
		return nil
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.props.SetMust(PlayerIface, "Metadata", s.metadataFor(snap, ""))
	s.mu.Unlock()

	s.enrichArtwork(snap, seq)
	return nil
}

func (s *Service) metadataFor(snap session.Snapshot, artURL string) map[string]dbus.Variant {
	if !s.opts.SendMetadata {
		return map[string]dbus.Variant{}
	}
	if artURL == "" && s.opts.SendArtwork && s.opts.Artwork == nil && snap.Channel != nil {
		artURL = snap.Channel.ArtworkURL()
	}
	return buildMetadata(snap, artURL)
}

// enrichArtwork downloads the channel artwork in the background and
// re-advertises the metadata with the local file once it is available,
// unless newer metadata was advertised meanwhile.
func (s *Service) enrichArtwork(snap session.Snapshot, seq uint64) {
	if !s.opts.SendMetadata || !s.opts.SendArtwork || s.opts.Artwork == nil || snap.Channel == nil {
		return
	}
	remote := snap.Channel.ArtworkURL()
	if remote == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, cache.ArtworkTimeout)
		defer cancel()

		artURL := remote
		if path, err := s.opts.Artwork.Path(ctx, remote); err != nil {
			log.Warn().Err(err).Str("url", remote).Msg("Failed to cache artwork, advertising remote URL")
		} else {
			artURL = cache.FileURL(path)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.seq != seq {
			return
		}
		s.props.SetMust(PlayerIface, "Metadata", buildMetadata(snap, artURL))
	}()
}

// run issues a command without blocking the D-Bus dispatcher.
func (s *Service) run(name string, cmd func() error) {
	go func() {
		if err := cmd(); err != nil {
			log.Warn().Err(err).Str("method", name).Msg("MPRIS command failed")
		}
	}()
}

func (s *Service) Close() {
	s.cancel()
	if s.conn == nil {
		return
	}
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		log.Debug().Err(err).Msg("Failed to release MPRIS bus name")
	}
	if err := s.conn.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close session bus connection")
	}
}

type rootObject struct {
	s *Service
}

func (r *rootObject) Raise() *dbus.Error {
	return nil
}

func (r *rootObject) Quit() *dbus.Error {
	if r.s.opts.OnQuit != nil {
		go r.s.opts.OnQuit()
	}
	return nil
}

type playerObject struct {
	s *Service
}

func (p *playerObject) Next() *dbus.Error {
	p.s.run("Next", p.s.ctrl.Next)
	return nil
}

func (p *playerObject) Previous() *dbus.Error {
	p.s.run("Previous", p.s.ctrl.Previous)
	return nil
}

func (p *playerObject) Pause() *dbus.Error {
	p.s.run("Pause", func() error { p.s.ctrl.Pause(); return nil })
	return nil
}

func (p *playerObject) PlayPause() *dbus.Error {
	p.s.run("PlayPause", p.s.ctrl.TogglePause)
	return nil
}

func (p *playerObject) Stop() *dbus.Error {
	p.s.run("Stop", func() error { p.s.ctrl.Stop(); return nil })
	return nil
}

func (p *playerObject) Play() *dbus.Error {
	p.s.run("Play", p.s.ctrl.Play)
	return nil
}

func (p *playerObject) Seek(offset int64) *dbus.Error {
	return nil
}

func (p *playerObject) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	return nil
}

func (p *playerObject) OpenUri(uri string) *dbus.Error {
	return dbus.MakeFailedError(errors.New("opening URIs is not supported"))
}

func playbackStatus(state session.State) string {
	switch state {
	case session.Playing:
		return "Playing"
	case session.Paused:
		return "Paused"
	default:
		return "Stopped"
	}
}

func volumeToMPRIS(percent int) float64 {
	return float64(config.ClampVolume(percent)) / 100
}

func volumeFromMPRIS(v float64) int {
	return config.ClampVolume(int(v*100 + 0.5))
}

func trackPath(channelID string) dbus.ObjectPath {
	path := dbus.ObjectPath(TrackPathPrefix + sanitizePathElement(channelID))
	if !path.IsValid() {
		return dbus.ObjectPath(TrackPathPrefix + "unknown")
	}
	return path
}

// sanitizePathElement maps characters not allowed in an object path element to '_'.
func sanitizePathElement(s string) string {
	out := []byte(s)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}

// buildMetadata renders a snapshot as an MPRIS metadata map. Placeholder
// artist and title values are left out.
func buildMetadata(snap session.Snapshot, artURL string) map[string]dbus.Variant {
	md := map[string]dbus.Variant{}
	if snap.Channel == nil || snap.State == session.Stopped {
		return md
	}

	md["mpris:trackid"] = dbus.MakeVariant(trackPath(snap.Channel.ID))
	md["xesam:album"] = dbus.MakeVariant(snap.Channel.Title)
	if snap.Channel.Description != "" {
		md["xesam:comment"] = dbus.MakeVariant([]string{snap.Channel.Description})
	}

	if a := snap.Track.Artist; a != "" && a != metadata.SentinelText {
		md["xesam:artist"] = dbus.MakeVariant([]string{a})
	}
	if t := snap.Track.Title; t != "" && t != metadata.SentinelText {
		md["xesam:title"] = dbus.MakeVariant(t)
	}

	if artURL != "" {
		md["mpris:artUrl"] = dbus.MakeVariant(artURL)
	}
	return md
}
