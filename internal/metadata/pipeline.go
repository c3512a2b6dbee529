package metadata

import (
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Options configures a Pipeline.
type Options struct {
	// HistorySize caps the history; values below 1 use DefaultHistorySize.
	HistorySize int
	// FallbackToChannelTitle makes unparseable titles show up as
	// {artist: channel title, title: raw} instead of being ignored.
	FallbackToChannelTitle bool
}

// Pipeline holds the current track and its history.
//
// A Pipeline is not safe for concurrent use. The session owns it and
// serializes every call under its own lock.
type Pipeline struct {
	current      Track
	history      []HistoryEntry
	historySize  int
	fallback     bool
	channelTitle string
	now          func() time.Time
}

func NewPipeline(opts Options) *Pipeline {
	size := opts.HistorySize
	if size < 1 {
		size = DefaultHistorySize
	}
	return &Pipeline{
		current:     Sentinel(),
		history:     make([]HistoryEntry, 0, size),
		historySize: size,
		fallback:    opts.FallbackToChannelTitle,
		now:         time.Now,
	}
}

// SetChannelTitle sets the artist used by the fallback for unparseable titles.
func (p *Pipeline) SetChannelTitle(title string) {
	p.channelTitle = title
}

// OnRawTitle parses an inline title and applies it. It reports whether the
// current track changed.
func (p *Pipeline) OnRawTitle(raw string) bool {
	if raw == "" {
		return false
	}

	track, ok := ParseTitle(raw, p.now())
	if !ok {
		if !p.fallback || p.channelTitle == "" || strings.TrimSpace(raw) == "" {
			log.Debug().Str("title", raw).Msg("Ignoring unparseable stream title")
			return false
		}
		track = Track{
			Artist:    p.channelTitle,
			Title:     strings.TrimSpace(raw),
			Duration:  UnknownDuration,
			Timestamp: p.now(),
		}
	}

	return p.Update(track)
}

// Update archives the previous track and replaces it with t, unless t has the
// same artist and title as the current track. The sentinel is never archived,
// and a track coming back around leaves the history.
func (p *Pipeline) Update(t Track) bool {
	if t.Same(p.current) {
		return false
	}

	if !p.current.IsSentinel() {
		p.archive(p.current)
	}
	p.history = slices.DeleteFunc(p.history, func(e HistoryEntry) bool { return e.Same(t) })
	p.current = t

	log.Debug().Str("artist", t.Artist).Str("title", t.Title).Msg("Track changed")
	return true
}

func (p *Pipeline) archive(t Track) {
	entry := HistoryEntry{Track: t, CapturedAt: p.now()}

	p.history = append(p.history, HistoryEntry{})
	copy(p.history[1:], p.history)
	p.history[0] = entry

	if len(p.history) > p.historySize {
		p.history = p.history[:p.historySize]
	}
}

// Reset puts the sentinel back as the current track without archiving.
func (p *Pipeline) Reset() {
	p.current = Sentinel()
}

func (p *Pipeline) ClearHistory() {
	p.history = p.history[:0]
}

func (p *Pipeline) Current() Track {
	return p.current
}

// History returns a copy of the history, most recent first.
func (p *Pipeline) History() []HistoryEntry {
	out := make([]HistoryEntry, len(p.history))
	copy(out, p.history)
	return out
}
