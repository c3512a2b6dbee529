// Package metadata turns inline stream titles into structured track events
// and keeps a bounded, most-recent-first history of previous tracks.
package metadata

import (
	"strings"
	"time"
)

const (
	// SentinelText marks a track for which no title has been parsed yet.
	SentinelText = "Loading..."
	// UnknownDuration is used for live streams, which never report a length.
	UnknownDuration = "--:--"
	// DefaultHistorySize is the number of previous tracks kept.
	DefaultHistorySize = 10
)

// Separators are tried in order; the first one present in a title wins.
var Separators = []string{" - ", " – ", " — "}

// Track is a current-track snapshot. It is replaced wholesale on every change.
type Track struct {
	Artist    string
	Title     string
	Duration  string
	Timestamp time.Time
}

// Sentinel returns the placeholder shown before any title has been parsed.
func Sentinel() Track {
	return Track{
		Artist:   SentinelText,
		Title:    SentinelText,
		Duration: UnknownDuration,
	}
}

// IsSentinel reports whether t is the "no data yet" placeholder.
func (t Track) IsSentinel() bool {
	return t.Artist == SentinelText && t.Title == SentinelText
}

// Same compares tracks by artist and title only.
func (t Track) Same(other Track) bool {
	return t.Artist == other.Artist && t.Title == other.Title
}

func (t Track) String() string {
	if t.IsSentinel() {
		return SentinelText
	}
	return t.Artist + " - " + t.Title
}

// HistoryEntry is an archived track together with the time it left the "now playing" slot.
type HistoryEntry struct {
	Track
	CapturedAt time.Time
}

// ParseTitle splits a raw inline title such as "Artist - Title" on the first
// separator from Separators that occurs in it. Only the first occurrence of
// that separator is used, so "A - B - C" yields artist "A" and title "B - C".
func ParseTitle(raw string, now time.Time) (Track, bool) {
	if raw == "" {
		return Track{}, false
	}

	for _, sep := range Separators {
		if !strings.Contains(raw, sep) {
			continue
		}
		parts := strings.SplitN(raw, sep, 2)
		if len(parts) != 2 {
			return Track{}, false
		}
		artist := strings.TrimSpace(parts[0])
		title := strings.TrimSpace(parts[1])
		if artist == "" || title == "" {
			return Track{}, false
		}
		return Track{
			Artist:    artist,
			Title:     title,
			Duration:  UnknownDuration,
			Timestamp: now,
		}, true
	}

	return Track{}, false
}
