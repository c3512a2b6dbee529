// Package station defines the data structures for SomaFM radio channels.
package station

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoStreamAvailable is returned when a channel exposes no stream the player can decode.
var ErrNoStreamAvailable = errors.New("no compatible stream available")

// PlayableFormat is the only playlist format the playback engine decodes.
const PlayableFormat = "mp3"

// Playlist represents a streaming endpoint for a radio station.
type Playlist struct {
	URL     string `json:"url"`
	Format  string `json:"format"`  // Audio format (e.g., "mp3", "aac")
	Quality string `json:"quality"` // Quality level (e.g., "highest", "high")
}

// Station is an immutable catalog entry. The session only reads it.
type Station struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DJ          string     `json:"dj"`
	Genre       string     `json:"genre"` // Pipe-separated genre list
	Image       string     `json:"image"`
	LargeImage  string     `json:"largeimage"`
	XLImage     string     `json:"xlimage"`
	Updated     string     `json:"updated"`
	Playlists   []Playlist `json:"playlists"`
	Listeners   string     `json:"listeners"`
	LastPlaying string     `json:"lastPlaying"`
}

// PlayablePlaylistURLs returns the MP3 playlist URLs, highest quality first.
func (s *Station) PlayablePlaylistURLs() []string {
	var highest, other []string

	for _, playlist := range s.Playlists {
		if !strings.EqualFold(playlist.Format, PlayableFormat) || playlist.URL == "" {
			continue
		}
		if playlist.Quality == "highest" {
			highest = append(highest, playlist.URL)
		} else {
			other = append(other, playlist.URL)
		}
	}

	return append(highest, other...)
}

// ResolveStreamURL returns the preferred playable URL of the channel.
// The URL may still point to a playlist file that needs resolving to a direct stream.
func (s *Station) ResolveStreamURL() (string, error) {
	urls := s.PlayablePlaylistURLs()
	if len(urls) == 0 {
		return "", fmt.Errorf("channel %q: %w", s.ID, ErrNoStreamAvailable)
	}
	return urls[0], nil
}

// ListenerCount parses the listener count reported by the API. Unparseable values count as zero.
func (s *Station) ListenerCount() int {
	n, err := strconv.Atoi(strings.TrimSpace(s.Listeners))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// BitrateLabel derives a label such as "128k" from the preferred stream URL.
func (s *Station) BitrateLabel() string {
	url, err := s.ResolveStreamURL()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%dk", BitrateFromURL(url))
}

// ArtworkURL returns the largest available channel image.
func (s *Station) ArtworkURL() string {
	switch {
	case s.XLImage != "":
		return s.XLImage
	case s.LargeImage != "":
		return s.LargeImage
	default:
		return s.Image
	}
}

// BitrateFromURL extracts the bitrate from SomaFM playlist naming
// (groovesalad256.pls, groovesalad130.pls, groovesalad-aacp64.pls). Defaults to 128.
func BitrateFromURL(url string) int {
	// 130 is an internal SomaFM id for the 128k MP3 stream
	for _, br := range []int{320, 256, 192, 130, 128, 96, 64, 32} {
		brStr := strconv.Itoa(br)
		if strings.Contains(url, brStr+".pls") || strings.Contains(url, brStr+".") {
			if br == 130 {
				return 128
			}
			return br
		}
	}
	return 128
}
