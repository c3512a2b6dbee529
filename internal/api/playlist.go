package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const playlistTimeout = 10 * time.Second

// ErrPlaylist is returned when a playlist cannot be fetched or holds no stream.
var ErrPlaylist = errors.New("playlist resolution failed")

// PlaylistResolver turns SomaFM .pls/.m3u playlist URLs into direct stream URLs.
type PlaylistResolver struct {
	client *resty.Client
}

func NewPlaylistResolver() *PlaylistResolver {
	return &PlaylistResolver{
		client: resty.New().SetTimeout(playlistTimeout),
	}
}

// Resolve returns the first stream of the playlist at rawURL. URLs that are
// not playlists are returned unchanged.
func (r *PlaylistResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	kind := playlistKind(rawURL)
	if kind == "" {
		return rawURL, nil
	}

	resp, err := r.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %w", ErrPlaylist, rawURL, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: %s returned status %d", ErrPlaylist, rawURL, resp.StatusCode())
	}

	var streams []string
	if kind == ".pls" {
		streams = ParsePLS(resp.Body())
	} else {
		streams = ParseM3U(resp.Body())
	}

	if len(streams) == 0 {
		return "", fmt.Errorf("%w: no stream URL in %s", ErrPlaylist, rawURL)
	}

	log.Debug().Str("playlist", rawURL).Int("streams", len(streams)).Str("stream", streams[0]).Msg("Playlist resolved")
	return streams[0], nil
}

func playlistKind(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".pls", ".m3u", ".m3u8":
		return ext
	default:
		return ""
	}
}

// ParsePLS returns the FileN= entries of a PLS playlist in file order.
func ParsePLS(data []byte) []string {
	var urls []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(strings.ToLower(line), "file") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if u := strings.TrimSpace(parts[1]); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ParseM3U returns the non-comment lines of an M3U playlist.
func ParseM3U(data []byte) []string {
	var urls []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls
}
