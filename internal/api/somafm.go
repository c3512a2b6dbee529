// Package api provides the HTTP client for the SomaFM API.
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebovdev/somafm-tui/internal/config"
	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/go-resty/resty/v2"
)

const (
	baseURL        = "https://api.somafm.com"
	requestTimeout = 30 * time.Second

	channelsPath = "/channels.json"
	songsPath    = "/songs/{channel}.json"
)

// StatusError reports a non-2xx answer from the SomaFM API.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
}

// SomaFMClient is the HTTP client for interacting with the SomaFM API.
type SomaFMClient struct {
	client *resty.Client
}

// NewSomaFMClient creates a new SomaFM API client with sensible defaults.
func NewSomaFMClient() *SomaFMClient {
	return &SomaFMClient{client: newRestClient(baseURL)}
}

func newRestClient(base string) *resty.Client {
	return resty.New().
		SetBaseURL(base).
		SetTimeout(requestTimeout).
		SetHeader("User-Agent", config.AppName+"/"+config.AppVersion)
}

func checkResponse(endpoint string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	if !resp.IsSuccess() {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode()}
	}
	return nil
}

// FetchChannelsJSON returns the raw catalog document, suitable for caching.
func (c *SomaFMClient) FetchChannelsJSON() ([]byte, error) {
	resp, err := c.client.R().Get(channelsPath)
	if err := checkResponse("channel catalog", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// ParseStations decodes a catalog document.
func ParseStations(data []byte) ([]station.Station, error) {
	var response struct {
		Channels []station.Station `json:"channels"`
	}

	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse stations response: %w", err)
	}

	return response.Channels, nil
}

// SongInfo is one entry of a channel's song history. Date is the play time
// in unix seconds, as a string.
type SongInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Date   string `json:"date"`
}

// PlayedAt parses Date. ok is false when the API sent no usable time.
func (s SongInfo) PlayedAt() (time.Time, bool) {
	sec, err := strconv.ParseInt(strings.TrimSpace(s.Date), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// Track converts the song into a track for seeding a session. Artist and
// title must both be present. The timestamp is the play time when known,
// otherwise now.
func (s SongInfo) Track(now time.Time) (metadata.Track, bool) {
	artist := strings.TrimSpace(s.Artist)
	title := strings.TrimSpace(s.Title)
	if artist == "" || title == "" {
		return metadata.Track{}, false
	}

	ts := now
	if played, ok := s.PlayedAt(); ok && !played.After(now) {
		ts = played
	}
	return metadata.Track{
		Artist:    artist,
		Title:     title,
		Duration:  metadata.UnknownDuration,
		Timestamp: ts,
	}, true
}

type SongsResponse struct {
	ID    string     `json:"id"`
	Songs []SongInfo `json:"songs"`
}

// GetRecentSongs fetches the recent song history for a specific station.
func (c *SomaFMClient) GetRecentSongs(stationID string) (*SongsResponse, error) {
	var songs SongsResponse
	resp, err := c.client.R().
		SetPathParam("channel", stationID).
		SetResult(&songs).
		ForceContentType("application/json").
		Get(songsPath)
	if err := checkResponse("songs for "+stationID, resp, err); err != nil {
		return nil, err
	}
	return &songs, nil
}

// GetCurrentSong returns the most recent song of a station, or nil if the
// station has no song history.
func (c *SomaFMClient) GetCurrentSong(stationID string) (*SongInfo, error) {
	songs, err := c.GetRecentSongs(stationID)
	if err != nil {
		return nil, err
	}

	if len(songs.Songs) == 0 {
		return nil, nil
	}
	return &songs.Songs[0], nil
}
