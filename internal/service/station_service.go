// Package service provides the business logic layer for managing station data.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebovdev/somafm-tui/internal/api"
	"github.com/glebovdev/somafm-tui/internal/cache"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	imageLoadTimeout = 15 * time.Second

	// DefaultCatalogMaxAge is how long a cached channel list is used without
	// asking the network.
	DefaultCatalogMaxAge = time.Hour
)

// catalogClient is the part of the SomaFM API the service depends on.
type catalogClient interface {
	FetchChannelsJSON() ([]byte, error)
	GetCurrentSong(stationID string) (*api.SongInfo, error)
}

// StationService manages station data, including fetching, caching, and periodic refresh.
type StationService struct {
	apiClient     catalogClient
	httpClient    *resty.Client
	stations      []station.Station
	usage         map[string]int64
	maxAge        time.Duration
	mu            sync.RWMutex
	imageCache    *cache.Cache
	refreshTicker *time.Ticker
	stopRefresh   chan struct{}
	onRefresh     func([]station.Station)
}

// NewStationService creates a new StationService with the given API client.
func NewStationService(apiClient *api.SomaFMClient) *StationService {
	imageCache, err := cache.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize image cache, images will not be cached")
	}

	if imageCache != nil {
		go func() {
			if err := imageCache.CleanExpired(); err != nil {
				log.Debug().Err(err).Msg("Failed to clean expired cache")
			}
		}()
	}

	s := &StationService{
		imageCache: imageCache,
		maxAge:     DefaultCatalogMaxAge,
	}
	if apiClient != nil {
		s.apiClient = apiClient
	}
	return s
}

// SetUsage replaces the channel usage table (id to unix seconds of last
// play) and re-ranks the current list.
func (s *StationService) SetUsage(usage map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = make(map[string]int64, len(usage))
	for id, at := range usage {
		s.usage[id] = at
	}
	s.sortStations(s.stations)
}

// GetStations returns the channel list: a fresh cached copy if there is one,
// otherwise the network, otherwise a stale cached copy.
func (s *StationService) GetStations() ([]station.Station, error) {
	if s.imageCache != nil {
		if data, age, err := s.imageCache.LoadChannels(); err == nil && age <= s.maxAge {
			if stations, err := api.ParseStations(data); err == nil && len(stations) > 0 {
				log.Debug().Dur("age", age).Int("count", len(stations)).Msg("Channel list loaded from cache")
				return s.store(stations), nil
			}
		}
	}

	stations, netErr := s.fetch()
	if netErr == nil {
		return s.store(stations), nil
	}

	if s.imageCache != nil {
		if data, age, err := s.imageCache.LoadChannels(); err == nil {
			if stations, err := api.ParseStations(data); err == nil && len(stations) > 0 {
				log.Warn().Err(netErr).Dur("age", age).Msg("Using stale channel list")
				return s.store(stations), nil
			}
		}
	}

	return nil, netErr
}

// fetch downloads the catalog and refreshes the on-disk copy.
func (s *StationService) fetch() ([]station.Station, error) {
	if s.apiClient == nil {
		return nil, errors.New("no api client configured")
	}

	data, err := s.apiClient.FetchChannelsJSON()
	if err != nil {
		return nil, err
	}

	stations, err := api.ParseStations(data)
	if err != nil {
		return nil, err
	}

	if s.imageCache != nil {
		if err := s.imageCache.SaveChannels(data); err != nil {
			log.Debug().Err(err).Msg("Failed to cache channel list")
		}
	}
	return stations, nil
}

func (s *StationService) store(stations []station.Station) []station.Station {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sortStations(stations)
	s.stations = stations

	result := make([]station.Station, len(stations))
	copy(result, stations)
	return result
}

func (s *StationService) GetCachedStations() []station.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]station.Station, len(s.stations))
	copy(result, s.stations)
	return result
}

// Stations returns the current list in display order.
func (s *StationService) Stations() []station.Station {
	return s.GetCachedStations()
}

// sortStations orders recently played channels first (most recent first),
// the rest by listener count. Callers hold s.mu.
func (s *StationService) sortStations(stations []station.Station) {
	sort.SliceStable(stations, func(i, j int) bool {
		usedI, usedJ := s.usage[stations[i].ID], s.usage[stations[j].ID]
		if usedI != usedJ {
			return usedI > usedJ
		}
		return byListeners(stations[i], stations[j])
	})
}

// byListeners orders by listener count, unknown counts last.
func byListeners(a, b station.Station) bool {
	return a.ListenerCount() > b.ListenerCount()
}

// Search returns stations whose title, genre, DJ or description contains
// query, ignoring case. An empty query returns every station.
func (s *StationService) Search(query string) []station.Station {
	stations := s.GetCachedStations()

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return stations
	}

	return lo.Filter(stations, func(st station.Station, _ int) bool {
		for _, field := range []string{st.Title, st.Genre, st.DJ, st.Description} {
			if strings.Contains(strings.ToLower(field), query) {
				return true
			}
		}
		return false
	})
}

func (s *StationService) GetValidStationIDs() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.SliceToMap(s.stations, func(st station.Station) (string, bool) {
		return st.ID, true
	})
}

func (s *StationService) FindIndexByID(stationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, index, found := lo.FindIndexOf(s.stations, func(st station.Station) bool {
		return st.ID == stationID
	})
	if !found {
		return -1
	}
	return index
}

func (s *StationService) StationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stations)
}

// GetStation returns a copy of the station at the given index.
// Returns nil if the index is out of bounds.
// The returned station is a copy to prevent invalidation when the internal slice is refreshed.
func (s *StationService) GetStation(index int) *station.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.stations) {
		return nil
	}
	st := s.stations[index]
	return &st
}

func (s *StationService) client() *resty.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpClient == nil {
		s.httpClient = resty.New().SetTimeout(imageLoadTimeout)
	}
	return s.httpClient
}

func (s *StationService) LoadImage(url string) (image.Image, error) {
	if s.imageCache != nil {
		if img := s.imageCache.GetImage(url); img != nil {
			log.Debug().Str("url", url).Msg("Image loaded from cache")
			return img, nil
		}
	}

	resp, err := s.client().R().Get(url)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("image request returned status %d", resp.StatusCode())
	}

	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, err
	}

	if s.imageCache != nil {
		go func() {
			if err := s.imageCache.SaveImage(url, img); err != nil {
				log.Debug().Err(err).Str("url", url).Msg("Failed to cache image")
			} else {
				log.Debug().Str("url", url).Msg("Image cached")
			}
		}()
	}

	return img, nil
}

// GetCurrentSong returns the most recent song the songs API reports for a station.
func (s *StationService) GetCurrentSong(stationID string) (*api.SongInfo, error) {
	if s.apiClient == nil {
		return nil, errors.New("no api client configured")
	}
	return s.apiClient.GetCurrentSong(stationID)
}

func (s *StationService) StartPeriodicRefresh(interval time.Duration, callback func([]station.Station)) {
	s.StopPeriodicRefresh()

	s.mu.Lock()
	s.onRefresh = callback
	s.stopRefresh = make(chan struct{})
	s.refreshTicker = time.NewTicker(interval)
	ticker := s.refreshTicker
	stopCh := s.stopRefresh
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				s.refreshStationsInBackground()
			case <-stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	log.Debug().Dur("interval", interval).Msg("Started periodic station refresh")
}

func (s *StationService) StopPeriodicRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopRefresh != nil {
		close(s.stopRefresh)
		s.stopRefresh = nil
	}
	log.Debug().Msg("Stopped periodic station refresh")
}

func (s *StationService) refreshStationsInBackground() {
	newStations, err := s.fetch()
	if err != nil {
		log.Warn().Err(err).Msg("Background refresh failed, keeping cached data")
		return
	}

	newStations = s.store(newStations)

	s.mu.RLock()
	callback := s.onRefresh
	s.mu.RUnlock()

	if callback != nil {
		callback(newStations)
	}

	log.Debug().Int("count", len(newStations)).Msg("Station data refreshed in background")
}
