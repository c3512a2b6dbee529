package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	AppName           = "SomaFM TUI"
	AppTagline        = "Terminal radio player"
	AppDescription    = "A terminal-based music player for SomaFM radio stations"
	AppAuthor         = "Ilya Glebov"
	AppAuthorURL      = "https://ilyaglebov.dev"
	AppAuthorURLShort = "ilyaglebov.dev"
	AppProjectURL     = "https://github.com/glebovdev/somafm-tui"
	AppProjectShort   = "github.com/glebovdev/somafm-tui"
	AppDonateURL      = "https://somafm.com/donate/"
	AppDonateShort    = "somafm.com/donate"

	ConfigDir      = ".config/somafm"
	ConfigFileName = "config.yml"
	DefaultVolume  = 70
	MinVolume      = 0
	MaxVolume      = 100

	DefaultBufferSizeMB  = 50
	MinBufferSizeMB      = 1
	MaxBufferSizeMB      = 1024
	DefaultStopTimeout   = 5 * time.Second
	DefaultHistorySize   = 10
	MaxHistorySize       = 100
	DefaultCatalogMaxAge = time.Hour
)

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/glebovdev/somafm-tui/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

type Theme struct {
	Background                  string `yaml:"background"`
	Foreground                  string `yaml:"foreground"`
	Borders                     string `yaml:"borders"`
	Highlight                   string `yaml:"highlight"`
	MutedVolume                 string `yaml:"muted_volume"`
	HeaderBackground            string `yaml:"header_background"`
	StationListHeaderBackground string `yaml:"station_list_header_background"`
	StationListHeaderForeground string `yaml:"station_list_header_foreground"`
	HelpBackground              string `yaml:"help_background"`
	HelpForeground              string `yaml:"help_foreground"`
	HelpHotkey                  string `yaml:"help_hotkey"`
	GenreTagBackground          string `yaml:"genre_tag_background"`
	ModalBackground             string `yaml:"modal_background"`
}

type BufferConfig struct {
	SizeMB      int           `yaml:"size_mb"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

type HistoryConfig struct {
	Size                 int  `yaml:"size"`
	ResetOnChannelChange bool `yaml:"reset_on_channel_change"`
}

type MetadataConfig struct {
	// FallbackToChannelTitle shows titles without an artist separator as
	// {artist: channel title, title: raw} instead of ignoring them.
	FallbackToChannelTitle bool `yaml:"fallback_to_channel_title"`
}

type DBusConfig struct {
	Enabled      bool `yaml:"enabled"`
	SendMetadata bool `yaml:"send_metadata"`
	SendArtwork  bool `yaml:"send_artwork"`
	CacheArtwork bool `yaml:"cache_artwork"`
}

type Config struct {
	Volume       int              `yaml:"volume"`
	LastStation  string           `yaml:"last_station"`
	Autostart    bool             `yaml:"autostart"`
	Favorites    []string         `yaml:"favorites"`
	ChannelUsage map[string]int64 `yaml:"channel_usage"`
	Buffer       BufferConfig     `yaml:"buffer"`
	History      HistoryConfig    `yaml:"history"`
	Metadata     MetadataConfig   `yaml:"metadata"`
	DBus         DBusConfig       `yaml:"dbus"`
	Theme        Theme            `yaml:"theme"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(home, ConfigDir, ConfigFileName)
	return configPath, nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:       DefaultVolume,
		LastStation:  "",
		Autostart:    false,
		Favorites:    []string{},
		ChannelUsage: map[string]int64{},
		Buffer: BufferConfig{
			SizeMB:      DefaultBufferSizeMB,
			StopTimeout: DefaultStopTimeout,
		},
		History: HistoryConfig{
			Size: DefaultHistorySize,
		},
		DBus: DBusConfig{
			CacheArtwork: true,
		},
		Theme: Theme{
			Background:                  "#1a1b25",
			Foreground:                  "#a3aacb",
			Borders:                     "#40445b",
			Highlight:                   "#ff9d65",
			MutedVolume:                 "#fe0702",
			HeaderBackground:            "#473533",
			StationListHeaderBackground: "#3a3d4f",
			StationListHeaderForeground: "#c8d0e8",
			HelpBackground:              "#322f45",
			HelpForeground:              "#9aa3c6",
			HelpHotkey:                  "#ff9d65",
			GenreTagBackground:          "#3a3d4f",
			ModalBackground:             "#282a36",
		},
	}
}

// Normalize clamps every value into its valid range and fills in missing
// defaults. Load calls it once; nothing downstream re-validates.
func (c *Config) Normalize() {
	c.Volume = ClampVolume(c.Volume)

	switch {
	case c.Buffer.SizeMB == 0:
		c.Buffer.SizeMB = DefaultBufferSizeMB
	case c.Buffer.SizeMB < MinBufferSizeMB:
		c.Buffer.SizeMB = MinBufferSizeMB
	case c.Buffer.SizeMB > MaxBufferSizeMB:
		c.Buffer.SizeMB = MaxBufferSizeMB
	}
	if c.Buffer.StopTimeout <= 0 {
		c.Buffer.StopTimeout = DefaultStopTimeout
	}

	if c.History.Size <= 0 {
		c.History.Size = DefaultHistorySize
	}
	c.History.Size = min(c.History.Size, MaxHistorySize)

	if c.Favorites == nil {
		c.Favorites = []string{}
	}
	if c.ChannelUsage == nil {
		c.ChannelUsage = map[string]int64{}
	}
}

// BufferCapacity returns the stream buffer capacity in bytes.
func (c *Config) BufferCapacity() int64 {
	return int64(c.Buffer.SizeMB) * 1024 * 1024
}

// SessionOptions derives the playback session configuration.
func (c *Config) SessionOptions(cacheDir string) session.Options {
	return session.Options{
		CacheDir:             cacheDir,
		BufferCapacity:       c.BufferCapacity(),
		HistorySize:          c.History.Size,
		ResetHistoryOnSwitch: c.History.ResetOnChannelChange,
		TitleFallback:        c.Metadata.FallbackToChannelTitle,
		Volume:               c.Volume,
	}
}

func (c *Config) IsFavorite(stationID string) bool {
	return lo.Contains(c.Favorites, stationID)
}

func (c *Config) ToggleFavorite(stationID string) {
	if c.IsFavorite(stationID) {
		c.Favorites = lo.Without(c.Favorites, stationID)
		return
	}
	c.Favorites = append(c.Favorites, stationID)
}

func (c *Config) CleanupFavorites(validStationIDs map[string]bool) {
	c.Favorites = lo.Filter(c.Favorites, func(id string, _ int) bool {
		return validStationIDs[id]
	})
}

// RecordUsage marks a channel as played at the given time.
func (c *Config) RecordUsage(stationID string, at time.Time) {
	if c.ChannelUsage == nil {
		c.ChannelUsage = map[string]int64{}
	}
	c.ChannelUsage[stationID] = at.Unix()
}

// CleanupUsage drops usage records of channels no longer in the catalog.
func (c *Config) CleanupUsage(validStationIDs map[string]bool) {
	c.ChannelUsage = lo.PickBy(c.ChannelUsage, func(id string, _ int64) bool {
		return validStationIDs[id]
	})
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
