// Package cache keeps station logos, the channel catalog and MPRIS artwork
// under the user cache directory.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long cached images are valid (7 days).
	DefaultExpiry = 7 * 24 * time.Hour
	// ImageSubdir holds station logos.
	ImageSubdir = "images"
	// ArtworkSubdir holds artwork files handed to remote-control clients.
	ArtworkSubdir = "artwork"
	// ChannelsFileName is the cached catalog document.
	ChannelsFileName = "channels.json"
	// AppName is used for the cache directory name.
	AppName = "somafm"
)

// ErrNotCached is returned when an entry has never been written.
var ErrNotCached = errors.New("not cached")

// Cache is a disk cache rooted at one directory.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// NewCache creates a Cache in the platform cache directory with the default expiry.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}
	return NewCacheAt(cacheDir), nil
}

func NewCacheAt(dir string) *Cache {
	return &Cache{
		baseDir: dir,
		expiry:  DefaultExpiry,
	}
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	return filepath.Join(userCacheDir, AppName), nil
}

func (c *Cache) Dir() string {
	return c.baseDir
}

// hashURL names cache entries by the SHA-256 of their source URL.
func hashURL(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])
}

// writeFileAtomic writes data to path using temp file + rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

func (c *Cache) imagePath(url string) string {
	return filepath.Join(c.baseDir, ImageSubdir, hashURL(url)+".png")
}

// GetImage retrieves a cached image by URL. Returns nil if not found or expired.
func (c *Cache) GetImage(url string) image.Image {
	imagePath := c.imagePath(url)

	info, err := os.Stat(imagePath)
	if err != nil {
		return nil
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(imagePath); err != nil {
			log.Debug().Err(err).Str("file", imagePath).Msg("Failed to remove expired cache file")
		}
		return nil
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return nil
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		log.Debug().Err(err).Str("file", imagePath).Msg("Failed to decode cached image")
		return nil
	}

	return img
}

// SaveImage stores an image as PNG, keyed by its URL.
func (c *Cache) SaveImage(url string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return writeFileAtomic(c.imagePath(url), buf.Bytes())
}

func (c *Cache) channelsPath() string {
	return filepath.Join(c.baseDir, ChannelsFileName)
}

// SaveChannels stores the raw catalog document.
func (c *Cache) SaveChannels(data []byte) error {
	return writeFileAtomic(c.channelsPath(), data)
}

// LoadChannels returns the cached catalog document and its age. It returns
// ErrNotCached if the catalog was never saved.
func (c *Cache) LoadChannels() ([]byte, time.Duration, error) {
	path := c.channelsPath()

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotCached
		}
		return nil, 0, fmt.Errorf("failed to stat channel cache: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read channel cache: %w", err)
	}

	return data, time.Since(info.ModTime()), nil
}

// CleanExpired removes image and artwork files older than the expiry duration.
func (c *Cache) CleanExpired() error {
	var errs []error
	for _, sub := range []string{ImageSubdir, ArtworkSubdir} {
		if err := c.cleanDir(filepath.Join(c.baseDir, sub)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		if now.Sub(info.ModTime()) <= c.expiry {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		if err := os.Remove(filePath); err != nil {
			log.Debug().Err(err).Str("file", filePath).Msg("Failed to remove expired cache file")
			failed++
		} else {
			removed++
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Str("dir", dir).Int("removed", removed).Int("failed", failed).Msg("Cache cleanup completed")
	}
	return nil
}
