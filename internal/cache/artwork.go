package cache

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const (
	ArtworkTimeout   = 10 * time.Second
	ArtworkIndexSize = 64
)

// Artwork downloads remote artwork once and serves it from a local file so
// remote-control clients can show it through a file:// URL.
type Artwork struct {
	dir    string
	client *resty.Client
	index  *lru.Cache[string, string]
}

// NewArtwork stores artwork under <cache>/artwork.
func (c *Cache) NewArtwork() (*Artwork, error) {
	return NewArtworkAt(filepath.Join(c.baseDir, ArtworkSubdir), ArtworkIndexSize)
}

func NewArtworkAt(dir string, indexSize int) (*Artwork, error) {
	index, err := lru.New[string, string](indexSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create artwork index: %w", err)
	}
	return &Artwork{
		dir:    dir,
		client: resty.New().SetTimeout(ArtworkTimeout),
		index:  index,
	}, nil
}

func artworkExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}

// Path returns the local file for rawURL, downloading it on first use.
func (a *Artwork) Path(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("empty artwork URL")
	}

	if local, ok := a.index.Get(rawURL); ok {
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
		a.index.Remove(rawURL)
	}

	local := filepath.Join(a.dir, hashURL(rawURL)+artworkExt(rawURL))
	if _, err := os.Stat(local); err == nil {
		a.index.Add(rawURL, local)
		return local, nil
	}

	resp, err := a.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artwork: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("artwork returned status %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return "", fmt.Errorf("artwork %s is empty", rawURL)
	}

	if err := writeFileAtomic(local, resp.Body()); err != nil {
		return "", err
	}

	a.index.Add(rawURL, local)
	log.Debug().Str("url", rawURL).Str("file", local).Msg("Artwork cached")
	return local, nil
}

// FileURL returns a file:// URL for a local path.
func FileURL(localPath string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(localPath)}).String()
}
