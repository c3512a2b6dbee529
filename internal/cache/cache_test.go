package cache

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHashURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"simple URL", "http://example.com/image.png"},
		{"URL with query params", "http://example.com/image.png?size=large"},
		{"empty string", ""},
		{"https URL", "https://somafm.com/images/logo.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := hashURL(tt.url)

			if len(result) != 64 {
				t.Errorf("hashURL(%q) length = %d, want 64", tt.url, len(result))
			}

			for _, c := range result {
				if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
					t.Errorf("hashURL(%q) contains non-hex character: %c", tt.url, c)
				}
			}
		})
	}

	if hashURL("http://example.com/1.png") == hashURL("http://example.com/2.png") {
		t.Error("Different URLs produced same hash")
	}
}

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestSaveAndGetImage(t *testing.T) {
	cache := NewCacheAt(t.TempDir())

	testURL := "http://example.com/test-image.png"
	if err := cache.SaveImage(testURL, createTestImage(100, 100)); err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}

	retrievedImg := cache.GetImage(testURL)
	if retrievedImg == nil {
		t.Fatal("GetImage() returned nil, expected image")
	}

	bounds := retrievedImg.Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 100 {
		t.Errorf("Retrieved image size = %dx%d, want 100x100", bounds.Dx(), bounds.Dy())
	}

	if cache.GetImage("http://example.com/nonexistent.png") != nil {
		t.Error("GetImage() for nonexistent URL should return nil")
	}
}

func TestGetImageExpired(t *testing.T) {
	tmpDir := t.TempDir()
	cache := &Cache{baseDir: tmpDir, expiry: time.Millisecond}

	testURL := "http://example.com/expired-image.png"
	if err := cache.SaveImage(testURL, createTestImage(50, 50)); err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if cache.GetImage(testURL) != nil {
		t.Error("GetImage() for expired image should return nil")
	}

	imagePath := filepath.Join(tmpDir, ImageSubdir, hashURL(testURL)+".png")
	if _, err := os.Stat(imagePath); !os.IsNotExist(err) {
		t.Error("Expired image file should have been deleted")
	}
}

func TestCleanExpired(t *testing.T) {
	tmpDir := t.TempDir()
	cache := &Cache{baseDir: tmpDir, expiry: time.Millisecond}

	for _, url := range []string{"http://example.com/1.png", "http://example.com/2.png"} {
		if err := cache.SaveImage(url, createTestImage(10, 10)); err != nil {
			t.Fatalf("SaveImage(%q) error = %v", url, err)
		}
	}
	artworkDir := filepath.Join(tmpDir, ArtworkSubdir)
	if err := os.MkdirAll(artworkDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(artworkDir, "old.jpg"), []byte("jpg"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	for _, dir := range []string{ImageSubdir, ArtworkSubdir} {
		entries, err := os.ReadDir(filepath.Join(tmpDir, dir))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Errorf("CleanExpired() left %d files in %s, want 0", len(entries), dir)
		}
	}
}

func TestCleanExpiredKeepsValidFiles(t *testing.T) {
	cache := &Cache{baseDir: t.TempDir(), expiry: 24 * time.Hour}

	testURL := "http://example.com/valid-image.png"
	if err := cache.SaveImage(testURL, createTestImage(10, 10)); err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}

	if cache.GetImage(testURL) == nil {
		t.Error("CleanExpired() should not remove valid (non-expired) images")
	}
}

func TestCleanExpiredNonExistentDirectory(t *testing.T) {
	cache := NewCacheAt(t.TempDir())

	if err := cache.CleanExpired(); err != nil {
		t.Errorf("CleanExpired() should not error on non-existent directory, got %v", err)
	}
}

func TestGetCacheDir(t *testing.T) {
	dir, err := GetCacheDir()
	if err != nil {
		t.Fatalf("GetCacheDir() error = %v", err)
	}

	if !filepath.IsAbs(dir) {
		t.Errorf("GetCacheDir() = %q, want absolute path", dir)
	}

	if filepath.Base(dir) != AppName {
		t.Errorf("GetCacheDir() directory name = %q, want %q", filepath.Base(dir), AppName)
	}
}

func TestNewCache(t *testing.T) {
	cache, err := NewCache()
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if cache.Dir() == "" {
		t.Error("NewCache() cache.baseDir is empty")
	}
	if cache.expiry != DefaultExpiry {
		t.Errorf("NewCache() cache.expiry = %v, want %v", cache.expiry, DefaultExpiry)
	}
}

func TestChannelsCache(t *testing.T) {
	cache := NewCacheAt(t.TempDir())

	if _, _, err := cache.LoadChannels(); !errors.Is(err, ErrNotCached) {
		t.Fatalf("LoadChannels() on empty cache error = %v, want ErrNotCached", err)
	}

	doc := []byte(`{"channels":[{"id":"groovesalad"}]}`)
	if err := cache.SaveChannels(doc); err != nil {
		t.Fatalf("SaveChannels() error = %v", err)
	}

	data, age, err := cache.LoadChannels()
	if err != nil {
		t.Fatalf("LoadChannels() error = %v", err)
	}
	if string(data) != string(doc) {
		t.Errorf("LoadChannels() = %s", data)
	}
	if age < 0 || age > time.Minute {
		t.Errorf("LoadChannels() age = %v", age)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(cache.Dir(), ChannelsFileName), old, old); err != nil {
		t.Fatal(err)
	}
	if _, age, _ := cache.LoadChannels(); age < time.Hour {
		t.Errorf("age after backdating = %v, want > 1h", age)
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.bin")

	if err := writeFileAtomic(path, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(path, []byte("two")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "two" {
		t.Errorf("file = %q, %v", data, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestArtworkPath(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	cache := NewCacheAt(t.TempDir())
	artwork, err := cache.NewArtwork()
	if err != nil {
		t.Fatalf("NewArtwork() error = %v", err)
	}

	url := server.URL + "/img/groovesalad-400.png"
	local, err := artwork.Path(context.Background(), url)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}

	if filepath.Base(local) != hashURL(url)+".png" {
		t.Errorf("local file = %q", local)
	}
	data, err := os.ReadFile(local)
	if err != nil || string(data) != "image-bytes" {
		t.Errorf("artwork file = %q, %v", data, err)
	}

	again, err := artwork.Path(context.Background(), url)
	if err != nil || again != local {
		t.Errorf("second Path() = %q, %v", again, err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}

	// A fresh index still finds the file on disk.
	fresh, _ := cache.NewArtwork()
	if p, err := fresh.Path(context.Background(), url); err != nil || p != local {
		t.Errorf("Path() with fresh index = %q, %v", p, err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}

	if _, err := artwork.Path(context.Background(), server.URL+"/missing.png"); err == nil {
		t.Error("Path() for 404 should fail")
	}
	if _, err := artwork.Path(context.Background(), ""); err == nil {
		t.Error("Path() for empty URL should fail")
	}
}

func TestArtworkExt(t *testing.T) {
	tests := map[string]string{
		"https://somafm.com/img3/groovesalad-400.jpg": ".jpg",
		"https://somafm.com/logos/x.PNG":              ".png",
		"https://somafm.com/logos/x":                  ".jpg",
		"https://somafm.com/logos/x.svg":              ".jpg",
	}
	for in, want := range tests {
		if got := artworkExt(in); got != want {
			t.Errorf("artworkExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileURL(t *testing.T) {
	if got := FileURL("/tmp/somafm/artwork/a b.jpg"); got != "file:///tmp/somafm/artwork/a%20b.jpg" {
		t.Errorf("FileURL() = %q", got)
	}
}
