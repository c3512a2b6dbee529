package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const samplePLS = `[playlist]
numberofentries=2
File1=https://ice1.somafm.com/groovesalad-256-mp3
Title1=SomaFM: Groove Salad (#1): A nicely chilled plate of ambient beats and grooves.
Length1=-1
File2=https://ice2.somafm.com/groovesalad-256-mp3
Title2=SomaFM: Groove Salad (#2)
Length2=-1
Version=2
`

func TestParsePLS(t *testing.T) {
	urls := ParsePLS([]byte(samplePLS))

	want := []string{
		"https://ice1.somafm.com/groovesalad-256-mp3",
		"https://ice2.somafm.com/groovesalad-256-mp3",
	}
	if len(urls) != len(want) {
		t.Fatalf("ParsePLS() = %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestParsePLSEmpty(t *testing.T) {
	if urls := ParsePLS([]byte("[playlist]\nnumberofentries=0\nFile1=\n")); len(urls) != 0 {
		t.Errorf("ParsePLS() = %v, want none", urls)
	}
}

func TestParseM3U(t *testing.T) {
	data := "#EXTM3U\n#EXTINF:-1,Drone Zone\n\nhttps://ice1.somafm.com/dronezone-128-mp3\r\nhttps://ice2.somafm.com/dronezone-128-mp3\n"

	urls := ParseM3U([]byte(data))
	if len(urls) != 2 || urls[0] != "https://ice1.somafm.com/dronezone-128-mp3" {
		t.Errorf("ParseM3U() = %v", urls)
	}
}

func TestPlaylistKind(t *testing.T) {
	tests := map[string]string{
		"https://somafm.com/groovesalad256.pls": ".pls",
		"https://somafm.com/list.M3U":           ".m3u",
		"https://somafm.com/list.m3u8?x=1":      ".m3u8",
		"https://ice1.somafm.com/groovesalad":   "",
		"://bad":                                "",
	}
	for in, want := range tests {
		if got := playlistKind(in); got != want {
			t.Errorf("playlistKind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePLS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groovesalad256.pls" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(samplePLS))
	}))
	defer server.Close()

	got, err := NewPlaylistResolver().Resolve(context.Background(), server.URL+"/groovesalad256.pls")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "https://ice1.somafm.com/groovesalad-256-mp3" {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestResolveM3U(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\nhttp://stream.test/live\n"))
	}))
	defer server.Close()

	got, err := NewPlaylistResolver().Resolve(context.Background(), server.URL+"/live.m3u")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "http://stream.test/live" {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestResolveDirectURL(t *testing.T) {
	const direct = "https://ice1.somafm.com/groovesalad-256-mp3"

	got, err := NewPlaylistResolver().Resolve(context.Background(), direct)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != direct {
		t.Errorf("Resolve() = %q, want passthrough", got)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"empty playlist", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("[playlist]\n")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewPlaylistResolver().Resolve(context.Background(), server.URL+"/x.pls")
			if !errors.Is(err, ErrPlaylist) {
				t.Errorf("Resolve() error = %v, want ErrPlaylist", err)
			}
		})
	}
}

func TestResolveCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewPlaylistResolver().Resolve(ctx, server.URL+"/x.pls"); !errors.Is(err, ErrPlaylist) {
		t.Errorf("Resolve() error = %v, want ErrPlaylist", err)
	}
}
