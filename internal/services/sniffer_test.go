package services

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"testing"
)

func TestExtractStreamCandidates(t *testing.T) {
	body := `
		<video src="https://cdn.example.com/media/video.mp4"></video>
		<script>var cfg = {"src":"https:\/\/cdn.example.com\/hls\/index.m3u8?tok=abc"};</script>
		<img src="https://cdn.example.com/poster.jpg">
		<a href="https://cdn.example.com/media/video.mp4">again</a>
	`

	got := extractStreamCandidates(body, false)
	if len(got) != 2 {
		t.Fatalf("got %d candidates (%v), want 2", len(got), got)
	}
	if !strings.Contains(got[0], ".m3u8") {
		t.Errorf("expected m3u8 candidate first, got %q", got[0])
	}
	if got[1] != "https://cdn.example.com/media/video.mp4" {
		t.Errorf("unexpected second candidate %q", got[1])
	}
}

func TestExtractStreamCandidatesRequireHLS(t *testing.T) {
	body := `
		<video src="https://cdn.example.com/media/video.mp4"></video>
		<source src="https://cdn.example.com/hls/index.m3u8">
	`

	got := extractStreamCandidates(body, true)
	if len(got) != 1 {
		t.Fatalf("got %d candidates (%v), want 1", len(got), got)
	}
	if !strings.Contains(got[0], ".m3u8") {
		t.Errorf("expected only m3u8 candidates, got %q", got[0])
	}
}

func TestExtractStreamCandidatesEmpty(t *testing.T) {
	if got := extractStreamCandidates("<html>no media here</html>", false); got != nil {
		t.Errorf("expected no candidates, got %v", got)
	}
}

func TestIsStaticAsset(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example.com/poster.jpg.mp4", true},
		{"https://cdn.example.com/favicon-v2.mp4", true},
		{"https://cdn.example.com/media/episode-01.mp4", false},
		{"https://cdn.example.com/hls/index.m3u8", false},
	}
	for _, tt := range tests {
		if got := isStaticAsset(tt.url); got != tt.want {
			t.Errorf("isStaticAsset(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestBuildStreamHeaders(t *testing.T) {
	pageURL := "https://watch.example.com/video/123"

	headers := buildStreamHeaders(pageURL, nil, nil)
	if headers["Referer"] != pageURL {
		t.Errorf("Referer = %q, want %q", headers["Referer"], pageURL)
	}
	if headers["Origin"] != "https://watch.example.com" {
		t.Errorf("Origin = %q", headers["Origin"])
	}
	if headers["User-Agent"] == "" {
		t.Error("User-Agent missing")
	}
	if _, ok := headers["Authorization"]; ok {
		t.Error("Authorization set without credentials")
	}

	withCreds := buildStreamHeaders(pageURL, nil, &Credentials{Username: "user", Password: "pass"})
	if !strings.HasPrefix(withCreds["Authorization"], "Basic ") {
		t.Errorf("Authorization = %q, want Basic prefix", withCreds["Authorization"])
	}
}

func TestCookieHeader(t *testing.T) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	site, _ := url.Parse("https://watch.example.com/")
	jar.SetCookies(site, []*http.Cookie{
		{Name: "session", Value: "abc123", Path: "/"},
		{Name: "lang", Value: "zh-TW", Path: "/"},
	})

	got := cookieHeader(jar, "https://watch.example.com/video/123")
	if !strings.Contains(got, "session=abc123") || !strings.Contains(got, "lang=zh-TW") {
		t.Errorf("cookieHeader = %q", got)
	}

	if got := cookieHeader(nil, "https://watch.example.com/"); got != "" {
		t.Errorf("nil jar should produce empty header, got %q", got)
	}
}

func TestTail(t *testing.T) {
	if got := tail("abcdef", 3); got != "def" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("ab", 5); got != "ab" {
		t.Errorf("tail = %q", got)
	}
}
