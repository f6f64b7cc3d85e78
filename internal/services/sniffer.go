package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/util"
)

type Credentials struct {
	Username string
	Password string
}

type SniffResult struct {
	StreamURL string            `json:"streamUrl"`
	Platform  string            `json:"platform"`
	Headers   map[string]string `json:"headers"`
}

var streamURLRe = regexp.MustCompile(`https?://[^\s"'<>\\]+?\.(?:m3u8|mp4)(?:\?[^\s"'<>\\]*)?`)

var staticAssetMarkers = []string{".png", ".jpg", ".jpeg", ".css", ".js?", "favicon"}

const maxSniffBody = 4 << 20

// Sniff fetches the video page and discovers a playable stream URL plus the
// request headers needed to fetch it: the page's cookies, referer and origin.
func Sniff(ctx context.Context, platformName, pageURL string, creds *Credentials) (*SniffResult, error) {
	platform, ok := config.Platforms[platformName]
	if !ok {
		platform = config.Platforms["generic"]
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar, Timeout: config.SniffProbeTimeout}

	body, err := fetchPage(ctx, client, pageURL, creds)
	if err != nil {
		return nil, fmt.Errorf("page fetch failed: %w", err)
	}

	candidates := extractStreamCandidates(body, platform.RequireHLS)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no stream candidates found on page")
	}
	log.Printf("[Sniffer] %d candidates on %s", len(candidates), util.ShortID(pageURL))

	headers := buildStreamHeaders(pageURL, jar, creds)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if probeStream(ctx, client, candidate, headers) {
			log.Printf("[Sniffer] Locked stream: ...%s", tail(candidate, 50))
			if cookies := cookieHeader(jar, candidate, pageURL); cookies != "" {
				headers["Cookie"] = cookies
			}
			return &SniffResult{
				StreamURL: candidate,
				Platform:  platform.Name,
				Headers:   headers,
			}, nil
		}
	}

	return nil, fmt.Errorf("no candidate passed validation")
}

func fetchPage(ctx context.Context, client *http.Client, pageURL string, creds *Credentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", config.DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-TW,zh;q=0.9,en;q=0.8")
	if creds != nil && creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSniffBody))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractStreamCandidates scans markup and inline scripts for media URLs.
// JSON-escaped slashes are normalized first so player configs are caught.
func extractStreamCandidates(body string, requireHLS bool) []string {
	normalized := strings.ReplaceAll(body, `\/`, "/")
	matches := streamURLRe.FindAllString(normalized, -1)

	seen := make(map[string]bool)
	var candidates []string
	for _, m := range matches {
		if seen[m] || isStaticAsset(m) {
			continue
		}
		if requireHLS && !strings.Contains(m, ".m3u8") {
			continue
		}
		seen[m] = true
		candidates = append(candidates, m)
		if len(candidates) >= config.MaxSniffCandidates {
			break
		}
	}

	// HLS playlists first; they carry quality variants.
	sort.SliceStable(candidates, func(i, j int) bool {
		return strings.Contains(candidates[i], ".m3u8") && !strings.Contains(candidates[j], ".m3u8")
	})
	return candidates
}

func isStaticAsset(u string) bool {
	lower := strings.ToLower(u)
	for _, marker := range staticAssetMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// probeStream issues a ranged request with the sniffed headers. For HLS the
// body must look like a playlist.
func probeStream(ctx context.Context, client *http.Client, streamURL string, headers map[string]string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, config.SniffProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		return false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", "bytes=0-2047")

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return false
	}

	if strings.Contains(streamURL, ".m3u8") {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return strings.Contains(string(data), "#EXTM3U")
	}
	return true
}

// buildStreamHeaders applies the whitelist the desktop client used:
// user-agent, referer, origin and authorization, nothing else.
func buildStreamHeaders(pageURL string, jar http.CookieJar, creds *Credentials) map[string]string {
	headers := map[string]string{
		"User-Agent": config.DefaultUserAgent,
		"Referer":    pageURL,
	}
	if parsed, err := url.Parse(pageURL); err == nil {
		headers["Origin"] = parsed.Scheme + "://" + parsed.Host
	}
	if creds != nil && creds.Username != "" {
		headers["Authorization"] = "Basic " + basicAuth(creds.Username, creds.Password)
	}
	if cookies := cookieHeader(jar, pageURL); cookies != "" {
		headers["Cookie"] = cookies
	}
	return headers
}

func cookieHeader(jar http.CookieJar, urls ...string) string {
	if jar == nil {
		return ""
	}
	seen := make(map[string]bool)
	var parts []string
	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		for _, c := range jar.Cookies(parsed) {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	return strings.Join(parts, "; ")
}

func basicAuth(username, password string) string {
	req, _ := http.NewRequest(http.MethodGet, "http://localhost", nil)
	req.SetBasicAuth(username, password)
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Basic ")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
