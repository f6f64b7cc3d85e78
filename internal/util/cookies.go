package util

import (
	"fmt"
	"os"
	"strings"
)

var botDetectionErrors = []string{
	"Sign in to confirm you",
	"confirm your age",
	"This video is unavailable",
	"Private video",
}

func NeedsCookiesRetry(errorOutput string) bool {
	for _, e := range botDetectionErrors {
		if strings.Contains(errorOutput, e) {
			return true
		}
	}
	return false
}

// WriteNetscapeCookies converts a Cookie request header into a temporary
// Netscape-format cookie file for yt-dlp. Caller removes the file when done.
func WriteNetscapeCookies(cookieHeader, domain string) (string, error) {
	if cookieHeader == "" {
		return "", nil
	}
	if !strings.HasPrefix(domain, ".") {
		domain = "." + domain
	}

	f, err := os.CreateTemp("", "cookies-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	for _, cookie := range strings.Split(cookieHeader, ";") {
		cookie = strings.TrimSpace(cookie)
		name, value, ok := strings.Cut(cookie, "=")
		if !ok || name == "" {
			continue
		}
		fmt.Fprintf(&b, "%s\tTRUE\t/\tFALSE\t0\t%s\t%s\n", domain, name, value)
	}

	if _, err := f.WriteString(b.String()); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
