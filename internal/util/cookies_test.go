package util

import (
	"os"
	"strings"
	"testing"
)

func TestNeedsCookiesRetry(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"ERROR: Sign in to confirm you're not a bot", true},
		{"ERROR: Private video", true},
		{"ERROR: Unsupported URL", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := NeedsCookiesRetry(tt.output); got != tt.want {
			t.Errorf("NeedsCookiesRetry(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}

func TestWriteNetscapeCookies(t *testing.T) {
	path, err := WriteNetscapeCookies("session=abc123; lang=zh-TW", "watch.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if path == "" {
		t.Fatal("expected a cookie file path")
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# Netscape HTTP Cookie File") {
		t.Error("missing Netscape header line")
	}
	if !strings.Contains(content, ".watch.example.com\tTRUE\t/\tFALSE\t0\tsession\tabc123") {
		t.Errorf("session cookie line missing:\n%s", content)
	}
	if !strings.Contains(content, "lang\tzh-TW") {
		t.Errorf("lang cookie line missing:\n%s", content)
	}
}

func TestWriteNetscapeCookiesEmpty(t *testing.T) {
	path, err := WriteNetscapeCookies("", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		os.Remove(path)
		t.Errorf("empty header should produce no file, got %q", path)
	}
}

func TestWriteNetscapeCookiesSkipsMalformed(t *testing.T) {
	path, err := WriteNetscapeCookies("good=1; =bad; nonsense", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(path)

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "good\t1") {
		t.Error("valid cookie dropped")
	}
	if strings.Contains(content, "bad") || strings.Contains(content, "nonsense") {
		t.Errorf("malformed entries leaked:\n%s", content)
	}
}
