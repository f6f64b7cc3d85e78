package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/streamsniff/streamsniff/internal/config"
)

func TestToolPathPrefersBundled(t *testing.T) {
	binDir := t.TempDir()
	config.BinDir = binDir
	t.Setenv("PATH", t.TempDir())

	bundled := filepath.Join(binDir, "ffprobe")
	if err := os.WriteFile(bundled, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	if got := FFprobePath(); got != bundled {
		t.Errorf("FFprobePath = %q, want bundled %q", got, bundled)
	}
	if got := FFmpegPath(); got != "" {
		t.Errorf("FFmpegPath = %q, want empty with no tool installed", got)
	}
}

func TestToolPathWindowsSuffix(t *testing.T) {
	binDir := t.TempDir()
	config.BinDir = binDir
	t.Setenv("PATH", t.TempDir())

	bundled := filepath.Join(binDir, "yt-dlp.exe")
	os.WriteFile(bundled, []byte("MZ"), 0755)

	if got := YtdlpPath(); got != bundled {
		t.Errorf("YtdlpPath = %q, want %q", got, bundled)
	}
}

func TestValidateVideoFileWithoutFfprobe(t *testing.T) {
	config.BinDir = t.TempDir()
	t.Setenv("PATH", t.TempDir())

	// ffprobe is optional; without it every artifact passes through.
	if !ValidateVideoFile("whatever.mp4") {
		t.Error("validation must be skipped when ffprobe is unavailable")
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("one\ntwo\nthree\n"); got != "three" {
		t.Errorf("lastLine = %q", got)
	}
	if got := lastLine("single"); got != "single" {
		t.Errorf("lastLine = %q", got)
	}
}
