package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/streamsniff/streamsniff/internal/config"
)

func TestResolvePrefersBundledTool(t *testing.T) {
	binDir := t.TempDir()
	config.BinDir = binDir

	bundled := filepath.Join(binDir, "yt-dlp")
	if err := os.WriteFile(bundled, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	path, found := Resolve("yt-dlp")
	if !found {
		t.Fatal("bundled tool not found")
	}
	if path != bundled {
		t.Errorf("Resolve = %q, want bundled path %q", path, bundled)
	}
}

func TestResolveWindowsSuffix(t *testing.T) {
	binDir := t.TempDir()
	config.BinDir = binDir

	bundled := filepath.Join(binDir, "ffmpeg.exe")
	os.WriteFile(bundled, []byte("MZ"), 0755)

	path, found := Resolve("ffmpeg")
	if !found || path != bundled {
		t.Errorf("Resolve = (%q, %v), want (%q, true)", path, found, bundled)
	}
}

func TestResolveMissing(t *testing.T) {
	config.BinDir = t.TempDir()
	t.Setenv("PATH", t.TempDir())

	if path, found := Resolve("definitely-not-a-real-tool"); found {
		t.Errorf("unexpected resolve to %q", path)
	}
}

func TestCheckToolsMissingRequired(t *testing.T) {
	config.BinDir = t.TempDir()
	t.Setenv("PATH", t.TempDir())

	err := CheckTools()
	if err == nil {
		t.Fatal("expected error with no tools installed")
	}
}

func TestCheckToolsAllPresent(t *testing.T) {
	binDir := t.TempDir()
	config.BinDir = binDir
	t.Setenv("PATH", t.TempDir())

	for _, tool := range Tools {
		os.WriteFile(filepath.Join(binDir, tool.Name), []byte("#!/bin/sh\n"), 0755)
	}

	if err := CheckTools(); err != nil {
		t.Fatalf("CheckTools with bundled tools: %v", err)
	}
}
