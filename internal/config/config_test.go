package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("DOWNLOAD_DIR", "")
	t.Setenv("MAX_CONCURRENT", "")
	t.Setenv("DISCORD_WEBHOOK_URL", "")

	Load()

	if Port != "3001" {
		t.Errorf("Port = %q, want 3001", Port)
	}
	if MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", MaxConcurrent)
	}
	if DiscordAlerts {
		t.Error("alerts should be disabled without a webhook URL")
	}
	if DownloadDir != filepath.Join(DataDir, "downloads") {
		t.Errorf("DownloadDir = %q", DownloadDir)
	}
	for _, key := range []string{"sniff", "download", "hls"} {
		if TempDirs[key] == "" {
			t.Errorf("TempDirs[%q] not set", key)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "4242")
	t.Setenv("DATA_DIR", "/tmp/ss-data")
	t.Setenv("MAX_CONCURRENT", "4")

	Load()

	if Port != "4242" {
		t.Errorf("Port = %q, want 4242", Port)
	}
	if MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", MaxConcurrent)
	}
	if TempRoot() != filepath.Join("/tmp/ss-data", "tmp") {
		t.Errorf("TempRoot = %q", TempRoot())
	}
}

func TestLoadRejectsBadConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "0")
	Load()
	if MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want fallback 2", MaxConcurrent)
	}

	t.Setenv("MAX_CONCURRENT", "junk")
	Load()
	if MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want fallback 2", MaxConcurrent)
	}
}

func TestFormatPresets(t *testing.T) {
	best, ok := FormatPresets["best"]
	if !ok {
		t.Fatal("best preset missing")
	}
	if best.AudioOnly || best.Container != "mp4" {
		t.Errorf("best preset = %+v", best)
	}

	audio := FormatPresets["audio"]
	if !audio.AudioOnly {
		t.Error("audio preset must be audio only")
	}
}

func TestPlatforms(t *testing.T) {
	if !Platforms["pressplay"].NativeFirst {
		t.Error("pressplay must bypass yt-dlp")
	}
	if !Platforms["bahamut"].RequireHLS {
		t.Error("bahamut must require HLS streams")
	}
	if Platforms["generic"].RequireHLS || Platforms["generic"].NativeFirst {
		t.Error("generic platform must have no restrictions")
	}
}
