package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var Version = "dev"

var (
	Port    string
	EnvMode string

	DataDir     string
	DownloadDir string
	BinDir      string

	MaxConcurrent int

	DiscordWebhookURL string
	DiscordPingUserID string
	DiscordAlerts     bool
)

// JobLimits caps simultaneous jobs per type. Download admission is further
// gated by the queue's MaxConcurrent scheduler.
var JobLimits = map[string]int{
	"sniff":    3,
	"download": 6,
}

const (
	MaxQueueSize       = 50
	DiskSpaceMinGB     = 2
	FileRetention      = 60 * time.Minute
	HeartbeatTimeout   = 30 * time.Second
	SessionIdleTimeout = 60 * time.Second
	RateLimitWindow    = 60 * time.Second
	RateLimitMax       = 60
	MaxURLLength       = 2048
	AsyncJobTimeout    = 2 * time.Hour

	SniffTimeout       = 90 * time.Second
	SniffProbeTimeout  = 15 * time.Second
	MaxSniffCandidates = 40

	HLSWorkers          = 5
	HLSSegmentRetries   = 3
	HLSRetryDelay       = time.Second
	HLSSegmentTimeout   = 20 * time.Second
	HLSPlaylistTimeout  = 15 * time.Second
	HLSSuccessThreshold = 0.8

	MinArtifactBytes = 10000
)

// DefaultUserAgent matches the desktop client the sniffed platforms expect.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type Platform struct {
	Name        string
	RequireHLS  bool
	NativeFirst bool
}

// Platforms the sniffer knows how to handle. NativeFirst platforms send
// cookie headers too long for CLI tools, so they skip yt-dlp entirely.
var Platforms = map[string]Platform{
	"bahamut":   {Name: "bahamut", RequireHLS: true},
	"pressplay": {Name: "pressplay", RequireHLS: true, NativeFirst: true},
	"generic":   {Name: "generic"},
}

type FormatPreset struct {
	Label     string
	Selector  string
	Container string
	AudioOnly bool
}

var FormatPresets = map[string]FormatPreset{
	"best":   {Label: "Best video+audio (MP4)", Selector: "bv*+ba/b", Container: "mp4"},
	"audio":  {Label: "Audio only (MP3)", Selector: "bestaudio/best", Container: "mp3", AudioOnly: true},
	"raw":    {Label: "Original quality (MKV)", Selector: "bv*+ba/b", Container: "mkv"},
	"stream": {Label: "Live/stream best", Selector: "best", Container: "mp4"},
}

var ContainerMIMEs = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"ts":   "video/mp2t",
	"mov":  "video/quicktime",
}

var AudioMIMEs = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"opus": "audio/opus",
	"wav":  "audio/wav",
	"flac": "audio/flac",
}

var TempDirs map[string]string

func Load() {
	Port = envOrDefault("PORT", "3001")
	EnvMode = envOrDefault("STREAMSNIFF_ENV", "development")

	DataDir = envOrDefault("DATA_DIR", filepath.Join(".", "data"))
	DownloadDir = envOrDefault("DOWNLOAD_DIR", filepath.Join(DataDir, "downloads"))
	BinDir = envOrDefault("BIN_DIR", filepath.Join(".", "bin"))

	MaxConcurrent, _ = strconv.Atoi(envOrDefault("MAX_CONCURRENT", "2"))
	if MaxConcurrent < 1 {
		MaxConcurrent = 2
	}

	DiscordWebhookURL = os.Getenv("DISCORD_WEBHOOK_URL")
	DiscordPingUserID = os.Getenv("DISCORD_PING_USER_ID")
	DiscordAlerts = DiscordWebhookURL != ""
	if !DiscordAlerts {
		log.Println("[Config] DISCORD_WEBHOOK_URL not set, alerts disabled")
	}

	tempRoot := TempRoot()
	TempDirs = map[string]string{
		"sniff":    filepath.Join(tempRoot, "sniff"),
		"download": filepath.Join(tempRoot, "download"),
		"hls":      filepath.Join(tempRoot, "hls"),
	}
}

func TempRoot() string {
	return filepath.Join(DataDir, "tmp")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
