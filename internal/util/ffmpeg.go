package util

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/streamsniff/streamsniff/internal/config"
)

// toolPath prefers a bundled binary in BinDir over whatever is on PATH.
func toolPath(name string) string {
	for _, candidate := range []string{name, name + ".exe"} {
		bundled := filepath.Join(config.BinDir, candidate)
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}

func FFmpegPath() string { return toolPath("ffmpeg") }

func YtdlpPath() string { return toolPath("yt-dlp") }

func FFprobePath() string { return toolPath("ffprobe") }

// RemuxToMP4 losslessly repackages a concatenated transport stream. When no
// ffmpeg is available the .ts is renamed into place, matching the desktop
// client's behavior on machines without a bundled ffmpeg.
func RemuxToMP4(ctx context.Context, inputTS, outputMP4 string) error {
	ffmpeg := FFmpegPath()
	if ffmpeg == "" {
		os.Remove(outputMP4)
		return os.Rename(inputTS, outputMP4)
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y",
		"-i", inputTS,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		outputMP4,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputMP4)
		return fmt.Errorf("ffmpeg remux failed: %s", lastLine(stderr.String()))
	}
	os.Remove(inputTS)
	return nil
}

// ValidateVideoFile probes a finished artifact for a video stream. ffprobe is
// an optional tool, so a machine without it passes everything through.
func ValidateVideoFile(filePath string) bool {
	ffprobe := FFprobePath()
	if ffprobe == "" {
		return true
	}
	cmd := exec.Command(ffprobe,
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		filePath,
	)
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "video")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return s
	}
	return lines[len(lines)-1]
}
