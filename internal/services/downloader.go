package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/util"
)

type DownloadRequest struct {
	JobID     string
	StreamURL string
	PageURL   string
	Platform  string
	Format    string
	FileName  string
	Headers   map[string]string
}

// RunDownload picks the engine for a sniffed stream and executes it.
// NativeFirst platforms go straight to the HLS engine; everything else
// tries yt-dlp first and falls back to the native engines, the way the
// desktop client did.
func RunDownload(ctx context.Context, req DownloadRequest, job *AsyncJob, pi *ProcessInfo) (string, string, error) {
	preset, ok := config.FormatPresets[req.Format]
	if !ok {
		preset = config.FormatPresets["best"]
	}

	name := util.SanitizeFilename(req.FileName)
	if name == "" {
		name = "video-" + util.ShortID(req.JobID)
	}
	outputPath := util.UniquePath(filepath.Join(config.DownloadDir, name+"."+preset.Container))

	platform := config.Platforms[req.Platform]
	isHLS := strings.Contains(req.StreamURL, ".m3u8")

	onStep := func(percent float64, message string) {
		job.SetProgressAndMessage(percent, message)
		Global.SendProgressWithPercent(req.JobID, "downloading", message, percent)
	}
	onYtdlp := func(percent float64, speed, eta string) {
		job.SetSpeedETA(speed, eta)
		onStep(percent, fmt.Sprintf("Downloading (%.1f%%)", percent))
	}

	if isHLS && platform.NativeFirst {
		job.SetEngine("hls")
		return outputPath, "hls", DownloadHLS(ctx, req.StreamURL, outputPath, req.JobID, req.Headers, pi, onStep)
	}

	job.SetEngine("yt-dlp")
	err := DownloadViaYtdlp(ctx, req.StreamURL, outputPath, YtdlpOpts{
		Format:      preset,
		Headers:     req.Headers,
		ProcessInfo: pi,
		OnProgress:  onYtdlp,
	})
	if err == nil {
		return outputPath, "yt-dlp", nil
	}
	if pi != nil && pi.IsCancelled() {
		return "", "yt-dlp", err
	}

	log.Printf("[%s] yt-dlp failed (%v), trying native engine", util.ShortID(req.JobID), err)

	if isHLS {
		job.SetEngine("hls")
		if hlsErr := DownloadHLS(ctx, req.StreamURL, outputPath, req.JobID, req.Headers, pi, onStep); hlsErr == nil {
			return outputPath, "hls", nil
		} else {
			return "", "hls", fmt.Errorf("yt-dlp: %v; native HLS: %v", err, hlsErr)
		}
	}

	job.SetEngine("direct")
	if directErr := DownloadDirect(ctx, req.StreamURL, outputPath, req.JobID, req.Headers, pi, onStep); directErr == nil {
		return outputPath, "direct", nil
	} else {
		return "", "direct", fmt.Errorf("yt-dlp: %v; direct: %v", err, directErr)
	}
}
