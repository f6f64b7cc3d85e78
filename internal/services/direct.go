package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/util"
)

// DownloadDirect streams a progressive (non-HLS) media URL straight to disk
// with the sniffed headers. Used for .mp4 candidates when yt-dlp can't
// handle the URL.
func DownloadDirect(ctx context.Context, streamURL, outputPath, jobID string, headers map[string]string, pi *ProcessInfo, onProgress func(float64, string)) error {
	client := &http.Client{Timeout: 0}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "host", "content-length", "accept-encoding":
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("direct download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("direct download failed: HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 256*1024)
	lastReport := time.Now()

	for {
		if pi != nil && pi.IsCancelled() {
			out.Close()
			os.Remove(outputPath)
			return fmt.Errorf("download cancelled")
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				os.Remove(outputPath)
				return writeErr
			}
			written += int64(n)

			if onProgress != nil && total > 0 && time.Since(lastReport) > time.Second {
				percent := float64(written) / float64(total) * 100
				onProgress(percent, fmt.Sprintf("Downloading (%.1fMB)", float64(written)/1024/1024))
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(outputPath)
			return fmt.Errorf("direct download interrupted: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		return err
	}

	if written < config.MinArtifactBytes {
		os.Remove(outputPath)
		return fmt.Errorf("downloaded file too small (%d bytes)", written)
	}

	if mtype, err := mimetype.DetectFile(outputPath); err == nil {
		log.Printf("[%s] Direct download complete: %.2fMB (%s)", util.ShortID(jobID), float64(written)/1024/1024, mtype.String())
	}
	return nil
}
