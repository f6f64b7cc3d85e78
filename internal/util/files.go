package util

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/streamsniff/streamsniff/internal/config"
)

var unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
var multiSpaceRe = regexp.MustCompile(`\s+`)

func ClearTempDirs() {
	for _, dir := range config.TempDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			os.MkdirAll(dir, 0755)
			continue
		}
		for _, e := range entries {
			os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	fmt.Println("✓ Cleared temp directories")
}

func CleanupTempFiles() {
	now := time.Now()
	for _, dir := range config.TempDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) > config.FileRetention {
				os.RemoveAll(filepath.Join(dir, e.Name()))
				log.Printf("[Cleanup] Removed old temp: %s", e.Name())
			}
		}
	}

	if ds, err := GetDiskSpace(config.TempRoot()); err == nil {
		log.Printf("[DiskSpace] %.1fGB free / %.1fGB total", ds.AvailGB, ds.TotalGB)
		if ds.AvailGB < float64(config.DiskSpaceMinGB) {
			log.Printf("[DiskSpace] WARNING: Only %.1fGB free, below %dGB threshold!", ds.AvailGB, config.DiskSpaceMinGB)
		}
	}
}

func CleanupJobFiles(jobID string) {
	cleaned := 0
	for _, dir := range config.TempDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.Contains(e.Name(), jobID) {
				if err := os.RemoveAll(filepath.Join(dir, e.Name())); err == nil {
					cleaned++
				}
			}
		}
	}
	if cleaned > 0 {
		log.Printf("[Cleanup] Removed %d entries for job %s", cleaned, ShortID(jobID))
	}
}

func SanitizeFilename(filename string) string {
	s := unsafeFilenameRe.ReplaceAllString(filename, "_")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// UniquePath returns path, or path with a numeric suffix when it already
// exists, so finished downloads never clobber earlier ones.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; i < 1000; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return path
}

// MimeForFile maps the extension through the known container/audio tables
// and falls back to content detection for anything else.
func MimeForFile(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if m, ok := config.ContainerMIMEs[ext]; ok {
		return m
	}
	if m, ok := config.AudioMIMEs[ext]; ok {
		return m
	}
	if mtype, err := mimetype.DetectFile(path); err == nil {
		return mtype.String()
	}
	return "application/octet-stream"
}

func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func StartCleanupInterval() {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for range ticker.C {
			CleanupTempFiles()
		}
	}()
}
