// Package preflight verifies the external tools streamsniff drives before
// the server accepts work.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/streamsniff/streamsniff/internal/config"
)

type Tool struct {
	Name     string
	Required bool
}

var Tools = []Tool{
	{"yt-dlp", true},
	{"ffmpeg", true},
	{"ffprobe", false},
}

// Resolve finds a tool, preferring a bundled copy in BinDir over PATH.
func Resolve(name string) (string, bool) {
	for _, candidate := range []string{name, name + ".exe"} {
		bundled := filepath.Join(config.BinDir, candidate)
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled, true
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, true
	}
	return "", false
}

// CheckTools reports each tool and returns an error naming the first missing
// required one. The server must not start without its download engines.
func CheckTools() error {
	var missing string
	for _, tool := range Tools {
		path, found := Resolve(tool.Name)
		switch {
		case found:
			fmt.Printf("✓ %s found: %s\n", tool.Name, path)
		case tool.Required:
			fmt.Printf("✗ %s not found (REQUIRED)\n", tool.Name)
			if missing == "" {
				missing = tool.Name
			}
		default:
			fmt.Printf("- %s not found (optional)\n", tool.Name)
		}
	}
	if missing != "" {
		return fmt.Errorf("%s is not installed; place it in %s or on PATH", missing, config.BinDir)
	}
	return nil
}
