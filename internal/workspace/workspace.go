// Package workspace owns the on-disk layout: the runtime scaffold the server
// creates at startup and the release folder the pack tool assembles.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/streamsniff/streamsniff/internal/config"
)

// EnvTemplate is written as .env.example so a fresh checkout documents its
// own configuration surface.
const EnvTemplate = `# streamsniff configuration
PORT=3001
DATA_DIR=./data
DOWNLOAD_DIR=
BIN_DIR=./bin
MAX_CONCURRENT=2
DISCORD_WEBHOOK_URL=
DISCORD_PING_USER_ID=
`

// Scaffold creates the runtime directory layout and placeholder files.
// Existing files are never overwritten.
func Scaffold() error {
	dirs := []string{
		config.DataDir,
		config.DownloadDir,
		config.BinDir,
	}
	for _, d := range config.TempDirs {
		dirs = append(dirs, d)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	examplePath := filepath.Join(".", ".env.example")
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if err := os.WriteFile(examplePath, []byte(EnvTemplate), 0644); err != nil {
			return fmt.Errorf("write %s: %w", examplePath, err)
		}
	}
	return nil
}
