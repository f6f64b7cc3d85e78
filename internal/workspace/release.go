package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReleaseSpec describes the inputs for a release folder.
type ReleaseSpec struct {
	BinaryPath string // built server binary, required
	BinDir     string // optional dir holding yt-dlp/ffmpeg to bundle
	OutputDir  string // e.g. Release
}

var bundledTools = []string{"yt-dlp", "yt-dlp.exe", "ffmpeg", "ffmpeg.exe"}

// BuildRelease assembles OutputDir with the server binary, a bin/ directory
// (populated from BinDir when tools are present, otherwise left empty for
// manual placement) and the env template. A failed build removes OutputDir
// so no partially populated release is left behind.
func BuildRelease(spec ReleaseSpec) (retErr error) {
	info, err := os.Stat(spec.BinaryPath)
	if err != nil || info.IsDir() {
		return fmt.Errorf("server binary not found at %s (build it first)", spec.BinaryPath)
	}

	if err := os.MkdirAll(filepath.Join(spec.OutputDir, "bin"), 0755); err != nil {
		return fmt.Errorf("create release layout: %w", err)
	}
	defer func() {
		if retErr != nil {
			os.RemoveAll(spec.OutputDir)
		}
	}()

	dest := filepath.Join(spec.OutputDir, filepath.Base(spec.BinaryPath))
	if err := copyFile(spec.BinaryPath, dest, 0755); err != nil {
		return fmt.Errorf("copy server binary: %w", err)
	}

	bundled := 0
	if spec.BinDir != "" {
		for _, tool := range bundledTools {
			src := filepath.Join(spec.BinDir, tool)
			if info, err := os.Stat(src); err != nil || info.IsDir() {
				continue
			}
			if err := copyFile(src, filepath.Join(spec.OutputDir, "bin", tool), 0755); err != nil {
				return fmt.Errorf("bundle %s: %w", tool, err)
			}
			bundled++
		}
	}
	if bundled == 0 {
		fmt.Printf("- no tools bundled; place yt-dlp into %s manually\n", filepath.Join(spec.OutputDir, "bin"))
	}

	if err := os.WriteFile(filepath.Join(spec.OutputDir, ".env.example"), []byte(EnvTemplate), 0644); err != nil {
		return fmt.Errorf("write env template: %w", err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
