// Command pack assembles a distributable Release folder: the server binary,
// a bin/ directory for the external tools, and the env template.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/streamsniff/streamsniff/internal/workspace"
)

func main() {
	binary := flag.String("binary", defaultBinaryName(), "path to the built server binary")
	binDir := flag.String("bin-dir", "bin", "directory holding yt-dlp/ffmpeg to bundle (optional)")
	output := flag.String("output", "Release", "release folder to create")
	flag.Parse()

	spec := workspace.ReleaseSpec{
		BinaryPath: *binary,
		BinDir:     *binDir,
		OutputDir:  *output,
	}

	fmt.Printf("Packing release into %s/\n", *output)
	if err := workspace.BuildRelease(spec); err != nil {
		fmt.Printf("✗ Pack failed: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Release ready: %s/\n", *output)
}

func defaultBinaryName() string {
	if runtime.GOOS == "windows" {
		return "streamsniff.exe"
	}
	return "streamsniff"
}
