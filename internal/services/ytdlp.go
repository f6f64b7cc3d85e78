package services

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/util"
)

var percentRe = regexp.MustCompile(`([\d.]+)%`)
var speedRe = regexp.MustCompile(`at\s+([\d.]+\s*\w+/s)`)
var etaRe = regexp.MustCompile(`ETA\s+(\S+)`)
var ytdlpErrorRe = regexp.MustCompile(`(?i)ERROR[:\s]+(.+?)(?:\n|$)`)

type YtdlpProgress struct {
	Percent float64
	Speed   string
	ETA     string
}

func ParseYtdlpProgress(text string) YtdlpProgress {
	var p YtdlpProgress
	if m := percentRe.FindStringSubmatch(text); len(m) > 1 {
		p.Percent, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := speedRe.FindStringSubmatch(text); len(m) > 1 {
		p.Speed = m[1]
	}
	if m := etaRe.FindStringSubmatch(text); len(m) > 1 {
		p.ETA = m[1]
	}
	return p
}

type YtdlpOpts struct {
	Format      config.FormatPreset
	Headers     map[string]string
	ProcessInfo *ProcessInfo
	OnProgress  func(percent float64, speed, eta string)
}

// DownloadViaYtdlp drives the external yt-dlp binary against a sniffed
// stream URL, forwarding referer/user-agent and a Netscape cookie file
// derived from the sniffed Cookie header.
func DownloadViaYtdlp(ctx context.Context, streamURL, outputPath string, opts YtdlpOpts) error {
	binary := util.YtdlpPath()
	if binary == "" {
		return fmt.Errorf("yt-dlp not found")
	}

	args := []string{
		"--no-warnings",
		"--no-check-certificate",
		"--no-playlist",
		"--newline",
		"--progress-template", "%(progress._percent_str)s",
		"-o", outputPath,
	}

	if referer := opts.Headers["Referer"]; referer != "" {
		args = append(args, "--referer", referer)
	}
	if ua := opts.Headers["User-Agent"]; ua != "" {
		args = append(args, "--user-agent", ua)
	}

	var cookieFile string
	if cookie := opts.Headers["Cookie"]; cookie != "" {
		domain := cookieDomain(opts.Headers["Referer"], streamURL)
		path, err := util.WriteNetscapeCookies(cookie, domain)
		if err == nil && path != "" {
			cookieFile = path
			defer os.Remove(cookieFile)
			args = append(args, "--cookies", cookieFile)
		}
	}

	if opts.Format.Selector != "" {
		args = append(args, "-f", opts.Format.Selector)
		if !opts.Format.AudioOnly {
			args = append(args, "--merge-output-format", opts.Format.Container)
		} else {
			args = append(args, "-x", "--audio-format", opts.Format.Container)
		}
	}
	if ffmpeg := util.FFmpegPath(); ffmpeg != "" {
		args = append(args, "--ffmpeg-location", ffmpeg)
	}

	args = append(args, streamURL)

	cmd := exec.CommandContext(ctx, binary, args...)
	if opts.ProcessInfo != nil {
		opts.ProcessInfo.SetCmd(cmd)
	}

	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	var stderrOutput strings.Builder
	var lastProgress float64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	report := func(line string) {
		p := ParseYtdlpProgress(line)
		mu.Lock()
		shouldReport := p.Percent > 0 && (p.Percent > lastProgress+2 || p.Percent >= 100)
		if shouldReport {
			lastProgress = p.Percent
		}
		mu.Unlock()
		if shouldReport && opts.OnProgress != nil {
			opts.OnProgress(p.Percent, p.Speed, p.ETA)
		}
	}

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			report(scanner.Text())
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			stderrOutput.WriteString(line + "\n")
			if strings.Contains(line, "[download]") && strings.Contains(line, "%") {
				report(line)
			}
		}
	}()

	wg.Wait()
	err := cmd.Wait()

	if opts.ProcessInfo != nil && opts.ProcessInfo.IsCancelled() {
		return fmt.Errorf("download cancelled")
	}

	if err != nil {
		errMsg := "Download failed"
		if m := ytdlpErrorRe.FindStringSubmatch(stderrOutput.String()); len(m) > 1 {
			errMsg = strings.TrimSpace(m[1])
		}
		if util.NeedsCookiesRetry(stderrOutput.String()) {
			errMsg += " (authentication required)"
		}
		return fmt.Errorf("%s", errMsg)
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() < config.MinArtifactBytes {
		return fmt.Errorf("output file missing or too small")
	}
	return nil
}

func cookieDomain(referer, streamURL string) string {
	for _, raw := range []string{referer, streamURL} {
		if raw == "" {
			continue
		}
		if parsed, err := url.Parse(raw); err == nil && parsed.Hostname() != "" {
			return parsed.Hostname()
		}
	}
	return "localhost"
}
