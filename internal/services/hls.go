package services

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafov/m3u8"

	"github.com/streamsniff/streamsniff/internal/config"
	"github.com/streamsniff/streamsniff/internal/util"
)

// hlsSegment is one media segment with its resolved URI and, when the
// playlist is encrypted, the key/IV needed to decrypt it.
type hlsSegment struct {
	Index int
	URI   string
	Key   *hlsKey
}

type hlsKey struct {
	URI string
	IV  []byte
}

type HLSDownloader struct {
	client   *http.Client
	headers  map[string]string
	jobID    string
	pi       *ProcessInfo
	onStep   func(percent float64, message string)
	keyMu    sync.Mutex
	keyCache map[string][]byte
}

// DownloadHLS runs the native HLS engine: playlist decode, variant pick,
// concurrent segment fetch with AES-128 decryption, concat and remux.
// It is the path for platforms whose cookie headers break CLI tools, and the
// fallback when yt-dlp fails.
func DownloadHLS(ctx context.Context, streamURL, outputPath, jobID string, headers map[string]string, pi *ProcessInfo, onStep func(float64, string)) error {
	d := &HLSDownloader{
		client:   &http.Client{Timeout: config.HLSSegmentTimeout},
		headers:  headers,
		jobID:    jobID,
		pi:       pi,
		onStep:   onStep,
		keyCache: make(map[string][]byte),
	}
	return d.run(ctx, streamURL, outputPath)
}

func (d *HLSDownloader) run(ctx context.Context, streamURL, outputPath string) error {
	segments, err := d.resolveSegments(ctx, streamURL)
	if err != nil {
		return err
	}
	total := len(segments)
	if total == 0 {
		return fmt.Errorf("playlist contains no segments")
	}
	log.Printf("[%s] HLS: %d segments", util.ShortID(d.jobID), total)
	d.step(0, fmt.Sprintf("Downloading %d segments", total))

	// Keyed by output path, not job ID: a retried download lands in the same
	// dir and resumes from whatever segments the failed run left behind.
	tempDir := filepath.Join(config.TempDirs["hls"], segmentDirFor(outputPath))
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return fmt.Errorf("create segment dir: %w", err)
	}

	if err := d.fetchSegments(ctx, segments, tempDir, total); err != nil {
		return err
	}
	if d.cancelled(ctx) {
		return fmt.Errorf("download cancelled")
	}

	// Tolerate isolated segment failures, refuse a broken artifact.
	okCount := 0
	for _, seg := range segments {
		if info, err := os.Stat(segmentPath(tempDir, seg.Index)); err == nil && info.Size() > 0 {
			okCount++
		}
	}
	if float64(okCount) < float64(total)*config.HLSSuccessThreshold {
		return fmt.Errorf("only %d/%d segments downloaded", okCount, total)
	}

	d.step(96, "Merging segments")
	tsPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".ts"
	if err := concatSegments(tempDir, segments, tsPath); err != nil {
		return err
	}

	d.step(98, "Remuxing to MP4")
	if err := util.RemuxToMP4(ctx, tsPath, outputPath); err != nil {
		os.Remove(tsPath)
		return err
	}

	// Segments are only discarded once the artifact exists; failed runs keep
	// theirs and the retention sweep collects abandoned dirs.
	os.RemoveAll(tempDir)

	d.step(100, "Download complete")
	return nil
}

func segmentDirFor(outputPath string) string {
	sum := sha1.Sum([]byte(outputPath))
	return hex.EncodeToString(sum[:8])
}

// resolveSegments fetches the playlist, follows the best-bandwidth variant
// of a master playlist, and attaches key material to each segment.
func (d *HLSDownloader) resolveSegments(ctx context.Context, streamURL string) ([]hlsSegment, error) {
	body, err := d.fetch(ctx, streamURL, config.HLSPlaylistTimeout)
	if err != nil {
		return nil, fmt.Errorf("playlist fetch failed: %w", err)
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("playlist decode failed: %w", err)
	}

	if listType == m3u8.MASTER {
		master := playlist.(*m3u8.MasterPlaylist)
		variantURL, err := pickBestVariant(master, streamURL)
		if err != nil {
			return nil, err
		}
		log.Printf("[%s] HLS: following variant %s", util.ShortID(d.jobID), tail(variantURL, 50))

		body, err = d.fetch(ctx, variantURL, config.HLSPlaylistTimeout)
		if err != nil {
			return nil, fmt.Errorf("variant fetch failed: %w", err)
		}
		playlist, listType, err = m3u8.DecodeFrom(bytes.NewReader(body), true)
		if err != nil || listType != m3u8.MEDIA {
			return nil, fmt.Errorf("variant playlist decode failed")
		}
		streamURL = variantURL
	}

	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("unsupported playlist type")
	}

	var segments []hlsSegment
	currentKey := media.Key
	for _, seg := range media.Segments {
		if seg == nil {
			break
		}
		if seg.Key != nil {
			currentKey = seg.Key
		}
		index := len(segments)

		uri, err := resolveURL(streamURL, seg.URI)
		if err != nil {
			return nil, fmt.Errorf("segment %d has invalid URI", index)
		}

		entry := hlsSegment{Index: index, URI: uri}
		if currentKey != nil && currentKey.Method == "AES-128" {
			keyURI, err := resolveURL(streamURL, currentKey.URI)
			if err != nil {
				return nil, fmt.Errorf("key URI invalid")
			}
			entry.Key = &hlsKey{URI: keyURI, IV: segmentIV(currentKey.IV, index)}
		}
		segments = append(segments, entry)
	}
	return segments, nil
}

func (d *HLSDownloader) fetchSegments(ctx context.Context, segments []hlsSegment, tempDir string, total int) error {
	jobs := make(chan hlsSegment)
	var wg sync.WaitGroup
	var completed int64

	// Segments already on disk count as done; that is what makes a
	// restarted job resume instead of starting over.
	pending := 0
	for _, seg := range segments {
		if info, err := os.Stat(segmentPath(tempDir, seg.Index)); err == nil && info.Size() > 0 {
			atomic.AddInt64(&completed, 1)
		} else {
			pending++
		}
	}
	if pending == 0 {
		return nil
	}

	for i := 0; i < config.HLSWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range jobs {
				if d.cancelled(ctx) {
					continue
				}
				if err := d.fetchSegment(ctx, seg, tempDir); err != nil {
					log.Printf("[%s] Segment %d failed: %v", util.ShortID(d.jobID), seg.Index, err)
					continue
				}
				done := atomic.AddInt64(&completed, 1)
				percent := float64(done) / float64(total) * 95
				d.step(percent, fmt.Sprintf("Downloading (%d/%d)", done, total))
			}
		}()
	}

	for _, seg := range segments {
		if info, err := os.Stat(segmentPath(tempDir, seg.Index)); err == nil && info.Size() > 0 {
			continue
		}
		if d.cancelled(ctx) {
			break
		}
		jobs <- seg
	}
	close(jobs)
	wg.Wait()

	if d.cancelled(ctx) {
		return fmt.Errorf("download cancelled")
	}
	return nil
}

func (d *HLSDownloader) fetchSegment(ctx context.Context, seg hlsSegment, tempDir string) error {
	var lastErr error
	for attempt := 0; attempt < config.HLSSegmentRetries; attempt++ {
		if d.cancelled(ctx) {
			return fmt.Errorf("cancelled")
		}
		data, err := d.fetch(ctx, seg.URI, config.HLSSegmentTimeout)
		if err != nil {
			lastErr = err
			time.Sleep(config.HLSRetryDelay)
			continue
		}

		if seg.Key != nil {
			key, err := d.key(ctx, seg.Key.URI)
			if err != nil {
				return err
			}
			data, err = decryptAES128(data, key, seg.Key.IV)
			if err != nil {
				return err
			}
		}

		return os.WriteFile(segmentPath(tempDir, seg.Index), data, 0644)
	}
	return lastErr
}

func (d *HLSDownloader) key(ctx context.Context, keyURI string) ([]byte, error) {
	d.keyMu.Lock()
	defer d.keyMu.Unlock()
	if key, ok := d.keyCache[keyURI]; ok {
		return key, nil
	}
	key, err := d.fetch(ctx, keyURI, config.HLSPlaylistTimeout)
	if err != nil {
		return nil, fmt.Errorf("key download failed: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("unexpected key length %d", len(key))
	}
	d.keyCache[keyURI] = key
	return key, nil
}

func (d *HLSDownloader) fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range d.headers {
		// Hop-by-hop and length headers from the sniff must not leak in.
		switch strings.ToLower(k) {
		case "host", "content-length", "accept-encoding", "upgrade-insecure-requests":
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (d *HLSDownloader) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return d.pi != nil && d.pi.IsCancelled()
}

func (d *HLSDownloader) step(percent float64, message string) {
	if d.onStep != nil {
		d.onStep(percent, message)
	}
}

func pickBestVariant(master *m3u8.MasterPlaylist, baseURL string) (string, error) {
	variants := make([]*m3u8.Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v != nil && v.URI != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return "", fmt.Errorf("master playlist has no variants")
	}
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})
	return resolveURL(baseURL, variants[0].URI)
}

func resolveURL(base, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// segmentIV returns the key's explicit IV, or the big-endian segment index
// when the playlist omits one, per the HLS spec.
func segmentIV(ivAttr string, index int) []byte {
	ivAttr = strings.TrimSpace(ivAttr)
	if strings.HasPrefix(strings.ToLower(ivAttr), "0x") {
		hexStr := ivAttr[2:]
		if len(hexStr) < 32 {
			hexStr = strings.Repeat("0", 32-len(hexStr)) + hexStr
		}
		if iv, err := hex.DecodeString(hexStr); err == nil && len(iv) == 16 {
			return iv
		}
	}
	iv := make([]byte, 16)
	for i := 0; i < 8; i++ {
		iv[15-i] = byte(index >> (8 * i))
	}
	return iv
}

func decryptAES128(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		// Truncate a ragged tail rather than failing the whole segment.
		data = data[:len(data)-len(data)%aes.BlockSize]
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("segment too short to decrypt")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return pkcs7Unpad(out), nil
}

// pkcs7Unpad strips valid padding and leaves the data untouched otherwise;
// some streams ship unpadded TS payloads.
func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return data
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return data
		}
	}
	return data[:len(data)-pad]
}

func segmentPath(tempDir string, index int) string {
	return filepath.Join(tempDir, fmt.Sprintf("seg_%05d.ts", index))
}

func concatSegments(tempDir string, segments []hlsSegment, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create merge target: %w", err)
	}
	defer out.Close()

	for _, seg := range segments {
		in, err := os.Open(segmentPath(tempDir, seg.Index))
		if err != nil {
			continue
		}
		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			return fmt.Errorf("merge segment %d: %w", seg.Index, err)
		}
		in.Close()
	}
	return nil
}
