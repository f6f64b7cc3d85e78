package services

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grafov/m3u8"
)

func TestSegmentIV(t *testing.T) {
	tests := []struct {
		name   string
		ivAttr string
		index  int
		want   []byte
	}{
		{
			name:   "explicit hex IV",
			ivAttr: "0x000102030405060708090a0b0c0d0e0f",
			index:  7,
			want:   []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		},
		{
			name:   "short hex IV zero padded",
			ivAttr: "0x1f",
			index:  0,
			want:   append(make([]byte, 15), 0x1f),
		},
		{
			name:   "uppercase prefix",
			ivAttr: "0X000102030405060708090A0B0C0D0E0F",
			index:  0,
			want:   []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		},
		{
			name:   "missing IV falls back to segment index",
			ivAttr: "",
			index:  258,
			want:   append(make([]byte, 14), 0x01, 0x02),
		},
		{
			name:   "garbage IV falls back to segment index",
			ivAttr: "0xZZZZ",
			index:  1,
			want:   append(make([]byte, 15), 0x01),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := segmentIV(tt.ivAttr, tt.index)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("segmentIV(%q, %d) = %x, want %x", tt.ivAttr, tt.index, got, tt.want)
			}
		})
	}
}

func TestDecryptAES128RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := segmentIV("", 3)
	plaintext := []byte("this is segment payload data....")

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	if padLen == 0 {
		padLen = aes.BlockSize
	}
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	got, err := decryptAES128(encrypted, key, iv)
	if err != nil {
		t.Fatalf("decryptAES128: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestDecryptAES128TruncatesRaggedTail(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := make([]byte, 16)

	data := make([]byte, aes.BlockSize+5)
	if _, err := decryptAES128(data, key, iv); err != nil {
		t.Fatalf("expected ragged tail to be tolerated, got %v", err)
	}

	if _, err := decryptAES128(data[:5], key, iv); err == nil {
		t.Error("expected error for sub-block segment")
	}
}

func TestPkcs7Unpad(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"valid padding", []byte{1, 2, 3, 4, 4, 4, 4, 4}, []byte{1, 2, 3}},
		{"inconsistent padding untouched", []byte{1, 2, 3, 2, 4}, []byte{1, 2, 3, 2, 4}},
		{"oversized pad byte untouched", []byte{1, 2, 17}, []byte{1, 2, 17}},
		{"zero pad byte untouched", []byte{1, 2, 0}, []byte{1, 2, 0}},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pkcs7Unpad(tt.in); !bytes.Equal(got, tt.want) {
				t.Errorf("pkcs7Unpad(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base string
		ref  string
		want string
	}{
		{"https://cdn.example.com/hls/master.m3u8", "seg_001.ts", "https://cdn.example.com/hls/seg_001.ts"},
		{"https://cdn.example.com/hls/master.m3u8", "/keys/k1.bin", "https://cdn.example.com/keys/k1.bin"},
		{"https://cdn.example.com/hls/master.m3u8", "https://other.example.com/v.m3u8", "https://other.example.com/v.m3u8"},
		{"https://cdn.example.com/a/b/list.m3u8", "../c/seg.ts", "https://cdn.example.com/a/c/seg.ts"},
	}

	for _, tt := range tests {
		got, err := resolveURL(tt.base, tt.ref)
		if err != nil {
			t.Errorf("resolveURL(%q, %q): %v", tt.base, tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolveURL(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}

func TestPickBestVariant(t *testing.T) {
	master := m3u8.NewMasterPlaylist()
	master.Variants = []*m3u8.Variant{
		{URI: "low.m3u8", VariantParams: m3u8.VariantParams{Bandwidth: 400_000}},
		{URI: "high.m3u8", VariantParams: m3u8.VariantParams{Bandwidth: 4_000_000}},
		{URI: "mid.m3u8", VariantParams: m3u8.VariantParams{Bandwidth: 1_200_000}},
		nil,
	}

	got, err := pickBestVariant(master, "https://cdn.example.com/hls/master.m3u8")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://cdn.example.com/hls/high.m3u8"
	if got != want {
		t.Errorf("pickBestVariant = %q, want %q", got, want)
	}

	empty := m3u8.NewMasterPlaylist()
	if _, err := pickBestVariant(empty, "https://cdn.example.com/m.m3u8"); err == nil {
		t.Error("expected error for empty master playlist")
	}
}

func TestSegmentDirForIsStable(t *testing.T) {
	a := segmentDirFor("/data/downloads/episode-01.mp4")
	b := segmentDirFor("/data/downloads/episode-01.mp4")
	c := segmentDirFor("/data/downloads/episode-02.mp4")

	if a != b {
		t.Errorf("same output path produced different dirs: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different output paths must not share a segment dir")
	}
	if a == "" || strings.ContainsAny(a, `/\`) {
		t.Errorf("segment dir %q is not a plain name", a)
	}
}

func TestFetchSegmentsResumesFromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	segments := []hlsSegment{{Index: 0}, {Index: 1}, {Index: 2}}
	for _, seg := range segments {
		os.WriteFile(segmentPath(dir, seg.Index), []byte("payload"), 0644)
	}

	// Every segment is already on disk, so no request may be issued: a nil
	// client panics on first use.
	d := &HLSDownloader{jobID: "resume-test"}
	if err := d.fetchSegments(context.Background(), segments, dir, len(segments)); err != nil {
		t.Fatalf("fetchSegments with complete dir: %v", err)
	}

	for _, seg := range segments {
		data, err := os.ReadFile(segmentPath(dir, seg.Index))
		if err != nil || string(data) != "payload" {
			t.Errorf("segment %d was rewritten", seg.Index)
		}
	}
}

func TestConcatSegments(t *testing.T) {
	dir := t.TempDir()
	segments := []hlsSegment{{Index: 0}, {Index: 1}, {Index: 2}}

	os.WriteFile(segmentPath(dir, 0), []byte("aaa"), 0644)
	// segment 1 missing on purpose
	os.WriteFile(segmentPath(dir, 2), []byte("ccc"), 0644)

	out := filepath.Join(dir, "merged.ts")
	if err := concatSegments(dir, segments, out); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "aaaccc" {
		t.Errorf("merged = %q, want %q", data, "aaaccc")
	}
}
