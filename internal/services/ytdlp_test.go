package services

import "testing"

func TestParseYtdlpProgress(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantPercent float64
		wantSpeed   string
		wantETA     string
	}{
		{
			name:        "download line",
			line:        "[download]  42.3% of 120.00MiB at 5.2 MiB/s ETA 00:14",
			wantPercent: 42.3,
			wantSpeed:   "5.2 MiB/s",
			wantETA:     "00:14",
		},
		{
			name:        "progress template output",
			line:        "  87.1%",
			wantPercent: 87.1,
		},
		{
			name:        "complete",
			line:        "[download] 100% of 120.00MiB in 00:23",
			wantPercent: 100,
		},
		{
			name: "no progress info",
			line: "[info] Writing video metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseYtdlpProgress(tt.line)
			if p.Percent != tt.wantPercent {
				t.Errorf("Percent = %v, want %v", p.Percent, tt.wantPercent)
			}
			if p.Speed != tt.wantSpeed {
				t.Errorf("Speed = %q, want %q", p.Speed, tt.wantSpeed)
			}
			if p.ETA != tt.wantETA {
				t.Errorf("ETA = %q, want %q", p.ETA, tt.wantETA)
			}
		})
	}
}

func TestCookieDomain(t *testing.T) {
	tests := []struct {
		referer   string
		streamURL string
		want      string
	}{
		{"https://watch.example.com/video/1", "https://cdn.example.net/v.m3u8", "watch.example.com"},
		{"", "https://cdn.example.net/v.m3u8", "cdn.example.net"},
		{"", "", "localhost"},
		{"not a url at all ://", "https://cdn.example.net/v.m3u8", "cdn.example.net"},
	}

	for _, tt := range tests {
		if got := cookieDomain(tt.referer, tt.streamURL); got != tt.want {
			t.Errorf("cookieDomain(%q, %q) = %q, want %q", tt.referer, tt.streamURL, got, tt.want)
		}
	}
}
