package prober

import (
	"encoding/json"
	"testing"
)

const cannedProbe = `{
	"title": "Test Clip",
	"uploader": "someone",
	"duration": 93.4,
	"formats": [
		{"format_id": "sb0", "ext": "mhtml", "vcodec": "none", "format_note": "storyboard", "url": "https://x/sb"},
		{"format_id": "139", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.5", "filesize": 700000, "url": "https://x/a1"},
		{"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "filesize": 1500000, "url": "https://x/a2"},
		{"format_id": "602", "ext": "mp4", "vcodec": "vp09", "height": 144, "width": 256, "protocol": "m3u8_native", "url": "https://x/hls144"},
		{"format_id": "160", "ext": "mp4", "vcodec": "avc1", "height": 144, "width": 256, "filesize": 1200000, "protocol": "https", "url": "https://x/144"},
		{"format_id": "136", "ext": "mp4", "vcodec": "avc1", "height": 720, "width": 1280, "filesize": 52000000, "protocol": "https", "url": "https://x/720"},
		{"format_id": "247", "ext": "webm", "vcodec": "vp9", "height": 720, "width": 1280, "filesize": 48000000, "protocol": "https", "url": "https://x/720w"},
		{"format_id": "137", "ext": "mp4", "vcodec": "avc1", "height": 1080, "width": 1920, "filesize_approx": 98000000, "protocol": "https", "url": "https://x/1080"},
		{"format_id": "nourl", "ext": "mp4", "vcodec": "avc1", "height": 480, "width": 854, "filesize": 9000000, "protocol": "https", "url": ""}
	]
}`

func parseCanned(t *testing.T) probeResult {
	var result probeResult
	if err := json.Unmarshal([]byte(cannedProbe), &result); err != nil {
		t.Fatalf("Failed to parse canned probe output: %v", err)
	}
	return result
}

func TestSelectCandidates_FiltersAndOrders(t *testing.T) {
	result := parseCanned(t)

	options := selectCandidates(result.Formats)

	// 1080p, 720p, 144p, then the audio-only tail.
	if len(options) != 4 {
		t.Fatalf("Expected 4 options, got %d: %+v", len(options), options)
	}

	if options[0].Label != "1080p" || options[1].Label != "720p" || options[2].Label != "144p" {
		t.Fatalf("Unexpected quality ordering: %+v", options)
	}

	last := options[len(options)-1]
	if !last.AudioOnly || last.Label != "Audio Only" {
		t.Fatalf("Expected audio-only option last, got %+v", last)
	}
}

func TestSelectCandidates_PrefersReliableFormatPerQuality(t *testing.T) {
	result := parseCanned(t)

	options := selectCandidates(result.Formats)

	for _, opt := range options {
		switch opt.Label {
		case "720p":
			// mp4 over webm at equal protocol.
			if opt.Key != "136" {
				t.Fatalf("Expected format 136 for 720p, got %s", opt.Key)
			}
		case "144p":
			// https with a known size over a HLS variant.
			if opt.Key != "160" {
				t.Fatalf("Expected format 160 for 144p, got %s", opt.Key)
			}
		}
	}
}

func TestSelectCandidates_AudioPicksLargest(t *testing.T) {
	result := parseCanned(t)

	options := selectCandidates(result.Formats)

	last := options[len(options)-1]
	if last.Key != "140" {
		t.Fatalf("Expected best audio format 140, got %s", last.Key)
	}
	if last.ApproxBytes != 1500000 {
		t.Fatalf("Expected audio size 1500000, got %d", last.ApproxBytes)
	}
}

func TestQualityLabel_PortraitUsesWidth(t *testing.T) {
	label, height := qualityLabel(probeFormat{Height: 1920, Width: 1080})
	if label != "1080p" || height != 1080 {
		t.Fatalf("Expected 1080p for a portrait video, got %s (%d)", label, height)
	}
}

func TestQualityLabel_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		format probeFormat
		want   string
	}{
		{"resolution string", probeFormat{Resolution: "1280x720"}, "720p"},
		{"format note", probeFormat{FormatNote: "480p"}, "480p"},
		{"opaque", probeFormat{FormatID: "ult"}, "Format ult"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, _ := qualityLabel(tt.format)
			if label != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, label)
			}
		})
	}
}
