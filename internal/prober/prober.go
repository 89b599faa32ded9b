package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/tgvault/tgvault/internal/types"
)

// maxOptions keeps the option list inside the platform's inline keyboard
// limits.
const maxOptions = 10

// VideoInfo is the probe result for one source URL.
type VideoInfo struct {
	Title      string
	Uploader   string
	Duration   int
	Candidates []types.FormatOption
}

// YTDLP probes remote videos by shelling out to the yt-dlp binary.
type YTDLP struct {
	binPath string
}

func NewYTDLP(binPath string) *YTDLP {
	return &YTDLP{binPath: binPath}
}

type probeResult struct {
	Title    string        `json:"title"`
	Uploader string        `json:"uploader"`
	Duration float64       `json:"duration"`
	Formats  []probeFormat `json:"formats"`
}

type probeFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	Resolution     string  `json:"resolution"`
	FormatNote     string  `json:"format_note"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	Protocol       string  `json:"protocol"`
	URL            string  `json:"url"`
}

func (f *probeFormat) approxBytes() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return int64(f.FilesizeApprox)
}

// Probe extracts metadata without downloading any bytes.
func (p *YTDLP) Probe(ctx context.Context, sourceURL string) (*VideoInfo, error) {
	cmd := execute.ExecTask{
		Command: p.binPath,
		Args:    []string{"-J", "--no-warnings", sourceURL},
	}

	res, err := cmd.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe failed: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("probe failed: %s", strings.TrimSpace(res.Stderr))
	}

	var result probeResult
	if err := json.Unmarshal([]byte(res.Stdout), &result); err != nil {
		return nil, fmt.Errorf("unexpected probe output: %w", err)
	}

	return &VideoInfo{
		Title:      result.Title,
		Uploader:   result.Uploader,
		Duration:   int(result.Duration),
		Candidates: selectCandidates(result.Formats),
	}, nil
}

// selectCandidates filters to downloadable video formats, keeps the most
// reliable one per quality label, sorts best-first and appends an
// audio-only option.
func selectCandidates(formats []probeFormat) []types.FormatOption {
	byLabel := make(map[string]probeFormat)
	heights := make(map[string]int)

	for _, f := range formats {
		if !downloadable(f) {
			continue
		}

		label, height := qualityLabel(f)
		best, seen := byLabel[label]
		if !seen || reliability(f) > reliability(best) {
			byLabel[label] = f
			heights[label] = height
		}
	}

	var options []types.FormatOption
	for label, f := range byLabel {
		options = append(options, types.FormatOption{
			Key:         f.FormatID,
			Label:       label,
			Container:   f.Ext,
			ApproxBytes: f.approxBytes(),
		})
	}

	sort.Slice(options, func(i, j int) bool {
		return heights[options[i].Label] > heights[options[j].Label]
	})

	if len(options) > maxOptions {
		options = options[:maxOptions]
	}

	if audio, ok := bestAudio(formats); ok {
		options = append(options, audio)
	}

	return options
}

func downloadable(f probeFormat) bool {
	if f.VCodec == "" || f.VCodec == "none" {
		return false
	}
	switch f.Ext {
	case "mhtml", "jpg", "png", "webp":
		return false
	}
	if strings.Contains(strings.ToLower(f.FormatNote), "storyboard") {
		return false
	}
	return f.URL != ""
}

var noteQuality = regexp.MustCompile(`(\d+)p`)

// qualityLabel maps a format to its display quality. Portrait videos use
// width so shorts don't all collapse into one bucket.
func qualityLabel(f probeFormat) (string, int) {
	if f.Height > 0 && f.Width > 0 && f.Height > f.Width {
		return strconv.Itoa(f.Width) + "p", f.Width
	}
	if f.Height > 0 {
		return strconv.Itoa(f.Height) + "p", f.Height
	}

	if w, h, ok := parseResolution(f.Resolution); ok {
		if h > w {
			return strconv.Itoa(w) + "p", w
		}
		return strconv.Itoa(h) + "p", h
	}

	if m := noteQuality.FindStringSubmatch(f.FormatNote); m != nil {
		h, _ := strconv.Atoi(m[1])
		return m[1] + "p", h
	}

	return "Format " + f.FormatID, 0
}

func parseResolution(res string) (w, h int, ok bool) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	h, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return w, h, true
}

// reliability prefers plain https over segmented protocols, mp4 over webm,
// and formats that report a size.
func reliability(f probeFormat) int {
	score := 0

	switch f.Protocol {
	case "https", "http", "":
		score += 100
	case "m3u8", "m3u8_native", "hls":
		score += 20
	}

	switch f.Ext {
	case "mp4":
		score += 50
	case "webm":
		score += 30
	}

	if f.approxBytes() > 0 {
		score += 20
	}
	if !strings.Contains(f.FormatNote, "3D") && !strings.Contains(f.FormatNote, "HDR") {
		score += 10
	}

	return score
}

func bestAudio(formats []probeFormat) (types.FormatOption, bool) {
	var best probeFormat
	found := false
	for _, f := range formats {
		if f.VCodec != "" && f.VCodec != "none" {
			continue
		}
		if f.ACodec == "" || f.ACodec == "none" || f.URL == "" {
			continue
		}
		if !found || f.approxBytes() > best.approxBytes() {
			best = f
			found = true
		}
	}
	if !found {
		return types.FormatOption{}, false
	}
	return types.FormatOption{
		Key:         best.FormatID,
		Label:       "Audio Only",
		Container:   best.Ext,
		ApproxBytes: best.approxBytes(),
		AudioOnly:   true,
	}, true
}
