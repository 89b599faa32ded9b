package bot

import (
	"errors"
	"fmt"

	"github.com/tgvault/tgvault/internal/premium"
	"github.com/tgvault/tgvault/internal/quota"
	"github.com/tgvault/tgvault/internal/session"
	"github.com/tgvault/tgvault/internal/transfer"
	"github.com/tgvault/tgvault/internal/types"
)

// User-facing texts stay short by design: interactive answers have a hard
// platform length limit and must never be truncated silently.
const (
	msgStart = "Send me a file or a video link and I'll store it for you.\n" +
		"Commands: /quota /premium /files /help"
	msgHelp = "Send a video link to pick a quality, or a file to upload.\n" +
		"/quota shows your limits. /premium requests higher ones."

	msgQuotaExceeded  = "Daily quota exceeded. Upgrade with /premium."
	msgFileTooLarge   = "File too large for your tier. Upgrade with /premium."
	msgSessionExpired = "Selection expired. Send the link again."
	msgUnknownChoice  = "Unknown option. Send the link again."
	msgAlreadyPremium = "You already have premium."
	msgRequestPending = "Your premium request is already pending."
	msgNoPendingReq   = "No pending request for that user."
	msgRequestSent    = "Premium request sent. The operator will review it."
	msgProbeFailed    = "Could not analyze that link."
	msgTransferFailed = "Download failed. Try again."
	msgCancelled      = "Selection cancelled."
	msgDownloading    = "Downloading..."
	msgAnalyzing      = "Analyzing video..."
	msgNoFormats      = "No downloadable formats found."
	msgNotOperator    = "Operators only."
	msgNoFiles        = "No stored files. They expire after the retention window."
)

// renderError maps a core failure to its short user text. Unknown errors
// collapse to a generic line; the detail stays in the logs.
func renderError(err error) string {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		return msgQuotaExceeded
	case errors.Is(err, quota.ErrFileTooLarge):
		return msgFileTooLarge
	case errors.Is(err, session.ErrSessionExpired):
		return msgSessionExpired
	case errors.Is(err, session.ErrUnknownChoice):
		return msgUnknownChoice
	case errors.Is(err, premium.ErrAlreadyPremium):
		return msgAlreadyPremium
	case errors.Is(err, premium.ErrRequestPending):
		return msgRequestPending
	case errors.Is(err, premium.ErrNoPending):
		return msgNoPendingReq
	default:
		return "Something went wrong. Try again."
	}
}

func storedMessage(res *transfer.Result, rec types.StoredObjectRecord, link string) string {
	return fmt.Sprintf(
		"Stored %s (%s).\nDownload: %s\nThe file is kept until %s.",
		res.FileName, humanSize(res.Size), link,
		rec.ExpiresAt.Format("Jan 2 15:04 MST"),
	)
}

const mb = 1024 * 1024

// humanSize keeps sizes readable in button labels.
func humanSize(bytes int64) string {
	switch {
	case bytes <= 0:
		return "?"
	case bytes < mb:
		return fmt.Sprintf("%dKB", bytes/1024)
	case bytes < 10*1024*mb:
		return fmt.Sprintf("%dMB", bytes/mb)
	default:
		return fmt.Sprintf("%.1fGB", float64(bytes)/(1024*float64(mb)))
	}
}

// clampTitle bounds free-form titles so composed messages stay inside the
// platform limit; the cut is explicit, never mid-sentence truncation by
// the transport.
func clampTitle(title string, max int) string {
	runes := []rune(title)
	if len(runes) <= max {
		return title
	}
	return string(runes[:max-1]) + "…"
}
