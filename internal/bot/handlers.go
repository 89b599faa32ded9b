package bot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgvault/tgvault/internal/session"
	"github.com/tgvault/tgvault/internal/types"
)

// tgFilePrefix marks a selection session whose source is a platform file
// upload rather than a probeable link. The remainder is the file id.
const tgFilePrefix = "tgfile:"

const maxTitleRunes = 80

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.upsertUser(ctx, msg.From)
	if err != nil {
		slog.Error("failed to upsert user", slog.Int64("user_id", msg.From.ID), slog.String("error", err.Error()))
		b.reply(msg.Chat.ID, renderError(err))
		return
	}

	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg, user)
	case msg.Document != nil:
		b.startFileSession(ctx, msg, user, msg.Document.FileID, msg.Document.FileName, int64(msg.Document.FileSize))
	case msg.Video != nil:
		b.startFileSession(ctx, msg, user, msg.Video.FileID, videoFileName(msg.Video), int64(msg.Video.FileSize))
	case msg.Audio != nil:
		b.startFileSession(ctx, msg, user, msg.Audio.FileID, audioFileName(msg.Audio), int64(msg.Audio.FileSize))
	case msg.Text != "":
		b.handleText(ctx, msg, user)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *types.User) {
	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, msgStart)
	case "help":
		b.reply(msg.Chat.ID, msgHelp)
	case "quota":
		b.handleQuota(ctx, msg, user)
	case "premium":
		b.handlePremium(ctx, msg, user)
	case "files":
		b.handleFiles(ctx, msg, user)
	case "language":
		b.handleLanguage(ctx, msg, user)
	case "resolve":
		b.handleResolve(ctx, msg)
	default:
		b.reply(msg.Chat.ID, msgHelp)
	}
}

func (b *Bot) handleQuota(ctx context.Context, msg *tgbotapi.Message, user *types.User) {
	caps := b.ledger.Caps(user.Tier)
	consumed, err := b.ledger.Consumed(ctx, user.ID)
	if err != nil {
		slog.Error("failed to read quota", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		b.reply(msg.Chat.ID, renderError(err))
		return
	}

	remaining := caps.DailyBytes - consumed
	if remaining < 0 {
		remaining = 0
	}
	b.reply(msg.Chat.ID, fmt.Sprintf(
		"Tier: %s\nUsed today: %s of %s (%s left)\nPer-file limit: %s",
		user.Tier, humanSize(consumed), humanSize(caps.DailyBytes),
		humanSize(remaining), humanSize(caps.PerFileBytes),
	))
}

func (b *Bot) handlePremium(ctx context.Context, msg *tgbotapi.Message, user *types.User) {
	if _, err := b.premium.Request(ctx, user); err != nil {
		b.reply(msg.Chat.ID, renderError(err))
		return
	}
	b.reply(msg.Chat.ID, msgRequestSent)
}

func (b *Bot) handleFiles(ctx context.Context, msg *tgbotapi.Message, user *types.User) {
	records, err := b.records.ListByOwner(ctx, user.ID)
	if err != nil {
		slog.Error("failed to list files", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		b.reply(msg.Chat.ID, renderError(err))
		return
	}
	if len(records) == 0 {
		b.reply(msg.Chat.ID, msgNoFiles)
		return
	}

	var sb strings.Builder
	sb.WriteString("Your stored files:\n")
	for _, rec := range records {
		link, err := b.objects.Presign(ctx, rec.ObjectKey, rec.FileName, b.cfg.Vault.PresignTTL)
		if err != nil {
			slog.Error("failed to presign object",
				slog.String("object_key", rec.ObjectKey), slog.String("error", err.Error()))
			continue
		}
		fmt.Fprintf(&sb, "\n%s (%s), expires %s\n%s\n",
			rec.FileName, humanSize(rec.Size),
			rec.ExpiresAt.Format("Jan 2 15:04"), link.String())
	}
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleLanguage(ctx context.Context, msg *tgbotapi.Message, user *types.User) {
	code := strings.TrimSpace(msg.CommandArguments())
	if err := b.validate.Var(code, "required,bcp47_language_tag"); err != nil {
		b.reply(msg.Chat.ID, "Usage: /language <code>, e.g. /language en")
		return
	}
	if err := b.users.SetLanguage(ctx, user.ID, code); err != nil {
		slog.Error("failed to set language", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		b.reply(msg.Chat.ID, renderError(err))
		return
	}
	b.reply(msg.Chat.ID, "Language set to "+code+".")
}

// handleResolve is the command fallback for operators without inline buttons:
// /resolve <user_id> approve|deny.
func (b *Bot) handleResolve(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat.ID != b.cfg.Telegram.OperatorChatID {
		b.reply(msg.Chat.ID, msgNotOperator)
		return
	}

	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 || (args[1] != "approve" && args[1] != "deny") {
		b.reply(msg.Chat.ID, "Usage: /resolve <user_id> approve|deny")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(msg.Chat.ID, "Usage: /resolve <user_id> approve|deny")
		return
	}

	if err := b.premium.Resolve(ctx, userID, args[1] == "approve"); err != nil {
		b.reply(msg.Chat.ID, renderError(err))
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Request for %d resolved: %s.", userID, args[1]))
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message, user *types.User) {
	text := strings.TrimSpace(msg.Text)
	if b.validate.Var(text, "required,http_url") != nil {
		b.reply(msg.Chat.ID, msgHelp)
		return
	}

	b.reply(msg.Chat.ID, msgAnalyzing)

	info, err := b.prober.Probe(ctx, text)
	if err != nil {
		slog.Error("probe failed", slog.String("url", text), slog.String("error", err.Error()))
		b.reply(msg.Chat.ID, msgProbeFailed)
		return
	}
	if len(info.Candidates) == 0 {
		b.reply(msg.Chat.ID, msgNoFormats)
		return
	}

	sess, err := b.sessions.Start(ctx, msg.Chat.ID, user, text, info.Title, info.Candidates)
	if err != nil {
		slog.Error("failed to open session", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		b.reply(msg.Chat.ID, renderError(err))
		return
	}

	b.sendOptions(msg.Chat.ID, sess)
}

// startFileSession routes a platform upload through the same selection flow
// as a probed link: one candidate, same confirmation keyboard, same quota
// annotation, same expiry.
func (b *Bot) startFileSession(ctx context.Context, msg *tgbotapi.Message, user *types.User, fileID, fileName string, size int64) {
	if fileName == "" {
		fileName = "file-" + strconv.FormatInt(msg.Time().Unix(), 10)
	}

	candidates := []types.FormatOption{{
		Key:         "file",
		Label:       "Store file",
		Container:   strings.TrimPrefix(filepath.Ext(fileName), "."),
		ApproxBytes: size,
	}}

	sess, err := b.sessions.Start(ctx, msg.Chat.ID, user, tgFilePrefix+fileID, fileName, candidates)
	if err != nil {
		slog.Error("failed to open file session", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		b.reply(msg.Chat.ID, renderError(err))
		return
	}

	b.sendOptions(msg.Chat.ID, sess)
}

// sendOptions renders the open session as a message with one button per
// candidate plus a cancel row. Options over the caller's limits stay
// selectable but are flagged; the final verdict belongs to Select.
func (b *Bot) sendOptions(chatID int64, sess *session.Session) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(sess.Candidates)+1)
	for _, c := range sess.Candidates {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(optionLabel(c), selectCallback(sess.ID, c.Key)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel", cancelCallback(sess.ID)),
	))

	text := "Pick a quality:"
	if sess.Title != "" {
		text = clampTitle(sess.Title, maxTitleRunes) + "\n" + text
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		slog.Error("failed to send options", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
}

func optionLabel(c types.FormatOption) string {
	label := c.Label
	if c.Container != "" && !c.AudioOnly {
		label += " " + c.Container
	}
	label += " · " + humanSize(c.ApproxBytes)
	if c.ExceedsLimits {
		label = "⚠ " + label
	}
	return label
}

func videoFileName(v *tgbotapi.Video) string {
	if v.FileName != "" {
		return v.FileName
	}
	return "video.mp4"
}

func audioFileName(a *tgbotapi.Audio) string {
	if a.FileName != "" {
		return a.FileName
	}
	return "audio.mp3"
}
