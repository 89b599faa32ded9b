package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgvault/tgvault/internal/objectstore"
	"github.com/tgvault/tgvault/internal/quota"
	"github.com/tgvault/tgvault/internal/transfer"
	"github.com/tgvault/tgvault/internal/types"
)

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	cd, ok := parseCallback(cq.Data)
	if !ok || cq.Message == nil {
		b.answerCallback(cq.ID, "")
		return
	}

	switch cd.kind {
	case cbSelect:
		b.handleSelect(ctx, cq, cd.arg, cd.rest)
	case cbCancel:
		b.handleCancel(cq, cd.arg)
	case cbResolve:
		b.handleResolveCallback(ctx, cq, cd)
	default:
		b.answerCallback(cq.ID, "")
	}
}

func (b *Bot) handleSelect(ctx context.Context, cq *tgbotapi.CallbackQuery, sessionID, candidateKey string) {
	chatID := cq.Message.Chat.ID

	// Stale button from a superseded or swept keyboard: the open session for
	// the pair either doesn't exist or carries a different id.
	sess, ok := b.sessions.Open(chatID, cq.From.ID)
	if !ok || sess.ID != sessionID {
		b.answerCallback(cq.ID, "")
		b.editText(chatID, cq.Message.MessageID, msgSessionExpired)
		return
	}
	sourceURL, title := sess.SourceURL, sess.Title

	// Reload the user so the live tier decides the quota re-check.
	user, err := b.users.GetUser(ctx, cq.From.ID)
	if err != nil {
		user, err = b.upsertUser(ctx, cq.From)
	}
	if err != nil {
		slog.Error("failed to load user", slog.Int64("user_id", cq.From.ID), slog.String("error", err.Error()))
		b.answerCallback(cq.ID, renderError(err))
		return
	}

	choice, err := b.sessions.Select(ctx, sessionID, candidateKey, user)
	if err != nil {
		b.answerCallback(cq.ID, "")
		b.editText(chatID, cq.Message.MessageID, renderError(err))
		return
	}

	b.answerCallback(cq.ID, "")
	b.editText(chatID, cq.Message.MessageID, msgDownloading)

	b.completeTransfer(ctx, cq, user, sourceURL, title, choice)
}

// completeTransfer runs the fetch, settles the quota against the actual
// transferred size and hands the caller a presigned link. A transfer whose
// true size turns out over quota is reclaimed immediately.
func (b *Bot) completeTransfer(ctx context.Context, cq *tgbotapi.CallbackQuery, user *types.User, sourceURL, title string, choice types.FormatOption) {
	chatID := cq.Message.Chat.ID

	var res *transfer.Result
	var err error
	if fileID, ok := strings.CutPrefix(sourceURL, tgFilePrefix); ok {
		res, err = b.fetchPlatformFile(ctx, fileID, title, user.ID)
	} else {
		res, err = b.pipeline.FetchVideo(ctx, sourceURL, choice, user.ID)
	}
	if err != nil {
		slog.Error("transfer failed",
			slog.Int64("user_id", user.ID),
			slog.String("format", choice.Key),
			slog.String("error", err.Error()),
		)
		b.editText(chatID, cq.Message.MessageID, msgTransferFailed)
		return
	}

	rec, err := b.settleTransfer(ctx, user, res)
	if err != nil {
		b.editText(chatID, cq.Message.MessageID, renderError(err))
		return
	}

	link, err := b.objects.Presign(ctx, res.ObjectKey, res.FileName, b.cfg.Vault.PresignTTL)
	if err != nil {
		slog.Error("failed to presign object",
			slog.String("object_key", res.ObjectKey), slog.String("error", err.Error()))
		b.editText(chatID, cq.Message.MessageID, renderError(err))
		return
	}

	b.editText(chatID, cq.Message.MessageID, storedMessage(res, rec, link.String()))
}

// settleTransfer charges the quota and registers the metadata row for a
// stored object. On any failure the object is discarded again: the sweep
// only ever visits recorded objects, so an unrecorded one would be orphaned
// forever, and the user must not stay charged for a file they never got.
func (b *Bot) settleTransfer(ctx context.Context, user *types.User, res *transfer.Result) (types.StoredObjectRecord, error) {
	if err := b.ledger.Consume(ctx, user, res.Size); err != nil {
		if !errors.Is(err, quota.ErrQuotaExceeded) {
			slog.Error("quota settlement failed", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		}
		b.discardObject(ctx, res.ObjectKey)
		return types.StoredObjectRecord{}, err
	}

	now := time.Now()
	rec := types.StoredObjectRecord{
		ObjectKey: res.ObjectKey,
		OwnerID:   user.ID,
		FileName:  res.FileName,
		Size:      res.Size,
		CreatedAt: now,
		ExpiresAt: now.Add(b.cfg.Vault.RetentionWindow),
	}
	if err := b.records.CreateRecord(ctx, rec); err != nil {
		slog.Error("failed to record object",
			slog.String("object_key", res.ObjectKey), slog.String("error", err.Error()))
		b.discardObject(ctx, res.ObjectKey)
		if refundErr := b.ledger.Refund(ctx, user, res.Size); refundErr != nil {
			slog.Error("failed to refund quota",
				slog.Int64("user_id", user.ID), slog.String("error", refundErr.Error()))
		}
		return types.StoredObjectRecord{}, err
	}

	return rec, nil
}

func (b *Bot) discardObject(ctx context.Context, key string) {
	if err := b.objects.Delete(ctx, key); err != nil && !errors.Is(err, objectstore.ErrObjectAbsent) {
		slog.Error("failed to discard unrecorded object",
			slog.String("object_key", key), slog.String("error", err.Error()))
	}
}

// fetchPlatformFile pulls a user upload through the platform's file API and
// streams it into backing storage.
func (b *Bot) fetchPlatformFile(ctx context.Context, fileID, fileName string, ownerID int64) (*transfer.Result, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, err
	}
	return b.pipeline.FetchURL(ctx, file.Link(b.api.Token), fileName, ownerID)
}

func (b *Bot) handleCancel(cq *tgbotapi.CallbackQuery, sessionID string) {
	b.sessions.Cancel(sessionID)
	b.answerCallback(cq.ID, "")
	b.editText(cq.Message.Chat.ID, cq.Message.MessageID, msgCancelled)
}

func (b *Bot) handleResolveCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, cd callbackData) {
	if cq.Message.Chat.ID != b.cfg.Telegram.OperatorChatID {
		b.answerCallback(cq.ID, msgNotOperator)
		return
	}

	userID, err := strconv.ParseInt(cd.arg, 10, 64)
	if err != nil {
		b.answerCallback(cq.ID, "")
		return
	}
	promote := cd.rest == "approve"

	if err := b.premium.Resolve(ctx, userID, promote); err != nil {
		b.answerCallback(cq.ID, renderError(err))
		return
	}

	verdict := "denied"
	if promote {
		verdict = "approved"
	}
	b.answerCallback(cq.ID, "Resolved")
	b.editText(cq.Message.Chat.ID, cq.Message.MessageID,
		"Premium request for "+cd.arg+" "+verdict+".")
}
