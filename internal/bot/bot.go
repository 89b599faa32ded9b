package bot

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/premium"
	"github.com/tgvault/tgvault/internal/prober"
	"github.com/tgvault/tgvault/internal/quota"
	"github.com/tgvault/tgvault/internal/session"
	"github.com/tgvault/tgvault/internal/storage"
	"github.com/tgvault/tgvault/internal/transfer"
	"github.com/tgvault/tgvault/internal/types"
)

// Prober extracts candidate formats for a source URL.
type Prober interface {
	Probe(ctx context.Context, sourceURL string) (*prober.VideoInfo, error)
}

// Transfer is the hand-off target for a confirmed selection.
type Transfer interface {
	FetchVideo(ctx context.Context, sourceURL string, choice types.FormatOption, ownerID int64) (*transfer.Result, error)
	FetchURL(ctx context.Context, fileURL, fileName string, ownerID int64) (*transfer.Result, error)
}

// ObjectStore is the slice of the storage collaborator the router touches.
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key, fileName string, ttl time.Duration) (*url.URL, error)
}

// Bot is the interaction router: it translates platform updates into core
// operations and core results back into short rendered replies. No core
// logic lives here.
type Bot struct {
	api      *tgbotapi.BotAPI
	users    storage.UserStore
	records  storage.ObjectRecordStore
	ledger   *quota.Ledger
	sessions *session.Store
	premium  *premium.Workflow
	prober   Prober
	pipeline Transfer
	objects  ObjectStore
	cfg      *config.Config
	validate *validator.Validate
}

func New(
	api *tgbotapi.BotAPI,
	users storage.UserStore,
	records storage.ObjectRecordStore,
	ledger *quota.Ledger,
	sessions *session.Store,
	workflow *premium.Workflow,
	probe Prober,
	pipeline Transfer,
	objects ObjectStore,
	cfg *config.Config,
) *Bot {
	return &Bot{
		api:      api,
		users:    users,
		records:  records,
		ledger:   ledger,
		sessions: sessions,
		premium:  workflow,
		prober:   probe,
		pipeline: pipeline,
		objects:  objects,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Start runs the long-polling loop until ctx is cancelled. Each update is
// handled on its own goroutine; linearization per user/session is the
// concern of the stores, not the loop.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.Telegram.PollTimeout

	updates := b.api.GetUpdatesChan(u)

	slog.Info("bot started", slog.String("account", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			slog.Info("bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in update handler", slog.Any("panic", r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// upsertUser registers the sender on every interaction, mirroring the
// create-on-first-contact rule.
func (b *Bot) upsertUser(ctx context.Context, from *tgbotapi.User) (*types.User, error) {
	return b.users.UpsertUser(ctx, from.ID, from.UserName, from.FirstName, from.LastName)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		slog.Error("failed to send reply", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
}

func (b *Bot) editText(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.api.Send(edit); err != nil {
		slog.Error("failed to edit message", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		slog.Error("failed to answer callback", slog.String("error", err.Error()))
	}
}
