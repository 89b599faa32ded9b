package notify

import (
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgvault/tgvault/internal/types"
)

// Telegram delivers notifications through the Bot API from a single send
// pump, so enqueueing never blocks a quota decision or session transition
// on network I/O. A full queue drops with a log, not a stall.
type Telegram struct {
	api            *tgbotapi.BotAPI
	operatorChatID int64
	queue          chan tgbotapi.Chattable
	wg             sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewTelegram(api *tgbotapi.BotAPI, operatorChatID int64, queueSize int) *Telegram {
	n := &Telegram{
		api:            api,
		operatorChatID: operatorChatID,
		queue:          make(chan tgbotapi.Chattable, queueSize),
	}

	n.wg.Add(1)
	go n.pump()

	return n
}

func (n *Telegram) pump() {
	defer n.wg.Done()
	for msg := range n.queue {
		if _, err := n.api.Send(msg); err != nil {
			// Fire-and-forget: delivery failure never rolls back the
			// state transition that queued this.
			slog.Error("notification delivery failed", slog.String("error", err.Error()))
		}
	}
}

func (n *Telegram) enqueue(msg tgbotapi.Chattable) {
	// Update handlers run detached and may outlive shutdown; a send on the
	// closed queue would panic, so the flag and the close share one lock.
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		slog.Warn("notifier closed, dropping message")
		return
	}

	select {
	case n.queue <- msg:
	default:
		slog.Warn("notification queue full, dropping message")
	}
}

// NotifyOperator sends the upgrade request to the operator chat with an
// inline approve/deny keyboard resolving it.
func (n *Telegram) NotifyOperator(note types.OperatorNote) {
	text := fmt.Sprintf("New %s request\nUser: %s (%d)\nRequested: %s",
		note.Kind, note.DisplayName, note.UserID, note.RequestedAt.Format("2006-01-02 15:04:05 MST"))

	msg := tgbotapi.NewMessage(n.operatorChatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", fmt.Sprintf("adm:%d:approve", note.UserID)),
			tgbotapi.NewInlineKeyboardButtonData("Deny", fmt.Sprintf("adm:%d:deny", note.UserID)),
		),
	)
	n.enqueue(msg)
}

// NotifyUser sends a plain text message to the user's chat.
func (n *Telegram) NotifyUser(userID int64, text string) {
	n.enqueue(tgbotapi.NewMessage(userID, text))
}

// Close drains and stops the send pump. Idempotent; later enqueues are
// dropped with a log instead of panicking.
func (n *Telegram) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}
