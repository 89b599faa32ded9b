package notify

import (
	"testing"
	"time"

	"github.com/tgvault/tgvault/internal/types"
)

func TestTelegram_EnqueueAfterCloseDoesNotPanic(t *testing.T) {
	n := NewTelegram(nil, 1, 4)
	n.Close()

	// Detached update handlers can outlive shutdown; late notifications
	// must be dropped, never sent into the closed queue.
	n.NotifyUser(7, "late promotion notice")
	n.NotifyOperator(types.OperatorNote{
		UserID:      7,
		DisplayName: "alice",
		RequestedAt: time.Now(),
		Kind:        "premium upgrade",
	})
}

func TestTelegram_CloseIsIdempotent(t *testing.T) {
	n := NewTelegram(nil, 1, 4)
	n.Close()
	n.Close()
}
