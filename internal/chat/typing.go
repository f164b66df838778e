package chat

import (
	"log"

	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/session"
)

// Typing aggregates per-session typing flags into a single broadcast view.
// There is no delta event and no debouncing here: every change recomputes the
// full ordered set from the registry and re-broadcasts it, which stays
// correct under rapid toggling without any internal timer.
type Typing struct {
	registry *session.Registry
	send     Sender
}

// Set updates the typing flag for a connection and re-broadcasts the set.
// An unregistered connection is a silent no-op (race with disconnect).
func (t *Typing) Set(connID string, isTyping bool) {
	if !t.registry.SetTyping(connID, isTyping) {
		return
	}
	t.Rebroadcast()
}

// Rebroadcast recomputes the typing set and broadcasts it to everyone. It is
// also invoked after a disconnect so a departed session's typing flag is
// excluded from the next view.
func (t *Typing) Rebroadcast() {
	users := t.registry.Typing()

	data, err := protocol.NewServerMessage(protocol.TypeTypingUsers, protocol.TypingUsersMsg{
		Users: users,
	})
	if err != nil {
		log.Printf("chat: failed to build typing_users: %v", err)
		return
	}
	t.send.Broadcast(data)
}
