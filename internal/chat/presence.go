package chat

import (
	"context"
	"log"
	"time"

	"github.com/parley/chat-server/internal/messaging"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/session"
)

// Presence turns registry snapshots into announcements. On every identity
// change the delta event (user_joined/user_left) is emitted strictly before
// the refreshed full user_list, and the full list is always re-derived from
// the registry rather than tracked incrementally.
type Presence struct {
	registry *session.Registry
	store    Store
	send     Sender
	events   EventPublisher
	now      func() time.Time
}

// Join upserts the durable user record, binds the username to the
// connection, and broadcasts user_joined followed by the refreshed
// user_list. On a persistence failure nothing is bound or broadcast.
func (p *Presence) Join(ctx context.Context, connID, username string) error {
	now := p.now()

	user, err := p.store.UpsertUser(ctx, username, now)
	if err != nil {
		log.Printf("chat: presence upsert failed username=%s: %v", username, err)
		return errPersistence("failed to join chat")
	}

	// Bind only after the durable write succeeded. Rebinding overwrites;
	// last write wins.
	if prev, ok := p.registry.Bind(connID, username, user.LastSeen); !ok {
		return errProtocol("connection is not registered")
	} else if prev != "" && prev != username {
		log.Printf("chat: session=%s rebound username %s -> %s", connID, prev, username)
	}

	joined, err := protocol.NewServerMessage(protocol.TypeUserJoined, protocol.UserJoinedMsg{
		Username: username,
		Ts:       now.Unix(),
	})
	if err != nil {
		return errPersistence("failed to announce join")
	}
	p.send.Broadcast(joined)
	p.broadcastUserList()
	p.mirror(joined)
	return nil
}

// Leave announces that a username has left and flips its durable record
// offline. The announcement is broadcast before the offline write is
// confirmed; a crash between the two can leave the online flag stale, which
// is an accepted limitation rather than a guaranteed invariant.
func (p *Presence) Leave(ctx context.Context, username string) {
	now := p.now()

	left, err := protocol.NewServerMessage(protocol.TypeUserLeft, protocol.UserLeftMsg{
		Username: username,
		Ts:       now.Unix(),
	})
	if err != nil {
		log.Printf("chat: failed to build user_left username=%s: %v", username, err)
		return
	}
	p.send.Broadcast(left)

	if err := p.store.SetUserOnline(ctx, username, false, now); err != nil {
		// The connection is already gone; there is no origin to notify.
		log.Printf("chat: presence offline write failed username=%s: %v", username, err)
	}

	p.broadcastUserList()
	p.mirror(left)
}

// broadcastUserList re-derives the online snapshot from the registry and
// broadcasts it to everyone.
func (p *Presence) broadcastUserList() {
	online := p.registry.Online()

	users := make([]protocol.UserEntry, 0, len(online))
	for _, u := range online {
		users = append(users, protocol.UserEntry{
			Username: u.Username,
			LastSeen: u.Since.Unix(),
		})
	}

	data, err := protocol.NewServerMessage(protocol.TypeUserList, protocol.UserListMsg{Users: users})
	if err != nil {
		log.Printf("chat: failed to build user_list: %v", err)
		return
	}
	p.send.Broadcast(data)
	metrics.OnlineUsers.Set(float64(len(users)))
}

// mirror publishes a presence event to the external bus, when configured.
func (p *Presence) mirror(data []byte) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(messaging.SubjectPresence, data); err != nil {
		log.Printf("chat: presence mirror publish failed: %v", err)
	}
}
