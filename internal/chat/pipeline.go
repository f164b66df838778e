package chat

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/parley/chat-server/internal/messaging"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/session"
	"github.com/parley/chat-server/internal/store"
)

// Pipeline validates, timestamps, persists, and routes messages. A message
// reaches the transport only after the persistence write succeeds, so
// clients never see an unpersisted message.
type Pipeline struct {
	registry *session.Registry
	store    Store
	send     Sender
	limiter  Limiter
	events   EventPublisher
	now      func() time.Time
}

// SubmitPublic persists a public message and broadcasts it to every
// connected session. Validation and persistence failures are returned for
// delivery to the originating connection only.
func (pl *Pipeline) SubmitPublic(ctx context.Context, connID, body string) error {
	sender, body, err := pl.prepare(ctx, connID, body)
	if err != nil {
		return err
	}

	saved, err := pl.persist(ctx, store.Message{
		Sender:    sender,
		Body:      body,
		CreatedAt: pl.now(),
	})
	if err != nil {
		return err
	}

	data, err := encodeMessage(protocol.TypeMessage, saved)
	if err != nil {
		return errPersistence("failed to encode message")
	}
	pl.send.Broadcast(data)
	pl.mirror(data)
	metrics.MessagesTotal.WithLabelValues("public").Inc()
	return nil
}

// SubmitPrivate persists a private message and delivers it to every session
// currently bound to the recipient and to every session bound to the sender,
// so the sender sees the echo on all of its connections. Delivery to an
// offline recipient is fire and forget: the message is persisted and the
// sender still receives the echo, but nothing is queued or retried.
func (pl *Pipeline) SubmitPrivate(ctx context.Context, connID, recipient, body string) error {
	sender, body, err := pl.prepare(ctx, connID, body)
	if err != nil {
		return err
	}

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return errValidation("recipient is required")
	}

	saved, err := pl.persist(ctx, store.Message{
		Sender:    sender,
		Body:      body,
		Private:   true,
		Recipient: recipient,
		CreatedAt: pl.now(),
	})
	if err != nil {
		return err
	}

	data, err := encodeMessage(protocol.TypePrivateMessage, saved)
	if err != nil {
		return errPersistence("failed to encode message")
	}

	// Delivery keys strictly on username via the registry reverse lookup:
	// every session of the recipient and of the sender, deduplicated, never
	// a specific connection ID.
	targets := pl.registry.SessionsFor(recipient)
	for _, id := range pl.registry.SessionsFor(sender) {
		if !contains(targets, id) {
			targets = append(targets, id)
		}
	}
	pl.send.SendToSet(targets, data)
	pl.mirror(data)
	metrics.MessagesTotal.WithLabelValues("private").Inc()
	return nil
}

// prepare resolves the sender, applies rate limiting, and trims the body.
func (pl *Pipeline) prepare(ctx context.Context, connID, body string) (sender, trimmed string, err error) {
	sess, ok := pl.registry.Get(connID)
	if !ok || !sess.Identified() {
		return "", "", errValidation("sender has no bound username")
	}

	body = strings.TrimSpace(body)
	if body == "" {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return "", "", errValidation("message body is empty")
	}

	if pl.limiter != nil {
		if ok, retryAfter := pl.limiter.Allow(ctx, sess.Username); !ok {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return "", "", errRateLimited(retryAfter)
		}
	}
	return sess.Username, body, nil
}

// persist appends the message to the store, recording write latency. The
// failure is local: the triggering event's side effects are simply not
// applied, and the connection and registry remain intact.
func (pl *Pipeline) persist(ctx context.Context, m store.Message) (store.Message, error) {
	start := time.Now()
	saved, err := pl.store.AppendMessage(ctx, m)
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("chat: persist failed sender=%s private=%v: %v", m.Sender, m.Private, err)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return store.Message{}, errPersistence("failed to save message")
	}
	return saved, nil
}

// mirror publishes a persisted message to the external bus, when configured.
func (pl *Pipeline) mirror(data []byte) {
	if pl.events == nil {
		return
	}
	if err := pl.events.Publish(messaging.SubjectMessages, data); err != nil {
		log.Printf("chat: message mirror publish failed: %v", err)
	}
}

// encodeMessage builds the outbound frame for a persisted message.
func encodeMessage(msgType string, m store.Message) ([]byte, error) {
	return protocol.NewServerMessage(msgType, protocol.ServerChatMsg{
		ID:        m.ID,
		Sender:    m.Sender,
		Text:      m.Body,
		Ts:        m.CreatedAt.Unix(),
		Private:   m.Private,
		Recipient: m.Recipient,
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
