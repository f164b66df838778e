// Package chat implements the real-time session, presence, and broadcast
// engine: it tracks which usernames are currently connected, aggregates
// typing state, validates and persists messages, and fans them out to the
// correct set of recipients. The Controller owns the per-connection state
// machine and funnels every registry mutation through the session Registry.
package chat

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/session"
	"github.com/parley/chat-server/internal/store"
)

// Store is the durable collaborator holding users and messages. The engine
// never caches a user or message beyond the scope of one event.
type Store interface {
	UpsertUser(ctx context.Context, username string, now time.Time) (store.User, error)
	SetUserOnline(ctx context.Context, username string, online bool, now time.Time) error
	AppendMessage(ctx context.Context, m store.Message) (store.Message, error)
}

// Sender is the transport collaborator used to deliver outbound
// announcements. All three delivery shapes the engine needs are covered:
// everyone, a specific connection set, and a single connection.
type Sender interface {
	Broadcast(data []byte)
	SendToSet(connIDs []string, data []byte)
	SendTo(connID string, data []byte) error
}

// Limiter throttles message submission per sender. Implementations must fail
// open; a nil Limiter disables throttling entirely.
type Limiter interface {
	Allow(ctx context.Context, sender string) (ok bool, retryAfter int)
}

// EventPublisher mirrors durable events onto an external bus for
// out-of-process consumers. Delivery to clients never depends on it.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

// Config wires the engine's collaborators. Registry, Store, and Send are
// required; the limiters and Events are optional.
type Config struct {
	Registry *session.Registry
	Store    Store
	Send     Sender
	// Limiter throttles message submission, keyed per username.
	Limiter Limiter
	// JoinLimiter throttles join attempts, keyed per connection.
	JoinLimiter Limiter
	Events      EventPublisher
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Controller orchestrates the per-connection lifecycle:
//
//	Connected-Unidentified -> Connected-Identified -> Disconnected
//
// A connection enters Unidentified on transport connect, Identified once a
// join binds a username, and Disconnected when the registry entry is
// removed. Chat, typing, and private events in the Unidentified state are
// rejected with a protocol error to the originating connection only.
type Controller struct {
	registry    *session.Registry
	presence    *Presence
	typing      *Typing
	pipeline    *Pipeline
	send        Sender
	joinLimiter Limiter
}

// NewController builds the engine from its collaborators.
func NewController(cfg Config) *Controller {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	presence := &Presence{
		registry: cfg.Registry,
		store:    cfg.Store,
		send:     cfg.Send,
		events:   cfg.Events,
		now:      now,
	}
	typing := &Typing{
		registry: cfg.Registry,
		send:     cfg.Send,
	}
	pipeline := &Pipeline{
		registry: cfg.Registry,
		store:    cfg.Store,
		send:     cfg.Send,
		limiter:  cfg.Limiter,
		events:   cfg.Events,
		now:      now,
	}

	return &Controller{
		registry:    cfg.Registry,
		presence:    presence,
		typing:      typing,
		pipeline:    pipeline,
		send:        cfg.Send,
		joinLimiter: cfg.JoinLimiter,
	}
}

// Connect registers a new connection in the Unidentified state. A duplicate
// connection ID is a transport-layer programming error and is returned to
// the caller rather than reported to the client.
func (c *Controller) Connect(connID string) error {
	_, err := c.registry.Register(connID)
	return err
}

// Join binds a username to the connection and announces presence. Binding a
// second username on the same connection is tolerated; the last write wins.
func (c *Controller) Join(ctx context.Context, connID, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		c.reportError(connID, errValidation("username is required"))
		return
	}
	if _, ok := c.registry.Get(connID); !ok {
		c.reportError(connID, errProtocol("connection is not registered"))
		return
	}

	if c.joinLimiter != nil {
		if ok, retryAfter := c.joinLimiter.Allow(ctx, connID); !ok {
			c.reportError(connID, errRateLimited(retryAfter))
			return
		}
	}

	if err := c.presence.Join(ctx, connID, username); err != nil {
		c.reportError(connID, err)
		return
	}
	log.Printf("chat: join session=%s username=%s", connID, username)
}

// Message validates, persists, and broadcasts a public message.
func (c *Controller) Message(ctx context.Context, connID, text string) {
	if !c.identified(connID) {
		c.reportError(connID, errProtocol("join before sending messages"))
		return
	}
	if err := c.pipeline.SubmitPublic(ctx, connID, text); err != nil {
		c.reportError(connID, err)
	}
}

// Private validates, persists, and delivers a private message to every
// session of the recipient and of the sender.
func (c *Controller) Private(ctx context.Context, connID, to, text string) {
	if !c.identified(connID) {
		c.reportError(connID, errProtocol("join before sending messages"))
		return
	}
	if err := c.pipeline.SubmitPrivate(ctx, connID, to, text); err != nil {
		c.reportError(connID, err)
	}
}

// SetTyping updates the connection's typing flag and re-broadcasts the full
// typing set. Rapid toggling is handled without any internal timer;
// debouncing is the client's responsibility.
func (c *Controller) SetTyping(connID string, isTyping bool) {
	if !c.identified(connID) {
		c.reportError(connID, errProtocol("join before typing"))
		return
	}
	c.typing.Set(connID, isTyping)
}

// Disconnect removes the connection. Duplicate disconnects are idempotent
// no-ops. For an identified connection the presence announcement runs first,
// then the typing set is recomputed so a stale typing flag is excluded from
// the next broadcast.
func (c *Controller) Disconnect(ctx context.Context, connID string) {
	sess, ok := c.registry.Remove(connID)
	if !ok {
		return
	}
	if !sess.Identified() {
		return
	}

	c.presence.Leave(ctx, sess.Username)
	c.typing.Rebroadcast()
	log.Printf("chat: disconnect session=%s username=%s", connID, sess.Username)
}

// identified reports whether the connection has a bound username.
func (c *Controller) identified(connID string) bool {
	sess, ok := c.registry.Get(connID)
	return ok && sess.Identified()
}

// reportError sends a single error notification to the originating
// connection. Errors are never broadcast.
func (c *Controller) reportError(connID string, err error) {
	log.Printf("chat: session=%s rejected: %v", connID, err)

	e, ok := err.(*Error)
	if !ok {
		e = &Error{Code: CodePersistence, Message: "internal error"}
	}

	var data []byte
	var buildErr error
	if e.Code == CodeRateLimited {
		data, buildErr = protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: e.RetryAfter,
		})
	} else {
		data, buildErr = protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code:    e.Code,
			Message: e.Message,
		})
	}
	if buildErr != nil {
		log.Printf("chat: failed to build error message session=%s: %v", connID, buildErr)
		return
	}
	if sendErr := c.send.SendTo(connID, data); sendErr != nil {
		log.Printf("chat: failed to send error message session=%s: %v", connID, sendErr)
	}
}
