// Package store provides PostgreSQL-backed persistence for users and
// messages. Users are upserted by username; messages are append-only and
// receive their identifier at insertion time.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrForbidden is returned when the caller is not allowed to modify a row,
// e.g. deleting a message sent by someone else.
var ErrForbidden = errors.New("store: forbidden")

// User is the durable record for a username. IsOnline reflects whether any
// live session holds the username; the chat engine flips it on join and
// disconnect.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a persisted chat message. Once written it is immutable except
// for an explicit sender-initiated delete.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Private   bool      `json:"private"`
	Recipient string    `json:"recipient,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Pagination describes one page of a paginated message listing.
type Pagination struct {
	CurrentPage   int  `json:"current_page"`
	TotalPages    int  `json:"total_pages"`
	TotalMessages int  `json:"total_messages"`
	HasNext       bool `json:"has_next"`
	HasPrev       bool `json:"has_prev"`
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the given DSN and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertUser creates or refreshes the user record for a username, marking it
// online and stamping last_seen. It returns the resulting row.
func (s *Store) UpsertUser(ctx context.Context, username string, now time.Time) (User, error) {
	const query = `
		INSERT INTO users (username, is_online, last_seen)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (username)
		DO UPDATE SET is_online = TRUE, last_seen = EXCLUDED.last_seen
		RETURNING id, username, is_online, last_seen, created_at`

	var u User
	err := s.db.QueryRowContext(ctx, query, username, now).
		Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("store: upsert user: %w", err)
	}
	return u, nil
}

// SetUserOnline flips the online flag for a username and stamps last_seen.
// Unknown usernames are a no-op: the store never fabricates a user record
// from a status change.
func (s *Store) SetUserOnline(ctx context.Context, username string, online bool, now time.Time) error {
	const query = `
		UPDATE users SET is_online = $2, last_seen = $3 WHERE username = $1`

	if _, err := s.db.ExecContext(ctx, query, username, online, now); err != nil {
		return fmt.Errorf("store: set user online: %w", err)
	}
	return nil
}

// GetUser returns the user record for a username, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	const query = `
		SELECT id, username, is_online, last_seen, created_at
		FROM users WHERE username = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// OnlineUsers returns all users currently marked online, most recently seen
// first.
func (s *Store) OnlineUsers(ctx context.Context) ([]User, error) {
	const query = `
		SELECT id, username, is_online, last_seen, created_at
		FROM users WHERE is_online = TRUE
		ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: online users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// AppendMessage persists a message and returns it with the assigned ID.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	const query = `
		INSERT INTO messages (sender, body, is_private, recipient, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id`

	if err := s.db.QueryRowContext(ctx, query,
		m.Sender, m.Body, m.Private, m.Recipient, m.CreatedAt).Scan(&m.ID); err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	return m, nil
}

// RecentMessages returns the last limit public messages in chronological
// order, for initial history load.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	const query = `
		SELECT id, sender, body, is_private, COALESCE(recipient, ''), created_at
		FROM messages WHERE is_private = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	msgs, err := s.queryMessages(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ListMessages returns one page of public messages in chronological order,
// newest pages first, together with pagination metadata.
func (s *Store) ListMessages(ctx context.Context, page, limit int) ([]Message, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE is_private = FALSE`).Scan(&total); err != nil {
		return nil, Pagination{}, fmt.Errorf("store: count messages: %w", err)
	}

	const query = `
		SELECT id, sender, body, is_private, COALESCE(recipient, ''), created_at
		FROM messages WHERE is_private = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	msgs, err := s.queryMessages(ctx, query, limit, (page-1)*limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	reverse(msgs)
	return msgs, Paginate(total, page, limit), nil
}

// Conversation returns the private messages exchanged between two usernames,
// oldest first, capped at limit.
func (s *Store) Conversation(ctx context.Context, userA, userB string, limit int) ([]Message, error) {
	const query = `
		SELECT id, sender, body, is_private, COALESCE(recipient, ''), created_at
		FROM messages
		WHERE is_private = TRUE
		  AND ((sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1))
		ORDER BY created_at ASC, id ASC
		LIMIT $3`

	return s.queryMessages(ctx, query, userA, userB, limit)
}

// SearchMessages performs a case-insensitive substring search over public
// message bodies, newest first.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]Message, error) {
	const q = `
		SELECT id, sender, body, is_private, COALESCE(recipient, ''), created_at
		FROM messages
		WHERE is_private = FALSE AND body ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	return s.queryMessages(ctx, q, query, limit)
}

// DeleteMessage removes a message if the requester is its sender. It returns
// ErrNotFound for unknown IDs and ErrForbidden when the requester did not
// send the message.
func (s *Store) DeleteMessage(ctx context.Context, id int64, requester string) error {
	var sender string
	err := s.db.QueryRowContext(ctx,
		`SELECT sender FROM messages WHERE id = $1`, id).Scan(&sender)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: lookup message: %w", err)
	}
	if sender != requester {
		return ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("store: delete message: %w", err)
	}
	return nil
}

// Paginate computes pagination metadata for a listing of total rows viewed
// page by page with the given limit.
func Paginate(total, page, limit int) Pagination {
	totalPages := (total + limit - 1) / limit
	return Pagination{
		CurrentPage:   page,
		TotalPages:    totalPages,
		TotalMessages: total,
		HasNext:       page < totalPages,
		HasPrev:       page > 1,
	}
}

// queryMessages runs a message query and scans all rows.
func (s *Store) queryMessages(ctx context.Context, query string, args ...interface{}) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Body, &m.Private, &m.Recipient, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
