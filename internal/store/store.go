// Package store provides PostgreSQL-backed persistence for Relay's users,
// chats, and messages. It is the durable collaborator the broker publishes
// on behalf of — the broker itself keeps no durable state, so anything a
// live stream missed can be recovered by re-reading through this package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a referenced user, chat, or message does not
// exist.
var ErrNotFound = errors.New("store: not found")

// User is a registered chat user.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is a conversation between two or more users. Name is optional; the
// UI derives a title from the participant list when it is nil.
type Chat struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a single persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSummary is a chat plus the context a chat list needs: the most recent
// message (nil if the chat is empty) and the full participant list.
type ChatSummary struct {
	Chat         Chat     `json:"chat"`
	LastMessage  *Message `json:"last_message"`
	Participants []User   `json:"participants"`
}

// Store wraps a PostgreSQL database handle.
type Store struct {
	db *sql.DB
}

// New creates a store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser inserts a new user. Returns a wrapped error on duplicate
// usernames (unique constraint).
func (s *Store) CreateUser(ctx context.Context, username string) (User, error) {
	const query = `
		INSERT INTO users (username)
		VALUES ($1)
		RETURNING id, username, created_at`

	var u User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

// UserByUsername looks up a user by username. Returns ErrNotFound when no
// such user exists.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	const query = `
		SELECT id, username, created_at
		FROM users
		WHERE username = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	const query = `
		SELECT id, username, created_at
		FROM users
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// GetChat fetches a chat by id. Returns ErrNotFound when the id is absent.
func (s *Store) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	const query = `
		SELECT id, name, created_at
		FROM chats
		WHERE id = $1`

	var c Chat
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("store: get chat: %w", err)
	}
	return c, nil
}

// CreateChat inserts a chat and its participant rows in one transaction.
// participantIDs must reference existing users; a violated foreign key
// surfaces as ErrNotFound.
func (s *Store) CreateChat(ctx context.Context, name *string, participantIDs []int64) (Chat, error) {
	if len(participantIDs) < 2 {
		return Chat{}, fmt.Errorf("store: create chat: need at least 2 participants, got %d", len(participantIDs))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, fmt.Errorf("store: create chat: %w", err)
	}
	defer tx.Rollback()

	var c Chat
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chats (name)
		VALUES ($1)
		RETURNING id, name, created_at`, name).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return Chat{}, fmt.Errorf("store: create chat: %w", err)
	}

	for _, userID := range participantIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, c.ID, userID)
		if err != nil {
			return Chat{}, fmt.Errorf("store: create chat participant %d: %w", userID, notFoundOnFKViolation(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, fmt.Errorf("store: create chat: %w", err)
	}
	return c, nil
}

// ChatParticipants returns the users participating in a chat, ordered by
// user id. A chat with no rows yields an empty slice; callers that need
// existence checks use GetChat.
func (s *Store) ChatParticipants(ctx context.Context, chatID int64) ([]User, error) {
	const query = `
		SELECT u.id, u.username, u.created_at
		FROM chat_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.chat_id = $1
		ORDER BY u.id`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: chat participants: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// InsertMessage persists a message. Referencing a missing chat or user
// surfaces as ErrNotFound via the foreign key constraints.
func (s *Store) InsertMessage(ctx context.Context, chatID, userID int64, content string) (Message, error) {
	const query = `
		INSERT INTO messages (chat_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, chat_id, user_id, content, created_at`

	var m Message
	err := s.db.QueryRowContext(ctx, query, chatID, userID, content).
		Scan(&m.ID, &m.ChatID, &m.UserID, &m.Content, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert message: %w", notFoundOnFKViolation(err))
	}
	return m, nil
}

// ChatMessages returns a chat's messages, newest first.
func (s *Store) ChatMessages(ctx context.Context, chatID int64) ([]Message, error) {
	const query = `
		SELECT id, chat_id, user_id, content, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: chat messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: chat messages: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chat messages: %w", err)
	}
	return messages, nil
}

// ChatsForUser returns every chat the user participates in, each with its
// last message and participant list, ordered by most recent activity.
func (s *Store) ChatsForUser(ctx context.Context, userID int64) ([]ChatSummary, error) {
	const query = `
		SELECT c.id, c.name, c.created_at
		FROM chats c
		JOIN chat_participants cp ON cp.chat_id = c.id
		WHERE cp.user_id = $1
		ORDER BY COALESCE(
			(SELECT MAX(m.created_at) FROM messages m WHERE m.chat_id = c.id),
			c.created_at
		) DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: chats for user: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: chats for user: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chats for user: %w", err)
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		last, err := s.lastMessage(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		participants, err := s.ChatParticipants(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ChatSummary{
			Chat:         c,
			LastMessage:  last,
			Participants: participants,
		})
	}
	return summaries, nil
}

// lastMessage returns the chat's most recent message, or nil if it has none.
func (s *Store) lastMessage(ctx context.Context, chatID int64) (*Message, error) {
	const query = `
		SELECT id, chat_id, user_id, content, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var m Message
	err := s.db.QueryRowContext(ctx, query, chatID).
		Scan(&m.ID, &m.ChatID, &m.UserID, &m.Content, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last message: %w", err)
	}
	return &m, nil
}

// scanUsers drains a result set of (id, username, created_at) rows.
func scanUsers(rows *sql.Rows) ([]User, error) {
	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan users: %w", err)
	}
	return users, nil
}

// notFoundOnFKViolation maps a postgres foreign key violation to ErrNotFound
// so callers see one error for "referenced row does not exist".
func notFoundOnFKViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		return ErrNotFound
	}
	return err
}
