// Package chatstore persists chat threads durably. History is append-only:
// a turn's user and bot messages land together or not at all, and messages
// are never rewritten once stored.
package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grahak-ai/grahak/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Sender identifies who authored a message
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// ErrThreadNotFound is returned by History for a thread with no messages
var ErrThreadNotFound = errors.New("thread not found")

// Message is one stored chat message
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Seq       int       `json:"seq"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one completed user/bot exchange ready to be appended
type Turn struct {
	UserText  string
	UserImage string
	BotText   string
	Provider  string
	Model     string
	UserID    string
}

// Session is the per-thread metadata row
type Session struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Context      string    `json:"context"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Store is the durable chat history interface
type Store interface {
	AppendTurn(ctx context.Context, threadID string, turn Turn) (Message, Message, error)
	History(ctx context.Context, threadID string) ([]Message, error)
	GetSession(ctx context.Context, threadID string) (*Session, error)
}

// SQLiteStore implements Store on sqlite with WAL
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the chat database
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	// Immediate tx lock so concurrent AppendTurn calls serialize at BEGIN
	// instead of deadlocking on lock upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id             TEXT PRIMARY KEY,
			thread_id      TEXT NOT NULL UNIQUE,
			user_id        TEXT NOT NULL DEFAULT '',
			provider       TEXT NOT NULL DEFAULT '',
			model          TEXT NOT NULL DEFAULT '',
			context        TEXT NOT NULL DEFAULT '',
			last_active_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_messages (
			id         TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			sender     TEXT NOT NULL,
			text       TEXT NOT NULL,
			image      TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			UNIQUE(thread_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_thread
			ON chat_messages(thread_id, seq);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendTurn stores the user message and bot reply as one transaction, so a
// reader never sees the pair split or interleaved with another turn's pair.
func (s *SQLiteStore) AppendTurn(ctx context.Context, threadID string, turn Turn) (Message, Message, error) {
	start := time.Now()
	now := start.UTC()

	userID, err := gonanoid.New()
	if err != nil {
		return Message{}, Message{}, fmt.Errorf("failed to generate message id: %w", err)
	}
	botID, err := gonanoid.New()
	if err != nil {
		return Message{}, Message{}, fmt.Errorf("failed to generate message id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureSession(ctx, tx, threadID, turn, now); err != nil {
		return Message{}, Message{}, err
	}

	var nextSeq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM chat_messages WHERE thread_id = ?`,
		threadID,
	).Scan(&nextSeq); err != nil {
		return Message{}, Message{}, fmt.Errorf("failed to compute next sequence: %w", err)
	}

	userMsg := Message{
		ID:        userID,
		ThreadID:  threadID,
		Seq:       nextSeq,
		Sender:    SenderUser,
		Text:      turn.UserText,
		Image:     turn.UserImage,
		CreatedAt: now,
	}
	botMsg := Message{
		ID:        botID,
		ThreadID:  threadID,
		Seq:       nextSeq + 1,
		Sender:    SenderBot,
		Text:      turn.BotText,
		CreatedAt: now,
	}

	for _, msg := range []Message{userMsg, botMsg} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, thread_id, seq, sender, text, image, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ThreadID, msg.Seq, msg.Sender, msg.Text, msg.Image, msg.CreatedAt.UnixMilli(),
		); err != nil {
			return Message{}, Message{}, fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Message{}, Message{}, fmt.Errorf("failed to commit turn: %w", err)
	}

	observability.RecordHistoryAppend(time.Since(start))
	s.logger.Debug().
		Str("thread_id", threadID).
		Int("seq", nextSeq).
		Msg("Turn appended to chat history")

	return userMsg, botMsg, nil
}

// History returns every message of a thread in sequence order, untrimmed
func (s *SQLiteStore) History(ctx context.Context, threadID string) ([]Message, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, seq, sender, text, image, created_at
		FROM chat_messages
		WHERE thread_id = ?
		ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg       Message
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Seq, &msg.Sender, &msg.Text, &msg.Image, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	observability.RecordHistoryLoad(time.Since(start))
	return messages, nil
}

// GetSession returns the session metadata for a thread
func (s *SQLiteStore) GetSession(ctx context.Context, threadID string) (*Session, error) {
	var (
		session    Session
		lastActive int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_id, provider, model, context, last_active_at
		FROM chat_sessions WHERE thread_id = ?`,
		threadID,
	).Scan(&session.ID, &session.ThreadID, &session.UserID, &session.Provider, &session.Model, &session.Context, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session.LastActiveAt = time.UnixMilli(lastActive).UTC()
	return &session, nil
}

func (s *SQLiteStore) ensureSession(ctx context.Context, tx *sql.Tx, threadID string, turn Turn, now time.Time) error {
	sessionID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate session id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, thread_id, user_id, provider, model, context, last_active_at)
		VALUES (?, ?, ?, ?, ?, '', ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			last_active_at = excluded.last_active_at`,
		sessionID, threadID, turn.UserID, turn.Provider, turn.Model, now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}
