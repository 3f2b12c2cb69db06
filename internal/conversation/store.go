// Package conversation persists per-conversation message history in
// SQLite. It uses modernc.org/sqlite for pure-Go, CGO-free database
// access. History is bounded two ways: each conversation keeps only
// its most recent messages, and a periodic cleanup removes messages
// older than the retention window.
package conversation

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/solverhub/solver-node/internal/logging"
)

//go:embed schema.sql
var schema string

// timeLayout is a fixed-width RFC 3339 form. The zero-padded fraction
// keeps the TEXT timestamps lexicographically monotonic, which string
// MAX() and range comparisons in SQL rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Message is one turn of a conversation.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary describes a stored conversation.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	MessageCount   int       `json:"message_count"`
	LastActivity   time.Time `json:"last_activity"`
}

// Stats reports store-wide counts.
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
}

// Store provides access to the conversation database.
type Store struct {
	db          *sql.DB
	maxMessages int
	maxAge      time.Duration
	logger      *slog.Logger
}

// Options configures a Store.
type Options struct {
	Dir         string
	MaxMessages int
	MaxAgeDays  int
}

// Open creates the database file under dir and initializes the schema.
func Open(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 10
	}
	maxAgeDays := opts.MaxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = 7
	}

	dbPath := filepath.Join(opts.Dir, "conversations.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:          db,
		maxMessages: maxMessages,
		maxAge:      time.Duration(maxAgeDays) * 24 * time.Hour,
		logger:      logging.WithComponent("conversation"),
	}

	if err := s.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// AddMessage appends a message and trims the conversation to the
// configured maximum, dropping its oldest messages.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Timestamps are stored as fixed-width RFC 3339 text so they
	// compare and sort correctly regardless of driver type mapping.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, time.Now().UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages
		 WHERE conversation_id = ?
		   AND id NOT IN (
		       SELECT id FROM messages
		       WHERE conversation_id = ?
		       ORDER BY id DESC
		       LIMIT ?
		   )`,
		conversationID, conversationID, s.maxMessages,
	); err != nil {
		return fmt.Errorf("trim conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit most recent messages of a
// conversation in chronological order. limit <= 0 means the
// configured maximum.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = s.maxMessages
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM (
		     SELECT id, role, content, created_at FROM messages
		     WHERE conversation_id = ?
		     ORDER BY id DESC
		     LIMIT ?
		 ) ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListConversations returns a summary per stored conversation, most
// recently active first.
func (s *Store) ListConversations(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, COUNT(*), MAX(created_at)
		 FROM messages
		 GROUP BY conversation_id
		 ORDER BY MAX(created_at) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var lastActivity string
		if err := rows.Scan(&s.ConversationID, &s.MessageCount, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		s.LastActivity, _ = time.Parse(timeLayout, lastActivity)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// DeleteConversation removes all messages of one conversation.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	return res.RowsAffected()
}

// Cleanup removes messages older than the retention window and
// returns how many were deleted.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.maxAge)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < ?`, cutoff.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("cleanup messages: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("expired old conversation messages", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// Stats returns store-wide counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT conversation_id), COUNT(*) FROM messages`,
	).Scan(&st.Conversations, &st.Messages)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// Health checks if the database connection is alive and responsive.
func (s *Store) Health(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// DB returns the underlying *sql.DB for advanced operations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close flushes the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint failed", "error", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
