// ABOUTME: SQLite implementation of the audit Store using modernc.org/sqlite.
// ABOUTME: Creates its schema on open; tool_calls is append-only, messages ordered by creation.

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the audit database at the given path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "audit")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	// WAL keeps readers unblocked while the background writer appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	logger.Info("audit store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tool_calls (
			id TEXT PRIMARY KEY,
			caller_id TEXT NOT NULL,
			conversation_id TEXT,
			message_id TEXT,
			tool_name TEXT NOT NULL,
			service_name TEXT NOT NULL,
			arguments TEXT NOT NULL,
			result TEXT,
			success INTEGER NOT NULL,
			error_message TEXT,
			cached INTEGER NOT NULL DEFAULT 0,
			execution_time_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_caller
			ON tool_calls(caller_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_tool
			ON tool_calls(tool_name);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveToolCall implements Store.
func (s *SQLiteStore) SaveToolCall(ctx context.Context, rec *Record) error {
	args := rec.Arguments
	if args == nil {
		args = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls
			(id, caller_id, conversation_id, message_id, tool_name, service_name,
			 arguments, result, success, error_message, cached, execution_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.CallerID, rec.ConversationID, rec.MessageID,
		rec.ToolName, rec.ServiceName, string(args), string(rec.Result),
		rec.Success, rec.ErrorMessage, rec.Cached, rec.ExecutionTimeMs,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting tool call %s: %w", rec.CallID, err)
	}
	return nil
}

// ListToolCalls implements Store. Results are newest-first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, filter Filter, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	var conds []string
	var params []any
	if filter.CallerID != "" {
		conds = append(conds, "caller_id = ?")
		params = append(params, filter.CallerID)
	}
	if filter.ToolName != "" {
		conds = append(conds, "tool_name = ?")
		params = append(params, filter.ToolName)
	}

	query := `
		SELECT id, caller_id, conversation_id, message_id, tool_name, service_name,
		       arguments, result, success, error_message, cached, execution_time_ms, created_at
		FROM tool_calls`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var args, result, convID, msgID, errMsg sql.NullString
		if err := rows.Scan(
			&rec.CallID, &rec.CallerID, &convID, &msgID,
			&rec.ToolName, &rec.ServiceName, &args, &result,
			&rec.Success, &errMsg, &rec.Cached, &rec.ExecutionTimeMs, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning tool call: %w", err)
		}
		rec.ConversationID = convID.String
		rec.MessageID = msgID.String
		rec.ErrorMessage = errMsg.String
		if args.Valid {
			rec.Arguments = []byte(args.String)
		}
		if result.Valid && result.String != "" {
			rec.Result = []byte(result.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ToolCallStats implements Store.
func (s *SQLiteStore) ToolCallStats(ctx context.Context, callerID string) (*Stats, error) {
	stats := &Stats{ToolCounts: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END), 0)
		FROM tool_calls WHERE caller_id = ?`, callerID,
	).Scan(&stats.TotalCalls, &stats.SuccessfulCalls, &stats.CacheHits)
	if err != nil {
		return nil, fmt.Errorf("querying call stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*) FROM tool_calls
		WHERE caller_id = ? GROUP BY tool_name`, callerID)
	if err != nil {
		return nil, fmt.Errorf("querying tool counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scanning tool count: %w", err)
		}
		stats.ToolCounts[name] = count
	}
	return stats, rows.Err()
}

// SaveMessage implements Store.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	return nil
}

// GetConversationMessages implements Store. Results are oldest-first so they
// can be replayed directly into a prompt.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
