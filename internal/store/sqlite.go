package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/genloop-ai/genloop/internal/tools"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database and migrates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL DEFAULT '',
		chat_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		reasoning TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tool_invocations (
		call_id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		args TEXT,
		result TEXT,
		error TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'partial',
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_job ON messages(job_id);
	CREATE INDEX IF NOT EXISTS idx_invocations_message ON tool_invocations(message_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job.Status == "" {
		job.Status = JobPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, chat_id, status) VALUES (?, ?, ?)`,
		job.ID, job.ChatID, string(job.Status))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return JobStatus(status), nil
}

func (s *SQLiteStore) SetJobStatus(ctx context.Context, jobID string, status JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	var metadata interface{}
	if len(msg.Metadata) > 0 {
		encoded, err := encodeJSONColumn(msg.Metadata)
		if err != nil {
			return err
		}
		metadata = encoded
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, job_id, chat_id, role, content, reasoning, status, error, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.JobID, msg.ChatID, msg.Role, msg.Content, msg.Reasoning, msg.Status, msg.Error, metadata)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, chat_id, role, content, reasoning, status, error, metadata, created_at, updated_at
		 FROM messages WHERE id = ?`, messageID)

	var msg Message
	var metadata sql.NullString
	err := row.Scan(&msg.ID, &msg.JobID, &msg.ChatID, &msg.Role, &msg.Content, &msg.Reasoning,
		&msg.Status, &msg.Error, &metadata, &msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode message metadata: %w", err)
		}
	}
	return &msg, nil
}

// messageColumns lists the patchable message columns.
var messageColumns = map[string]bool{
	"content":   true,
	"reasoning": true,
	"status":    true,
	"error":     true,
	"metadata":  true,
}

func (s *SQLiteStore) PatchMessage(ctx context.Context, messageID string, fields map[string]interface{}) error {
	return s.patchRow(ctx, "messages", "id", messageID, fields, messageColumns)
}

func (s *SQLiteStore) InsertToolInvocation(ctx context.Context, inv *ToolInvocation) error {
	if inv.State == "" {
		inv.State = InvocationPartial
	}
	var args interface{}
	if len(inv.Args) > 0 {
		encoded, err := encodeJSONColumn(inv.Args)
		if err != nil {
			return err
		}
		args = encoded
	}
	result, err := encodeJSONColumn(inv.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_invocations (call_id, message_id, job_id, name, args, result, error, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.CallID, inv.MessageID, inv.JobID, inv.Name, args, result, inv.Error, inv.State)
	if err != nil {
		return fmt.Errorf("failed to insert tool invocation: %w", err)
	}
	return nil
}

var invocationColumns = map[string]bool{
	"result":       true,
	"error":        true,
	"state":        true,
	"completed_at": true,
}

func (s *SQLiteStore) PatchToolInvocation(ctx context.Context, callID string, fields map[string]interface{}) error {
	return s.patchRow(ctx, "tool_invocations", "call_id", callID, fields, invocationColumns)
}

func (s *SQLiteStore) DeleteToolInvocation(ctx context.Context, callID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_invocations WHERE call_id = ?`, callID)
	if err != nil {
		return fmt.Errorf("failed to delete tool invocation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListToolInvocations(ctx context.Context, messageID string) ([]*ToolInvocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, message_id, job_id, name, args, result, error, state, started_at
		 FROM tool_invocations WHERE message_id = ? ORDER BY started_at, call_id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool invocations: %w", err)
	}
	defer rows.Close()

	var invocations []*ToolInvocation
	for rows.Next() {
		var inv ToolInvocation
		var args, result sql.NullString
		if err := rows.Scan(&inv.CallID, &inv.MessageID, &inv.JobID, &inv.Name,
			&args, &result, &inv.Error, &inv.State, &inv.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool invocation: %w", err)
		}
		if args.Valid && args.String != "" {
			if err := json.Unmarshal([]byte(args.String), &inv.Args); err != nil {
				return nil, fmt.Errorf("failed to decode invocation args: %w", err)
			}
		}
		if result.Valid && result.String != "" {
			var decoded interface{}
			if err := json.Unmarshal([]byte(result.String), &decoded); err == nil {
				inv.Result = decoded
			} else {
				inv.Result = result.String
			}
		}
		invocations = append(invocations, &inv)
	}
	return invocations, rows.Err()
}

// SearchDocuments does a simple substring search over stored documents,
// title matches ranked above content matches.
func (s *SQLiteStore) SearchDocuments(ctx context.Context, query string, limit int) ([]tools.DocumentMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content,
		        CASE WHEN title LIKE ? THEN 1.0 ELSE 0.5 END AS score
		 FROM documents
		 WHERE title LIKE ? OR content LIKE ?
		 ORDER BY score DESC, created_at DESC
		 LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var matches []tools.DocumentMatch
	for rows.Next() {
		var m tools.DocumentMatch
		var content string
		if err := rows.Scan(&m.ID, &m.Title, &content, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		m.Snippet = snippetAround(content, query)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// AddDocument stores a document for local search.
func (s *SQLiteStore) AddDocument(ctx context.Context, id, title, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, content) VALUES (?, ?, ?)`,
		id, title, content)
	if err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// patchRow updates whitelisted columns from a field map. Keys are applied in
// sorted order so generated SQL is deterministic; non-scalar values are
// stored as JSON.
func (s *SQLiteStore) patchRow(ctx context.Context, table, idColumn, id string, fields map[string]interface{}, allowed map[string]bool) error {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		if !allowed[key] {
			return fmt.Errorf("cannot patch column %q on %s", key, table)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	assignments := make([]string, 0, len(keys)+1)
	values := make([]interface{}, 0, len(keys)+1)
	for _, key := range keys {
		value, err := normalizeColumnValue(fields[key])
		if err != nil {
			return err
		}
		assignments = append(assignments, key+" = ?")
		values = append(values, value)
	}
	assignments = append(assignments, "updated_at = CURRENT_TIMESTAMP")
	if table == "tool_invocations" {
		// tool_invocations has no updated_at column
		assignments = assignments[:len(assignments)-1]
	}
	values = append(values, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(assignments, ", "), idColumn)
	res, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeColumnValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, string, int, int64, float64, bool, time.Time:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode patch value: %w", err)
		}
		return string(data), nil
	}
}

func encodeJSONColumn(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode column: %w", err)
	}
	return string(data), nil
}

func snippetAround(content, query string) string {
	const window = 120
	lower := strings.ToLower(content)
	idx := strings.Index(lower, strings.ToLower(strings.TrimSpace(query)))
	if idx < 0 {
		if len(content) > window {
			return content[:window] + "..."
		}
		return content
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(content) {
		end = len(content)
	}
	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return snippet
}
