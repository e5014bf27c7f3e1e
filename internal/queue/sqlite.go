// ABOUTME: SQLite implementation of the queue Store using modernc.org/sqlite.
// ABOUTME: Claims are single conditional UPDATE ... RETURNING statements, atomic per message.

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a queue database at the given path.
// Parent directories are created if needed. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "queue")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection; collapse the pool so
	// every query sees the same one. Also required for claim atomicity
	// guarantees under the race tests.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// WAL for concurrent readers, busy_timeout so concurrent claimers
	// queue on the single writer instead of failing.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("queue store initialized", "path", path)
	return s, nil
}

// createSchema creates the messages table if it doesn't exist.
// seq provides a monotonic per-database ordering independent of timestamp
// precision; per-target claim order follows it.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			event_type      TEXT NOT NULL,
			payload         TEXT,
			status          TEXT NOT NULL DEFAULT 'pending',
			target          TEXT NOT NULL,
			claimed_by      TEXT,
			claimed_at      TEXT,
			sent_at         TEXT,
			acknowledged_at TEXT,
			created_at      TEXT NOT NULL,

			CHECK (status IN ('pending', 'sent', 'acknowledged')),
			CHECK (event_type IN ('mention_notification', 'cleanup_directive', 'session_directive'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_target_status
			ON messages(target, status, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing queue store")
	return s.db.Close()
}

// Enqueue creates a pending message addressed to target.
func (s *SQLiteStore) Enqueue(ctx context.Context, eventType EventType, payload json.RawMessage, target string) (*Message, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}

	msg := &Message{
		ID:        uuid.New().String(),
		EventType: eventType,
		Payload:   payload,
		Status:    StatusPending,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO messages (id, event_type, payload, status, target, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		string(msg.EventType),
		nullString(string(msg.Payload)),
		string(msg.Status),
		msg.Target,
		msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("enqueued message",
		"id", msg.ID,
		"event_type", string(msg.EventType),
		"target", target,
	)
	return msg, nil
}

// ClaimForDelivery claims up to limit pending messages for recipient,
// oldest first. Each claim is one conditional UPDATE ... RETURNING
// statement, so the read-modify-write is never split: under concurrent
// calls for the same recipient every pending message goes to exactly one
// caller. Losing a race simply yields fewer (possibly zero) messages.
func (s *SQLiteStore) ClaimForDelivery(ctx context.Context, recipient string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		UPDATE messages
		SET status = 'sent', claimed_by = ?, claimed_at = ?, sent_at = ?
		WHERE id = (
			SELECT id FROM messages
			WHERE target = ? AND status = 'pending'
			ORDER BY seq LIMIT 1
		) AND status = 'pending'
		RETURNING id, event_type, payload, target, created_at
	`

	var claimed []*Message
	for i := 0; i < limit; i++ {
		now := time.Now().UTC()
		nowStr := now.Format(time.RFC3339Nano)

		var (
			msg        Message
			payload    sql.NullString
			createdStr string
		)
		err := s.db.QueryRowContext(ctx, query, recipient, nowStr, nowStr, recipient).Scan(
			&msg.ID,
			(*string)(&msg.EventType),
			&payload,
			&msg.Target,
			&createdStr,
		)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return claimed, fmt.Errorf("claiming message: %w", err)
		}

		msg.Status = StatusSent
		msg.ClaimedBy = recipient
		msg.ClaimedAt = &now
		msg.SentAt = &now
		if payload.Valid {
			msg.Payload = json.RawMessage(payload.String)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
		if err != nil {
			return claimed, fmt.Errorf("parsing created_at: %w", err)
		}

		claimed = append(claimed, &msg)
	}

	if len(claimed) > 0 {
		s.logger.Debug("claimed messages",
			"recipient", recipient,
			"count", len(claimed),
		)
	}
	return claimed, nil
}

// Acknowledge transitions a sent message to acknowledged, but only for the
// recipient that claimed it. Missing, foreign-claimed, and already
// acknowledged messages all produce the same ErrNotFoundOrNotClaimed with
// no state change.
func (s *SQLiteStore) Acknowledge(ctx context.Context, id, claimant string) error {
	query := `
		UPDATE messages
		SET status = 'acknowledged', acknowledged_at = ?
		WHERE id = ? AND status = 'sent' AND claimed_by = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		claimant,
	)
	if err != nil {
		return fmt.Errorf("acknowledging message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFoundOrNotClaimed
	}

	s.logger.Debug("acknowledged message", "id", id, "claimant", claimant)
	return nil
}

// GetMessage retrieves a message by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, event_type, payload, status, target,
		       claimed_by, claimed_at, sent_at, acknowledged_at, created_at
		FROM messages
		WHERE id = ?
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListByTarget returns messages for a target in creation order, regardless
// of status. If limit is 0 or negative, a default of 100 is used.
func (s *SQLiteStore) ListByTarget(ctx context.Context, target string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, event_type, payload, status, target,
		       claimed_by, claimed_at, sent_at, acknowledged_at, created_at
		FROM messages
		WHERE target = ?
		ORDER BY seq
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, target, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return msgs, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage reads a full message row in the column order used by
// GetMessage and ListByTarget.
func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg                        Message
		payload, claimedBy         sql.NullString
		claimedAt, sentAt, ackedAt sql.NullString
		createdStr                 string
	)

	err := row.Scan(
		&msg.ID,
		(*string)(&msg.EventType),
		&payload,
		(*string)(&msg.Status),
		&msg.Target,
		&claimedBy,
		&claimedAt,
		&sentAt,
		&ackedAt,
		&createdStr,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		msg.Payload = json.RawMessage(payload.String)
	}
	msg.ClaimedBy = claimedBy.String

	if msg.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return nil, fmt.Errorf("parsing claimed_at: %w", err)
	}
	if msg.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, fmt.Errorf("parsing sent_at: %w", err)
	}
	if msg.AcknowledgedAt, err = parseNullTime(ackedAt); err != nil {
		return nil, fmt.Errorf("parsing acknowledged_at: %w", err)
	}
	if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// parseNullTime parses an optional RFC3339Nano column.
func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullString converts an empty string to a NULL-able value.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
