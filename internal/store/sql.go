package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feedsync/internal/model"
)

// SQLStore implements Store on database/sql for SQLite and MySQL
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	clock   clock
}

// NewSQLite wraps a modernc.org/sqlite handle and migrates the schema
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sqliteDialect)
}

// NewMySQL wraps a go-sql-driver/mysql handle and migrates the schema
func NewMySQL(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, mysqlDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, clock: clock{now: time.Now}}

	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to migrate %s schema: %w", d.name, err)
		}
	}

	// 再起動後もタイムスタンプが逆行しないように最大値から再開
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM messages").Scan(&s.clock.last); err != nil {
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}
	return s, nil
}

// Append inserts msg. The clock lock spans the insert so timestamps follow id order.
func (s *SQLStore) Append(ctx context.Context, msg *model.Message) error {
	if msg.Type == "" {
		msg.Type = model.TypeText
	}
	name, size, mime, key := fileColumns(msg)

	s.clock.mu.Lock()
	defer s.clock.mu.Unlock()

	ts := s.clock.next()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (type, content, device_id, created_at, original_name, file_size, mime_type, storage_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(msg.Type), msg.Content, msg.DeviceID, ts, name, size, mime, key)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to retrieve message id: %w", err)
	}

	msg.ID = id
	msg.Timestamp = time.UnixMilli(ts)
	return nil
}

func (s *SQLStore) RangeByOffset(ctx context.Context, limit, offset int) ([]model.Message, error) {
	msgs, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE deleted_at IS NULL ORDER BY id DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	return ascending(msgs), nil
}

func (s *SQLStore) RangeBefore(ctx context.Context, beforeID int64, limit int) ([]model.Message, error) {
	msgs, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE deleted_at IS NULL AND id < ? ORDER BY id DESC LIMIT ?",
		beforeID, limit)
	if err != nil {
		return nil, err
	}
	return ascending(msgs), nil
}

func (s *SQLStore) CountNewerThan(ctx context.Context, afterID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE deleted_at IS NULL AND id > ?", afterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *SQLStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE deleted_at IS NULL AND created_at > ?", since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ? AND deleted_at IS NULL", id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL", time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) (model.ClearStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback()

	var stats model.ClearStats
	if err := tx.QueryRowContext(ctx, s.dialect.clearStats).Scan(
		&stats.DeletedMessages, &stats.DeletedFiles, &stats.DeletedFileSize); err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to collect clear stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET deleted_at = ? WHERE deleted_at IS NULL", time.Now().UnixMilli()); err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to clear messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to commit clear: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) Search(ctx context.Context, q SearchQuery) ([]model.Message, error) {
	q = normalizeSearch(q)
	where, args := searchWhere(q)
	args = append(args, q.Limit, q.Offset)
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+where+" ORDER BY id ASC LIMIT ? OFFSET ?",
		args...)
}

func (s *SQLStore) Suggestions(ctx context.Context, q string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM messages
		WHERE deleted_at IS NULL AND type = 'text' AND content LIKE ? ESCAPE '!'
		GROUP BY content ORDER BY MAX(created_at) DESC LIMIT ?`,
		likePattern(q), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertDevice(ctx context.Context, d model.Device) error {
	if d.LastSeen.IsZero() {
		d.LastSeen = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertDevice, d.ID, d.Name, d.LastSeen.UnixMilli()); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) queryMessages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}
