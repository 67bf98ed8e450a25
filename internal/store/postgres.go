package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedsync/internal/model"
)

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clock
}

// NewPostgres migrates the schema and returns a store backed by pool
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, clock: clock{now: time.Now}}

	for _, stmt := range postgresDialect.schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
	}
	if err := pool.QueryRow(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM messages").Scan(&s.clock.last); err != nil {
		return nil, fmt.Errorf("failed to read last timestamp: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Append(ctx context.Context, msg *model.Message) error {
	if msg.Type == "" {
		msg.Type = model.TypeText
	}
	name, size, mime, key := fileColumns(msg)

	s.clock.mu.Lock()
	defer s.clock.mu.Unlock()

	ts := s.clock.next()
	err := s.pool.QueryRow(ctx, rebind(
		`INSERT INTO messages (type, content, device_id, created_at, original_name, file_size, mime_type, storage_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		string(msg.Type), msg.Content, msg.DeviceID, ts, name, size, mime, key).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	msg.Timestamp = time.UnixMilli(ts)
	return nil
}

func (s *PostgresStore) RangeByOffset(ctx context.Context, limit, offset int) ([]model.Message, error) {
	msgs, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE deleted_at IS NULL ORDER BY id DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	return ascending(msgs), nil
}

func (s *PostgresStore) RangeBefore(ctx context.Context, beforeID int64, limit int) ([]model.Message, error) {
	msgs, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE deleted_at IS NULL AND id < ? ORDER BY id DESC LIMIT ?",
		beforeID, limit)
	if err != nil {
		return nil, err
	}
	return ascending(msgs), nil
}

func (s *PostgresStore) CountNewerThan(ctx context.Context, afterID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE deleted_at IS NULL AND id > $1", afterID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE deleted_at IS NULL AND created_at > $1", since.UnixMilli()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (model.Message, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 AND deleted_at IS NULL", id)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE messages SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL", time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) (model.ClearStats, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to begin clear: %w", err)
	}
	defer tx.Rollback(ctx)

	var stats model.ClearStats
	if err := tx.QueryRow(ctx, postgresDialect.clearStats).Scan(
		&stats.DeletedMessages, &stats.DeletedFiles, &stats.DeletedFileSize); err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to collect clear stats: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE messages SET deleted_at = $1 WHERE deleted_at IS NULL", time.Now().UnixMilli()); err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to clear messages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.ClearStats{}, fmt.Errorf("failed to commit clear: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]model.Message, error) {
	q = normalizeSearch(q)
	where, args := searchWhere(q)
	args = append(args, q.Limit, q.Offset)
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+where+" ORDER BY id ASC LIMIT ? OFFSET ?",
		args...)
}

func (s *PostgresStore) Suggestions(ctx context.Context, q string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, rebind(
		`SELECT content FROM messages
		WHERE deleted_at IS NULL AND type = 'text' AND content LIKE ? ESCAPE '!'
		GROUP BY content ORDER BY MAX(created_at) DESC LIMIT ?`),
		likePattern(q), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan suggestions: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (s *PostgresStore) UpsertDevice(ctx context.Context, d model.Device) error {
	if d.LastSeen.IsZero() {
		d.LastSeen = time.Now()
	}
	if _, err := s.pool.Exec(ctx, rebind(postgresDialect.upsertDevice), d.ID, d.Name, d.LastSeen.UnixMilli()); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, rebind(query), args...)
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
