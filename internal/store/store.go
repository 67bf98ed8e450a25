package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"feedsync/internal/model"
)

var (
	// ErrNotFound is returned when a message does not exist or is deleted
	ErrNotFound = errors.New("message not found")
)

// Store is the append-only feed log
type Store interface {
	// Append assigns ID and Timestamp to msg and persists it
	Append(ctx context.Context, msg *model.Message) error
	// RangeByOffset returns up to limit messages ascending by id. offset counts back from the newest.
	RangeByOffset(ctx context.Context, limit, offset int) ([]model.Message, error)
	// RangeBefore returns up to limit messages with id < beforeID, ascending by id
	RangeBefore(ctx context.Context, beforeID int64, limit int) ([]model.Message, error)
	CountNewerThan(ctx context.Context, afterID int64) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	Get(ctx context.Context, id int64) (model.Message, error)
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) (model.ClearStats, error)
	Search(ctx context.Context, q SearchQuery) ([]model.Message, error)
	Suggestions(ctx context.Context, q string, limit int) ([]string, error)
	UpsertDevice(ctx context.Context, d model.Device) error
	Ping(ctx context.Context) error
	Close() error
}

// SearchQuery filters a substring search. Empty fields are not applied.
type SearchQuery struct {
	Text     string
	Type     model.MessageType
	DeviceID string
	Since    time.Time
	Limit    int
	Offset   int
}

// TimeRangeStart resolves the named search ranges (today, week, month)
func TimeRangeStart(name string, now time.Time) (time.Time, bool) {
	switch name {
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
	case "week":
		return now.AddDate(0, 0, -7), true
	case "month":
		return now.AddDate(0, 0, -30), true
	}
	return time.Time{}, false
}

const messageColumns = "id, type, content, device_id, created_at, original_name, file_size, mime_type, storage_key"

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (model.Message, error) {
	var (
		msg  model.Message
		ts   int64
		file model.FileInfo
	)
	if err := s.Scan(&msg.ID, &msg.Type, &msg.Content, &msg.DeviceID, &ts,
		&file.OriginalName, &file.FileSize, &file.MimeType, &file.StorageKey); err != nil {
		return model.Message{}, err
	}
	msg.Timestamp = time.UnixMilli(ts)
	if msg.Type == model.TypeFile || file != (model.FileInfo{}) {
		msg.FileInfo = &file
	}
	return msg, nil
}

func fileColumns(msg *model.Message) (string, int64, string, string) {
	if msg.FileInfo == nil {
		return "", 0, "", ""
	}
	return msg.OriginalName, msg.FileSize, msg.MimeType, msg.StorageKey
}

// ascending は DESC で取得した行を昇順に戻す
func ascending(msgs []model.Message) []model.Message {
	slices.Reverse(msgs)
	return msgs
}

// clock hands out unix-millisecond timestamps that never go backwards
type clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// next must be called with mu held
func (c *clock) next() int64 {
	ts := c.now().UnixMilli()
	if ts < c.last {
		ts = c.last
	}
	c.last = ts
	return ts
}

func likePattern(q string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return "%" + r.Replace(q) + "%"
}

// searchWhere builds the filter clause shared by every dialect with ? placeholders
func searchWhere(q SearchQuery) (string, []any) {
	pattern := likePattern(q.Text)
	clauses := []string{
		"deleted_at IS NULL",
		`(content LIKE ? ESCAPE '!' OR original_name LIKE ? ESCAPE '!')`,
	}
	args := []any{pattern, pattern}

	if q.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.DeviceID != "" {
		clauses = append(clauses, "device_id = ?")
		args = append(args, q.DeviceID)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	return strings.Join(clauses, " AND "), args
}

func normalizeSearch(q SearchQuery) SearchQuery {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
