package store

import (
	"strconv"
	"strings"
)

// dialect holds the statements that differ between SQL engines
type dialect struct {
	name         string
	schema       []string
	upsertDevice string
	clearStats   string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			deleted_at INTEGER NULL,
			original_name TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			storage_key TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			last_seen INTEGER NOT NULL
		)`,
	},
	upsertDevice: `INSERT INTO devices (id, name, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, last_seen = excluded.last_seen`,
	clearStats: `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN type = 'file' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(file_size), 0)
		FROM messages WHERE deleted_at IS NULL`,
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			type VARCHAR(32) NOT NULL DEFAULT 'text',
			content MEDIUMTEXT NOT NULL,
			device_id VARCHAR(128) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			deleted_at BIGINT NULL,
			original_name VARCHAR(255) NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			mime_type VARCHAR(128) NOT NULL DEFAULT '',
			storage_key VARCHAR(255) NOT NULL DEFAULT '',
			INDEX idx_messages_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS devices (
			id VARCHAR(128) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			last_seen BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertDevice: `INSERT INTO devices (id, name, last_seen) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), last_seen = VALUES(last_seen)`,
	clearStats: `SELECT COUNT(*),
		CAST(COALESCE(SUM(CASE WHEN type = 'file' THEN 1 ELSE 0 END), 0) AS SIGNED),
		CAST(COALESCE(SUM(file_size), 0) AS SIGNED)
		FROM messages WHERE deleted_at IS NULL`,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL DEFAULT 'text',
			content TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			deleted_at BIGINT NULL,
			original_name TEXT NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			storage_key TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			last_seen BIGINT NOT NULL
		)`,
	},
	upsertDevice: `INSERT INTO devices (id, name, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, last_seen = excluded.last_seen`,
	clearStats: `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN type = 'file' THEN 1 ELSE 0 END), 0)::BIGINT,
		COALESCE(SUM(file_size), 0)::BIGINT
		FROM messages WHERE deleted_at IS NULL`,
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
