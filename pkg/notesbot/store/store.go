// Package store provides the SQLite state database for notesbot: poll
// offsets that let channels resume after a restart, and the dispatch audit
// log. Conversation state is deliberately not stored here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "./data/notesbot.db"

// DefaultMaxLogRows bounds the dispatch log.
const DefaultMaxLogRows = 10000

// schema is executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Last acknowledged update offset per channel.
CREATE TABLE IF NOT EXISTS channel_offsets (
    channel     TEXT PRIMARY KEY,
    last_offset INTEGER NOT NULL,
    updated_at  TEXT NOT NULL
);

-- One row per processed update.
CREATE TABLE IF NOT EXISTS dispatch_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    dispatch_id  TEXT NOT NULL,
    channel      TEXT NOT NULL,
    chat_id      TEXT NOT NULL,
    msg_id       TEXT DEFAULT '',
    state_before TEXT NOT NULL,
    state_after  TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    error        TEXT DEFAULT '',
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatch_log_chat ON dispatch_log(channel, chat_id);
`

// Config holds database configuration.
type Config struct {
	// Path is the SQLite file (default: ./data/notesbot.db).
	Path string `yaml:"path"`

	// MaxLogRows is how many dispatch rows are kept (default: 10000).
	MaxLogRows int `yaml:"max_log_rows"`
}

// DB is the state database.
type DB struct {
	db         *sql.DB
	maxLogRows int
}

// Open opens (or creates) the database at cfg.Path with WAL mode and
// creates the schema.
func Open(cfg Config) (*DB, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	if cfg.MaxLogRows <= 0 {
		cfg.MaxLogRows = DefaultMaxLogRows
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db: db, maxLogRows: cfg.MaxLogRows}, nil
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
