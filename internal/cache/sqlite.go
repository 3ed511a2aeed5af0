package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cairnstore/cairn/internal/value"
	"github.com/cairnstore/cairn/internal/worker"
)

const cacheSchemaSQL = `
CREATE TABLE IF NOT EXISTS cache (
    uuid  TEXT NOT NULL,
    key   TEXT NOT NULL,
    value BLOB,
    dirty INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (uuid, key)
);
`

// SQLite is the durable cache backend. Mutations are deferred to a
// dedicated worker goroutine; reads join the queue first so they observe
// all prior writes. A failed write degrades to a future miss.
type SQLite struct {
	db     *sql.DB
	w      *worker.Worker
	logger *slog.Logger
}

var _ Cache = (*SQLite)(nil)

// OpenSQLite creates or opens a cache database at the given path.
// Idempotent, with the same pragma discipline as the graph store.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(cacheSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}

	return &SQLite{
		db:     db,
		w:      worker.New("cache", logger),
		logger: logger,
	}, nil
}

// enqueue defers one cache write, logging the drop when the worker has
// already been closed.
func (c *SQLite) enqueue(op string, uid uuid.UUID, key string, fn worker.Action) {
	if !c.w.Defer(fn) {
		c.logger.Warn("cache write dropped after close", "op", op, "uuid", uid.String(), "key", key)
	}
}

// Set implements Cache.
func (c *SQLite) Set(uid uuid.UUID, key string, v value.Value, dirty bool) {
	blob, err := value.Encode(v)
	if err != nil {
		c.logger.Error("cache set: encode failed", "uuid", uid.String(), "key", key, "error", err)
		return
	}
	c.enqueue("set", uid, key, func() error {
		_, err := c.db.Exec(`
			INSERT INTO cache (uuid, key, value, dirty) VALUES (?, ?, ?, ?)
			ON CONFLICT(uuid, key) DO UPDATE SET value = excluded.value, dirty = excluded.dirty
		`, uid.String(), key, blob, boolToInt(dirty))
		return err
	})
}

// Get implements Cache.
func (c *SQLite) Get(uid uuid.UUID, key string, def value.Value) value.Value {
	c.w.Join()

	var blob []byte
	err := c.db.QueryRow(`
		SELECT value FROM cache WHERE uuid = ? AND key = ?
	`, uid.String(), key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return def
	}
	if err != nil {
		c.logger.Error("cache get failed", "uuid", uid.String(), "key", key, "error", err)
		return def
	}

	v, err := value.Decode(blob)
	if err != nil {
		// A corrupt entry is just a miss; the caller recomputes.
		c.logger.Error("cache entry corrupt", "uuid", uid.String(), "key", key, "error", err)
		return def
	}
	return v
}

// Remove implements Cache.
func (c *SQLite) Remove(uid uuid.UUID, key string) {
	c.enqueue("remove", uid, key, func() error {
		_, err := c.db.Exec(`DELETE FROM cache WHERE uuid = ? AND key = ?`, uid.String(), key)
		return err
	})
}

// IsDirty implements Cache.
func (c *SQLite) IsDirty(uid uuid.UUID, key string) bool {
	c.w.Join()

	var dirty int
	err := c.db.QueryRow(`
		SELECT dirty FROM cache WHERE uuid = ? AND key = ?
	`, uid.String(), key).Scan(&dirty)
	if err != nil {
		return true // Absent (or unreadable) is conservatively dirty
	}
	return dirty != 0
}

// SetDirty implements Cache.
func (c *SQLite) SetDirty(uid uuid.UUID, key string, dirty bool) {
	c.enqueue("set-dirty", uid, key, func() error {
		_, err := c.db.Exec(`
			UPDATE cache SET dirty = ? WHERE uuid = ? AND key = ?
		`, boolToInt(dirty), uid.String(), key)
		return err
	})
}

// Close drains the worker and closes the database.
// Double close is a fatal programmer error.
func (c *SQLite) Close() error {
	c.w.Close()
	return c.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
