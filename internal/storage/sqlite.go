package storage

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cairnstore/cairn/internal/value"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// SQLite is the durable relational backend. Each logical operation commits
// in its own transaction, so a crash leaves the store at an operation
// boundary.
type SQLite struct {
	db *sql.DB

	mu           sync.Mutex
	disconnected bool
}

var _ Store = (*SQLite)(nil)

// Open creates or opens a graph database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - a single connection, since the async proxy is the only writer
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// per-operation transactions strictly ordered behind the proxy.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// No incremental migrations yet; stamp fresh databases.
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// SchemaVersion reports the store's PRAGMA user_version.
func (s *SQLite) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Disconnect implements Backend. Once set, all mutating calls become
// no-ops; used during shutdown to avoid racing a closing connection.
func (s *SQLite) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
}

func (s *SQLite) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// withTx runs fn inside one transaction, committing on success.
func (s *SQLite) withTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// SetRoot implements Backend.
func (s *SQLite) SetRoot(n *NodeSnapshot) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("set root", func(tx *sql.Tx) error {
		if err := writeNodeIfAbsent(tx, n); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO root (id, uuid) VALUES (0, ?)
			ON CONFLICT(id) DO UPDATE SET uuid = excluded.uuid
		`, n.UUID.String())
		return err
	})
}

// WriteNode implements Backend.
func (s *SQLite) WriteNode(n *NodeSnapshot) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("write node", func(tx *sql.Tx) error {
		return writeNodeIfAbsent(tx, n)
	})
}

// SetType implements Backend.
func (s *SQLite) SetType(uid uuid.UUID, tag string) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("set type", func(tx *sql.Tx) error {
		if err := ensureNode(tx, uid); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE nodes SET type = ? WHERE uuid = ?`, tag, uid.String())
		return err
	})
}

// SetProperty implements Backend.
func (s *SQLite) SetProperty(uid uuid.UUID, key string, v value.Value) error {
	if s.isDisconnected() {
		return nil
	}
	blob, err := value.Encode(v)
	if err != nil {
		return fmt.Errorf("set property %q: %w", key, err)
	}
	return s.withTx("set property", func(tx *sql.Tx) error {
		if err := ensureNode(tx, uid); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO properties (uuid, key, value) VALUES (?, ?, ?)
			ON CONFLICT(uuid, key) DO UPDATE SET value = excluded.value
		`, uid.String(), key, blob)
		return err
	})
}

// SetItem implements Backend.
func (s *SQLite) SetItem(parent uuid.UUID, key string, child *NodeSnapshot) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("set item", func(tx *sql.Tx) error {
		if err := ensureNode(tx, parent); err != nil {
			return err
		}
		if err := writeNodeIfAbsent(tx, child); err != nil {
			return err
		}

		// Replacing an occupied slot releases the previous child.
		var prev string
		err := tx.QueryRow(`
			SELECT item_uuid FROM items WHERE parent_uuid = ? AND key = ?
		`, parent.String(), key).Scan(&prev)
		switch {
		case err == nil:
			if prev == child.UUID.String() {
				return nil
			}
			if _, err := tx.Exec(`DELETE FROM items WHERE parent_uuid = ? AND key = ?`, parent.String(), key); err != nil {
				return err
			}
			prevUID, err := uuid.Parse(prev)
			if err != nil {
				return fmt.Errorf("bad item uuid %q: %w", prev, err)
			}
			if err := decrefCascade(tx, prevUID); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			// Slot empty.
		default:
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO items (parent_uuid, key, item_uuid) VALUES (?, ?, ?)
		`, parent.String(), key, child.UUID.String()); err != nil {
			return err
		}
		return incref(tx, child.UUID)
	})
}

// ClearItem implements Backend.
func (s *SQLite) ClearItem(parent uuid.UUID, key string) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("clear item", func(tx *sql.Tx) error {
		var child string
		err := tx.QueryRow(`
			SELECT item_uuid FROM items WHERE parent_uuid = ? AND key = ?
		`, parent.String(), key).Scan(&child)
		if errors.Is(err, sql.ErrNoRows) {
			return nil // Idempotent
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM items WHERE parent_uuid = ? AND key = ?`, parent.String(), key); err != nil {
			return err
		}
		childUID, err := uuid.Parse(child)
		if err != nil {
			return fmt.Errorf("bad item uuid %q: %w", child, err)
		}
		return decrefCascade(tx, childUID)
	})
}

// InsertItem implements Backend.
//
// Relationship rows are uniquely keyed by (parent, key, index), so trailing
// rows are first moved to a disjoint negative range, the new row is written
// at its index, then the displaced rows flip back shifted up by one. No
// transient primary-key collision is possible at any step.
func (s *SQLite) InsertItem(parent uuid.UUID, key string, child *NodeSnapshot, index int) error {
	if s.isDisconnected() {
		return nil
	}
	err := s.withTx("insert item", func(tx *sql.Tx) error {
		if err := ensureNode(tx, parent); err != nil {
			return err
		}
		if err := writeNodeIfAbsent(tx, child); err != nil {
			return err
		}

		// Phase 1: index >= i moves to -(index+2), disjoint from all
		// non-negative indices and from each other.
		if _, err := tx.Exec(`
			UPDATE relationships SET item_index = -(item_index + 2)
			WHERE parent_uuid = ? AND key = ? AND item_index >= ?
		`, parent.String(), key, index); err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO relationships (parent_uuid, key, item_index, item_uuid)
			VALUES (?, ?, ?, ?)
		`, parent.String(), key, index, child.UUID.String()); err != nil {
			return err
		}

		// Phase 2: flip back, shifted up by one: -(j+2) -> j+1.
		if _, err := tx.Exec(`
			UPDATE relationships SET item_index = -item_index - 1
			WHERE parent_uuid = ? AND key = ? AND item_index < 0
		`, parent.String(), key); err != nil {
			return err
		}

		return incref(tx, child.UUID)
	})
	if err != nil {
		return err
	}
	s.assertIndexIntegrity(parent, key)
	return nil
}

// RemoveItem implements Backend. The inverse shift of InsertItem.
func (s *SQLite) RemoveItem(parent uuid.UUID, key string, index int) error {
	if s.isDisconnected() {
		return nil
	}
	err := s.withTx("remove item", func(tx *sql.Tx) error {
		var child string
		err := tx.QueryRow(`
			SELECT item_uuid FROM relationships
			WHERE parent_uuid = ? AND key = ? AND item_index = ?
		`, parent.String(), key, index).Scan(&child)
		if err != nil {
			return fmt.Errorf("no member at index %d: %w", index, err)
		}

		if _, err := tx.Exec(`
			DELETE FROM relationships
			WHERE parent_uuid = ? AND key = ? AND item_index = ?
		`, parent.String(), key, index); err != nil {
			return err
		}

		// Two-phase downshift: j > i moves to -j (all distinct negatives),
		// then flips back to j-1.
		if _, err := tx.Exec(`
			UPDATE relationships SET item_index = -item_index
			WHERE parent_uuid = ? AND key = ? AND item_index > ?
		`, parent.String(), key, index); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE relationships SET item_index = -item_index - 1
			WHERE parent_uuid = ? AND key = ? AND item_index < 0
		`, parent.String(), key); err != nil {
			return err
		}

		childUID, err := uuid.Parse(child)
		if err != nil {
			return fmt.Errorf("bad item uuid %q: %w", child, err)
		}
		return decrefCascade(tx, childUID)
	})
	if err != nil {
		return err
	}
	s.assertIndexIntegrity(parent, key)
	return nil
}

// SetData implements Backend.
func (s *SQLite) SetData(uid uuid.UUID, key string, data []byte) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("set data", func(tx *sql.Tx) error {
		if err := ensureNode(tx, uid); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO data (uuid, key, data) VALUES (?, ?, ?)
			ON CONFLICT(uuid, key) DO UPDATE SET data = excluded.data
		`, uid.String(), key, data)
		return err
	})
}

// ClearData implements Backend.
func (s *SQLite) ClearData(uid uuid.UUID, key string) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("clear data", func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM data WHERE uuid = ? AND key = ?`, uid.String(), key)
		return err
	})
}

// assertIndexIntegrity re-derives {count, max, min} for the (parent, key)
// group and panics unless the stored indices are exactly {0, ..., count-1}.
// An integrity failure here means the renumbering invariant broke, which is
// unrecoverable corruption in flight.
func (s *SQLite) assertIndexIntegrity(parent uuid.UUID, key string) {
	var count int
	var minIndex, maxIndex sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*), MIN(item_index), MAX(item_index) FROM relationships
		WHERE parent_uuid = ? AND key = ?
	`, parent.String(), key).Scan(&count, &minIndex, &maxIndex)
	if err != nil {
		panic(fmt.Sprintf("storage: integrity check query failed for %s[%q]: %v", parent, key, err))
	}
	if count == 0 {
		return
	}
	if int(maxIndex.Int64) != count-1 || minIndex.Int64 != 0 {
		panic(fmt.Sprintf("storage: relationship %s[%q] indices corrupt: count=%d min=%d max=%d",
			parent, key, count, minIndex.Int64, maxIndex.Int64))
	}
}

// ensureNode creates a node row with refcount 0 if absent.
func ensureNode(tx *sql.Tx, uid uuid.UUID) error {
	_, err := tx.Exec(`
		INSERT INTO nodes (uuid, type, refcount) VALUES (?, NULL, 0)
		ON CONFLICT(uuid) DO NOTHING
	`, uid.String())
	return err
}

// writeNodeIfAbsent cascades a full serialization of the subtree rooted at
// s. An existing node is left untouched - it is already durable.
func writeNodeIfAbsent(tx *sql.Tx, s *NodeSnapshot) error {
	var exists int
	err := tx.QueryRow(`SELECT COUNT(*) FROM nodes WHERE uuid = ?`, s.UUID.String()).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	var tag any
	if s.Type != "" {
		tag = s.Type
	}
	if _, err := tx.Exec(`
		INSERT INTO nodes (uuid, type, refcount) VALUES (?, ?, 0)
	`, s.UUID.String(), tag); err != nil {
		return err
	}

	for k, v := range s.Properties {
		blob, err := value.Encode(v)
		if err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO properties (uuid, key, value) VALUES (?, ?, ?)
		`, s.UUID.String(), k, blob); err != nil {
			return err
		}
	}

	for k, d := range s.Data {
		if _, err := tx.Exec(`
			INSERT INTO data (uuid, key, data) VALUES (?, ?, ?)
		`, s.UUID.String(), k, d); err != nil {
			return err
		}
	}

	for k, child := range s.Items {
		if err := writeNodeIfAbsent(tx, child); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO items (parent_uuid, key, item_uuid) VALUES (?, ?, ?)
		`, s.UUID.String(), k, child.UUID.String()); err != nil {
			return err
		}
		if err := incref(tx, child.UUID); err != nil {
			return err
		}
	}

	for k, members := range s.Relationships {
		for i, child := range members {
			if err := writeNodeIfAbsent(tx, child); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT INTO relationships (parent_uuid, key, item_index, item_uuid)
				VALUES (?, ?, ?, ?)
			`, s.UUID.String(), k, i, child.UUID.String()); err != nil {
				return err
			}
			if err := incref(tx, child.UUID); err != nil {
				return err
			}
		}
	}

	return nil
}

func incref(tx *sql.Tx, uid uuid.UUID) error {
	_, err := tx.Exec(`UPDATE nodes SET refcount = refcount + 1 WHERE uuid = ?`, uid.String())
	return err
}

// decrefCascade decrements a node's store refcount, cascading deletion at
// zero: the node's own property/data rows go first, then every single-item
// child and relationship member is recursively decremented, then the node
// row itself. A diamond node is decremented once per path and deleted only
// when its shared refcount reaches zero - no visited set is needed.
func decrefCascade(tx *sql.Tx, uid uuid.UUID) error {
	var refcount int
	if err := tx.QueryRow(`SELECT refcount FROM nodes WHERE uuid = ?`, uid.String()).Scan(&refcount); err != nil {
		return fmt.Errorf("decref %s: %w", uid, err)
	}
	if refcount <= 0 {
		panic(fmt.Sprintf("storage: refcount underflow on node %s", uid))
	}

	refcount--
	if _, err := tx.Exec(`UPDATE nodes SET refcount = ? WHERE uuid = ?`, refcount, uid.String()); err != nil {
		return err
	}
	if refcount > 0 {
		return nil
	}

	if _, err := tx.Exec(`DELETE FROM properties WHERE uuid = ?`, uid.String()); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM data WHERE uuid = ?`, uid.String()); err != nil {
		return err
	}

	children, err := collectChildren(tx, uid)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM items WHERE parent_uuid = ?`, uid.String()); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM relationships WHERE parent_uuid = ?`, uid.String()); err != nil {
		return err
	}
	for _, child := range children {
		if err := decrefCascade(tx, child); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`DELETE FROM nodes WHERE uuid = ?`, uid.String())
	return err
}

// collectChildren gathers every single-item child and relationship member
// of a node, one entry per referencing row.
func collectChildren(tx *sql.Tx, uid uuid.UUID) ([]uuid.UUID, error) {
	var children []uuid.UUID

	rows, err := tx.Query(`SELECT item_uuid FROM items WHERE parent_uuid = ?`, uid.String())
	if err != nil {
		return nil, err
	}
	children, err = appendUUIDRows(children, rows)
	if err != nil {
		return nil, err
	}

	rows, err = tx.Query(`
		SELECT item_uuid FROM relationships WHERE parent_uuid = ? ORDER BY key, item_index
	`, uid.String())
	if err != nil {
		return nil, err
	}
	return appendUUIDRows(children, rows)
}

func appendUUIDRows(dst []uuid.UUID, rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		uid, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("bad uuid %q: %w", s, err)
		}
		dst = append(dst, uid)
	}
	return dst, rows.Err()
}
