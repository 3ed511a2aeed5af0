package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/value"
)

// Root implements Reader.
func (s *SQLite) Root() (uuid.UUID, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT uuid FROM root WHERE id = 0`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.UUID{}, false, nil
	}
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("read root: %w", err)
	}
	uid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("read root: bad uuid %q: %w", raw, err)
	}
	return uid, true, nil
}

// UUIDs implements Reader. Ordered for deterministic export.
func (s *SQLite) UUIDs() ([]uuid.UUID, error) {
	rows, err := s.db.Query(`SELECT uuid FROM nodes ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("read uuids: %w", err)
	}
	return appendUUIDRows(nil, rows)
}

// TypeTag implements Reader. Returns "" for a type-less node.
func (s *SQLite) TypeTag(uid uuid.UUID) (string, error) {
	var tag sql.NullString
	err := s.db.QueryRow(`SELECT type FROM nodes WHERE uuid = ?`, uid.String()).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read type: %w", err)
	}
	return tag.String, nil
}

// RefCount implements Reader.
func (s *SQLite) RefCount(uid uuid.UUID) (int, error) {
	var refcount int
	err := s.db.QueryRow(`SELECT refcount FROM nodes WHERE uuid = ?`, uid.String()).Scan(&refcount)
	if err != nil {
		return 0, fmt.Errorf("read refcount: %w", err)
	}
	return refcount, nil
}

// Properties implements Reader. A blob that fails to decode is a
// data-integrity error for that node.
func (s *SQLite) Properties(uid uuid.UUID) (map[string]value.Value, error) {
	rows, err := s.db.Query(`SELECT key, value FROM properties WHERE uuid = ?`, uid.String())
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	defer rows.Close()

	out := make(map[string]value.Value)
	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, fmt.Errorf("read properties: %w", err)
		}
		v, err := value.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("read property %s[%q]: %w", uid, key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

// Items implements Reader.
func (s *SQLite) Items(uid uuid.UUID) (map[string]uuid.UUID, error) {
	rows, err := s.db.Query(`SELECT key, item_uuid FROM items WHERE parent_uuid = ?`, uid.String())
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uuid.UUID)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("read items: %w", err)
		}
		child, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("read item %s[%q]: bad uuid %q: %w", uid, key, raw, err)
		}
		out[key] = child
	}
	return out, rows.Err()
}

// RelationshipKeys implements Reader.
func (s *SQLite) RelationshipKeys(uid uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT key FROM relationships WHERE parent_uuid = ? ORDER BY key
	`, uid.String())
	if err != nil {
		return nil, fmt.Errorf("read relationship keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("read relationship keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Relationship implements Reader. Members come back in stored index order.
func (s *SQLite) Relationship(uid uuid.UUID, key string) ([]uuid.UUID, error) {
	rows, err := s.db.Query(`
		SELECT item_uuid FROM relationships
		WHERE parent_uuid = ? AND key = ?
		ORDER BY item_index ASC
	`, uid.String(), key)
	if err != nil {
		return nil, fmt.Errorf("read relationship: %w", err)
	}
	return appendUUIDRows(nil, rows)
}

// DataKeys implements Reader.
func (s *SQLite) DataKeys(uid uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM data WHERE uuid = ? ORDER BY key`, uid.String())
	if err != nil {
		return nil, fmt.Errorf("read data keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("read data keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Data implements Reader. Absent slots return nil, not an error.
func (s *SQLite) Data(uid uuid.UUID, key string) ([]byte, error) {
	var d []byte
	err := s.db.QueryRow(`SELECT data FROM data WHERE uuid = ? AND key = ?`, uid.String(), key).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	return d, nil
}

// Restore implements the bulk importer used by Import: raw row writes
// including refcounts, replacing any existing content, in one transaction.
func (s *SQLite) Restore(doc *Document) error {
	if s.isDisconnected() {
		return nil
	}
	return s.withTx("restore", func(tx *sql.Tx) error {
		for _, table := range []string{"nodes", "properties", "relationships", "items", "data", "root"} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return err
			}
		}

		for uidStr, nd := range doc.Nodes {
			uid, err := uuid.Parse(uidStr)
			if err != nil {
				return fmt.Errorf("bad uuid %q: %w", uidStr, err)
			}
			var tag any
			if nd.Type != "" {
				tag = nd.Type
			}
			if _, err := tx.Exec(`
				INSERT INTO nodes (uuid, type, refcount) VALUES (?, ?, ?)
			`, uid.String(), tag, nd.RefCount); err != nil {
				return err
			}

			for k, raw := range nd.Properties {
				v, err := value.FromGo(raw)
				if err != nil {
					return fmt.Errorf("node %s property %q: %w", uidStr, k, err)
				}
				blob, err := value.Encode(v)
				if err != nil {
					return fmt.Errorf("node %s property %q: %w", uidStr, k, err)
				}
				if _, err := tx.Exec(`
					INSERT INTO properties (uuid, key, value) VALUES (?, ?, ?)
				`, uid.String(), k, blob); err != nil {
					return err
				}
			}

			for k, child := range nd.Items {
				if _, err := tx.Exec(`
					INSERT INTO items (parent_uuid, key, item_uuid) VALUES (?, ?, ?)
				`, uid.String(), k, child); err != nil {
					return err
				}
			}

			for k, members := range nd.Relationships {
				for i, child := range members {
					if _, err := tx.Exec(`
						INSERT INTO relationships (parent_uuid, key, item_index, item_uuid)
						VALUES (?, ?, ?, ?)
					`, uid.String(), k, i, child); err != nil {
						return err
					}
				}
			}

			for k, d := range nd.Data {
				if _, err := tx.Exec(`
					INSERT INTO data (uuid, key, data) VALUES (?, ?, ?)
				`, uid.String(), k, d); err != nil {
					return err
				}
			}
		}

		if doc.Root != "" {
			if _, err := tx.Exec(`INSERT INTO root (id, uuid) VALUES (0, ?)`, doc.Root); err != nil {
				return err
			}
		}
		return nil
	})
}
