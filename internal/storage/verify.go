package storage

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Problem describes one integrity finding from Verify.
type Problem struct {
	// Code identifies the problem category.
	Code ProblemCode `json:"code"`

	// UUID is the affected node (or relationship parent).
	UUID uuid.UUID `json:"uuid"`

	// Detail is a human-readable description.
	Detail string `json:"detail"`
}

// ProblemCode categorizes integrity findings.
type ProblemCode string

const (
	// ProblemIndexHole indicates relationship indices that are not exactly
	// {0, ..., len-1}.
	ProblemIndexHole ProblemCode = "INDEX_HOLE"

	// ProblemRefCountDrift indicates a stored refcount that does not match
	// the number of referencing rows.
	ProblemRefCountDrift ProblemCode = "REFCOUNT_DRIFT"

	// ProblemDanglingRef indicates an item or relationship row whose child
	// node does not exist.
	ProblemDanglingRef ProblemCode = "DANGLING_REF"

	// ProblemUntypedNode indicates a node with no type tag; the factory
	// will skip it at load time.
	ProblemUntypedNode ProblemCode = "UNTYPED_NODE"

	// ProblemDuplicateMember indicates the same child UUID appearing twice
	// within one relationship; the factory collapses it at load time.
	ProblemDuplicateMember ProblemCode = "DUPLICATE_MEMBER"
)

func (p Problem) String() string {
	return fmt.Sprintf("%s %s: %s", p.Code, p.UUID, p.Detail)
}

// Verify scans a store for integrity problems: relationship index density,
// refcount consistency against actual referencing rows, dangling
// references, duplicate relationship members, and type-less nodes.
//
// It reports rather than heals; the factory's load pass self-heals the
// recoverable categories.
func Verify(r Reader) ([]Problem, error) {
	uids, err := r.UUIDs()
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	exists := make(map[uuid.UUID]bool, len(uids))
	for _, uid := range uids {
		exists[uid] = true
	}

	var problems []Problem
	inbound := make(map[uuid.UUID]int, len(uids))

	root, hasRoot, err := r.Root()
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	for _, uid := range uids {
		tag, err := r.TypeTag(uid)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", uid, err)
		}
		if tag == "" {
			problems = append(problems, Problem{
				Code:   ProblemUntypedNode,
				UUID:   uid,
				Detail: "node has no type tag",
			})
		}

		items, err := r.Items(uid)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", uid, err)
		}
		itemKeys := make([]string, 0, len(items))
		for k := range items {
			itemKeys = append(itemKeys, k)
		}
		sort.Strings(itemKeys)
		for _, k := range itemKeys {
			child := items[k]
			inbound[child]++
			if !exists[child] {
				problems = append(problems, Problem{
					Code:   ProblemDanglingRef,
					UUID:   uid,
					Detail: fmt.Sprintf("item %q references missing node %s", k, child),
				})
			}
		}

		relKeys, err := r.RelationshipKeys(uid)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", uid, err)
		}
		for _, k := range relKeys {
			members, err := r.Relationship(uid, k)
			if err != nil {
				return nil, fmt.Errorf("verify %s[%q]: %w", uid, k, err)
			}
			seen := make(map[uuid.UUID]bool, len(members))
			for _, child := range members {
				inbound[child]++
				if !exists[child] {
					problems = append(problems, Problem{
						Code:   ProblemDanglingRef,
						UUID:   uid,
						Detail: fmt.Sprintf("relationship %q references missing node %s", k, child),
					})
				}
				if seen[child] {
					problems = append(problems, Problem{
						Code:   ProblemDuplicateMember,
						UUID:   uid,
						Detail: fmt.Sprintf("relationship %q contains %s more than once", k, child),
					})
				}
				seen[child] = true
			}
		}
	}

	for _, uid := range uids {
		refcount, err := r.RefCount(uid)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", uid, err)
		}
		want := inbound[uid]
		if refcount != want {
			detail := fmt.Sprintf("stored refcount %d, %d referencing rows", refcount, want)
			if hasRoot && uid == root {
				detail += " (root)"
			}
			problems = append(problems, Problem{
				Code:   ProblemRefCountDrift,
				UUID:   uid,
				Detail: detail,
			})
		}
	}

	return problems, nil
}

// CheckIndexes scans every relationship group's raw stored indices and
// reports groups whose indices are not exactly {0, ..., count-1}. The
// flattened Reader view cannot expose raw index values, so this check is
// backend-specific.
func (s *SQLite) CheckIndexes() ([]Problem, error) {
	rows, err := s.db.Query(`
		SELECT parent_uuid, key, COUNT(*), MIN(item_index), MAX(item_index)
		FROM relationships
		GROUP BY parent_uuid, key
	`)
	if err != nil {
		return nil, fmt.Errorf("check indexes: %w", err)
	}
	defer rows.Close()

	var problems []Problem
	for rows.Next() {
		var parent, key string
		var count, minIndex, maxIndex int
		if err := rows.Scan(&parent, &key, &count, &minIndex, &maxIndex); err != nil {
			return nil, fmt.Errorf("check indexes: %w", err)
		}
		if maxIndex != count-1 || minIndex != 0 {
			uid, err := uuid.Parse(parent)
			if err != nil {
				return nil, fmt.Errorf("check indexes: bad uuid %q: %w", parent, err)
			}
			problems = append(problems, Problem{
				Code: ProblemIndexHole,
				UUID: uid,
				Detail: fmt.Sprintf("relationship %q indices corrupt: count=%d min=%d max=%d",
					key, count, minIndex, maxIndex),
			})
		}
	}
	return problems, rows.Err()
}
