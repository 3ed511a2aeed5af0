package harness

import (
	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/storage"
)

// evaluateExpect checks every expectation against the final store state,
// recording failures on the result. It never aborts early: a failing
// scenario should report everything that is wrong, not just the first
// finding.
func evaluateExpect(e *Expect, r storage.Reader, result *Result) {
	if e.Nodes != nil {
		uids, err := r.UUIDs()
		if err != nil {
			result.AddError("list nodes: %v", err)
		} else if len(uids) != *e.Nodes {
			result.AddError("expected %d node(s), store has %d", *e.Nodes, len(uids))
		}
	}

	if e.Root != "" {
		root, ok, err := r.Root()
		switch {
		case err != nil:
			result.AddError("read root: %v", err)
		case e.Root == "none":
			if ok {
				result.AddError("expected no root, store has %s", root)
			}
		case !ok:
			result.AddError("expected root %s, store has none", e.Root)
		case root.String() != e.Root:
			result.AddError("expected root %s, store has %s", e.Root, root)
		}
	}

	for uidStr, want := range e.RefCounts {
		uid, err := uuid.Parse(uidStr)
		if err != nil {
			result.AddError("refcounts: bad uuid %q: %v", uidStr, err)
			continue
		}
		got, err := r.RefCount(uid)
		if err != nil {
			result.AddError("refcount %s: %v", uid, err)
			continue
		}
		if got != want {
			result.AddError("node %s: expected refcount %d, got %d", uid, want, got)
		}
	}

	for _, rel := range e.Relationships {
		parent, err := uuid.Parse(rel.Parent)
		if err != nil {
			result.AddError("relationships: bad uuid %q: %v", rel.Parent, err)
			continue
		}
		members, err := r.Relationship(parent, rel.Key)
		if err != nil {
			result.AddError("relationship %s[%q]: %v", parent, rel.Key, err)
			continue
		}
		if !sameMembers(members, rel.Members) {
			result.AddError("relationship %s[%q]: expected members %v, got %v",
				parent, rel.Key, rel.Members, members)
		}
	}

	if len(e.Absent) > 0 {
		uids, err := r.UUIDs()
		if err != nil {
			result.AddError("list nodes: %v", err)
		} else {
			exists := make(map[string]bool, len(uids))
			for _, uid := range uids {
				exists[uid.String()] = true
			}
			for _, uidStr := range e.Absent {
				if exists[uidStr] {
					result.AddError("node %s should have been deleted", uidStr)
				}
			}
		}
	}

	if e.Clean {
		problems, err := storage.Verify(r)
		if err != nil {
			result.AddError("verify: %v", err)
		}
		for _, p := range problems {
			result.AddError("verify: %s", p)
		}
	}
}

func sameMembers(got []uuid.UUID, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i, uid := range got {
		if uid.String() != want[i] {
			return false
		}
	}
	return true
}
