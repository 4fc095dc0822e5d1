package docstore

import (
	"fmt"
	"sort"
	"strings"
)

// CheckQuery rejects queries no backend would run, including "in" lists over
// the limit. Callers are expected to chunk.
func CheckQuery(q Query, inLimit int) error {
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if strings.TrimSpace(f.Field) == "" {
			return fmt.Errorf("%w: filter field is required", ErrInvalidQuery)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpArrayContains:
		case OpIn, OpArrayContainsAny:
			values, ok := Normalize(f.Value).([]any)
			if !ok || len(values) == 0 {
				return fmt.Errorf("%w: %s on %s needs a non-empty list", ErrInvalidQuery, f.Op, f.Field)
			}
			if inLimit > 0 && len(values) > inLimit {
				return fmt.Errorf("%w: %d values on %s, limit %d", ErrInLimit, len(values), f.Field, inLimit)
			}
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// Matches evaluates every filter against doc.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(doc, f) {
			return false
		}
	}
	return true
}

func matchOne(doc Document, f Filter) bool {
	val, ok := Lookup(doc, f.Field)
	if !ok {
		return false
	}
	want := Normalize(f.Value)
	switch f.Op {
	case OpEqual:
		return Compare(val, want) == 0
	case OpNotEqual:
		return Compare(val, want) != 0
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		if !sameKind(val, want) {
			return false
		}
		c := Compare(val, want)
		switch f.Op {
		case OpLess:
			return c < 0
		case OpLessEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case OpArrayContains:
		list, ok := Normalize(val).([]any)
		return ok && containsValue(list, want)
	case OpIn:
		values, _ := want.([]any)
		return containsValue(values, val)
	case OpArrayContainsAny:
		list, ok := Normalize(val).([]any)
		if !ok {
			return false
		}
		values, _ := want.([]any)
		for _, v := range values {
			if containsValue(list, v) {
				return true
			}
		}
	}
	return false
}

func sameKind(a, b any) bool {
	if _, ok := AsTime(a); ok {
		if _, ok := AsTime(b); ok {
			return true
		}
	}
	return typeRank(Normalize(a)) == typeRank(Normalize(b))
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if Compare(item, v) == 0 {
			return true
		}
	}
	return false
}

// Less orders two snapshots the way a query with orderBy/dir does.
func Less(a, b Snapshot, orderBy string, dir Direction) bool {
	c := compareKeys(a, b, orderBy)
	if dir == Desc {
		return c > 0
	}
	return c < 0
}

func compareKeys(a, b Snapshot, orderBy string) int {
	if orderBy != "" {
		av, _ := Lookup(a.Data, orderBy)
		bv, _ := Lookup(b.Data, orderBy)
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func SortSnapshots(snaps []Snapshot, orderBy string, dir Direction) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return Less(snaps[i], snaps[j], orderBy, dir)
	})
}

// After keeps the snapshots that sort strictly after cursor. snaps must
// already be sorted by orderBy/dir.
func After(snaps []Snapshot, cursor Snapshot, orderBy string, dir Direction) []Snapshot {
	for i, s := range snaps {
		if Less(cursor, s, orderBy, dir) {
			return snaps[i:]
		}
	}
	return nil
}

// Window applies filters, ordering, cursor and limit to an unordered set.
// cursor is nil when q.StartAfter is empty.
func Window(all []Snapshot, q Query, cursor *Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		if Matches(s.Data, q.Filters) {
			out = append(out, s)
		}
	}
	if q.OrderBy != "" {
		kept := out[:0]
		for _, s := range out {
			if _, ok := Lookup(s.Data, q.OrderBy); ok {
				kept = append(kept, s)
			}
		}
		out = kept
	}
	SortSnapshots(out, q.OrderBy, q.Direction)
	if cursor != nil {
		out = After(out, *cursor, q.OrderBy, q.Direction)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// ApplyUpdates returns a copy of doc with updates applied in order.
func ApplyUpdates(doc Document, updates []Update) (Document, error) {
	out := Clone(doc)
	if out == nil {
		out = Document{}
	}
	for _, u := range updates {
		parts := strings.Split(u.Path, ".")
		if u.Path == "" || containsEmpty(parts) {
			return nil, fmt.Errorf("%w: bad update path %q", ErrInvalidQuery, u.Path)
		}
		parent := map[string]any(out)
		for _, part := range parts[:len(parts)-1] {
			next, ok := asMap(parent[part])
			if !ok {
				next = map[string]any{}
				parent[part] = next
			}
			parent = next
		}
		leaf := parts[len(parts)-1]
		if transform, ok := u.Value.(ArrayTransform); ok {
			current, _ := Normalize(parent[leaf]).([]any)
			parent[leaf] = applyArrayTransform(current, transform)
			continue
		}
		parent[leaf] = Normalize(u.Value)
	}
	return out, nil
}

func applyArrayTransform(current []any, t ArrayTransform) []any {
	out := make([]any, 0, len(current)+len(t.Values))
	if t.Union {
		out = append(out, current...)
		for _, v := range t.Values {
			if !containsValue(out, v) {
				out = append(out, v)
			}
		}
		return out
	}
	for _, item := range current {
		if !containsValue(t.Values, item) {
			out = append(out, item)
		}
	}
	return out
}

func containsEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}
