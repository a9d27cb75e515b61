package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Query describes a selector-based lookup. The zero value selects everything
// that is not soft-deleted.
type Query struct {
	Selector map[string]any `json:"selector,omitempty"`
	Sort     []string       `json:"sort,omitempty"` // field name, "-" prefix for descending
	Fields   []string       `json:"fields,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Skip     int            `json:"skip,omitempty"`
}

// Normalize returns a copy with the default soft-delete exclusion applied:
// unless the caller's selector mentions deletedAt, documents carrying the
// marker are filtered out.
func (q Query) Normalize() Query {
	sel := make(map[string]any, len(q.Selector)+1)
	for k, v := range q.Selector {
		sel[k] = v
	}
	if _, ok := sel[FieldDeletedAt]; !ok {
		sel[FieldDeletedAt] = map[string]any{"$exists": false}
	}
	out := q
	out.Selector = sel
	return out
}

// CacheKey returns the canonical serialization of the query, so structurally
// identical queries collapse to one cache entry regardless of call site.
// encoding/json emits map keys in sorted order, which makes the key stable.
func (q Query) CacheKey() string {
	b, err := json.Marshal(q)
	if err != nil {
		// Selectors are built from JSON-compatible values; this is unreachable
		// for well-formed queries.
		return fmt.Sprintf("!unserializable:%v", q)
	}
	return string(b)
}

// IDOnly reports whether the query is a pure lookup of one document by id:
// a string id equality and nothing else that would change the result shape.
func (q Query) IDOnly() (string, bool) {
	if len(q.Sort) > 0 || len(q.Fields) > 0 || q.Skip > 0 || q.Limit > 1 {
		return "", false
	}
	if len(q.Selector) != 1 {
		return "", false
	}
	id, ok := q.Selector[FieldID].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Match reports whether the document satisfies the selector. Supported
// operators: implicit equality, $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin,
// $exists.
func Match(d Document, selector map[string]any) bool {
	for field, cond := range selector {
		val, present := d[field]
		ops, isOps := cond.(map[string]any)
		if !isOps {
			if !present || !equal(val, cond) {
				return false
			}
			continue
		}
		for op, arg := range ops {
			if !matchOp(val, present, op, arg) {
				return false
			}
		}
	}
	return true
}

func matchOp(val any, present bool, op string, arg any) bool {
	switch op {
	case "$exists":
		want, _ := arg.(bool)
		has := present && val != nil
		return has == want
	case "$eq":
		return present && equal(val, arg)
	case "$ne":
		return !present || !equal(val, arg)
	case "$in":
		return present && contains(arg, val)
	case "$nin":
		return !present || !contains(arg, val)
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false
		}
		c, ok := compare(val, arg)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			return c > 0
		case "$gte":
			return c >= 0
		case "$lt":
			return c < 0
		default:
			return c <= 0
		}
	default:
		return false
	}
}

func contains(list any, val any) bool {
	items, ok := list.([]any)
	if !ok {
		if ss, ok := list.([]string); ok {
			for _, s := range ss {
				if equal(val, s) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range items {
		if equal(val, item) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}

// compare orders two loosely typed values. Numbers compare across int/float
// representations; times compare against both time.Time and RFC3339 strings.
func compare(a, b any) (int, bool) {
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			return at.Compare(bt), true
		}
		return 0, false
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Apply runs the non-selector parts of the query over an already-matched
// result set: sort, skip, limit and field projection.
func (q Query) Apply(docs []Document) []Document {
	out := docs
	if len(q.Sort) > 0 {
		out = append([]Document(nil), docs...)
		sort.SliceStable(out, func(i, j int) bool {
			for _, field := range q.Sort {
				desc := strings.HasPrefix(field, "-")
				name := strings.TrimPrefix(field, "-")
				c, ok := compare(out[i][name], out[j][name])
				if !ok || c == 0 {
					continue
				}
				if desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Skip > 0 {
		if q.Skip >= len(out) {
			return nil
		}
		out = out[q.Skip:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	if len(q.Fields) > 0 {
		projected := make([]Document, len(out))
		for i, d := range out {
			p := make(Document, len(q.Fields))
			for _, f := range q.Fields {
				if v, ok := d[f]; ok {
					p[f] = v
				}
			}
			projected[i] = p
		}
		out = projected
	}
	return out
}
