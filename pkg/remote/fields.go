package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Field access, write application, and query evaluation shared by every
// Store implementation so all backends agree on semantics.

func splitFieldPath(path string) []string { return strings.Split(path, ".") }

func getField(fields map[string]any, path string) (any, bool) {
	segs := splitFieldPath(path)
	cur := any(fields)
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setField(fields map[string]any, path string, value any) {
	segs := splitFieldPath(path)
	m := fields
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = value
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if m, ok := v.(map[string]any); ok {
			out[k] = copyFields(m)
			continue
		}
		out[k] = v
	}
	return out
}

// docState is the staged post-write state of one document while a batch is
// being applied.
type docState struct {
	fields map[string]any
	exists bool
	// lastIncrement carries the result of the most recent ModeIncrement so
	// AtomicIncrement can report the new value.
	lastIncrement int64
}

// applyWriteOp applies one op to the staged state, returning semantic errors
// without mutating anything on failure paths.
func applyWriteOp(st *docState, op WriteOp) error {
	switch op.Mode {
	case ModeSet:
		st.fields = copyFields(op.Fields)
		st.exists = true
	case ModeCreate:
		if st.exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, op.Path)
		}
		st.fields = copyFields(op.Fields)
		st.exists = true
	case ModeMerge:
		if !st.exists {
			st.fields = make(map[string]any)
			st.exists = true
		}
		for k, v := range op.Fields {
			setField(st.fields, k, v)
		}
	case ModeUpdate:
		if !st.exists {
			return fmt.Errorf("%w: %s", ErrNotFound, op.Path)
		}
		for k, v := range op.Fields {
			setField(st.fields, k, v)
		}
	case ModeDelete:
		st.fields = nil
		st.exists = false
	case ModeIncrement:
		if !st.exists {
			st.fields = make(map[string]any)
			st.exists = true
		}
		cur := int64(0)
		if v, ok := getField(st.fields, op.Field); ok {
			cur = coerceInt64(v)
		}
		cur += op.Delta
		setField(st.fields, op.Field, cur)
		st.lastIncrement = cur
	default:
		return fmt.Errorf("remote: unknown write mode %q", op.Mode)
	}
	return nil
}

func coerceInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// matchValue compares filter operands with numeric normalization, so an
// int written in-process equals the float64 that comes back from JSON.
func matchValue(a, b any) bool {
	if af, ok := coerceFloat(a); ok {
		bf, bok := coerceFloat(b)
		return bok && af == bf
	}
	return a == b
}

func matchFilter(doc Document, f Filter) bool {
	v, ok := getField(doc.Fields, f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return matchValue(v, f.Value)
	case OpArrayContains:
		switch list := v.(type) {
		case []any:
			for _, el := range list {
				if matchValue(el, f.Value) {
					return true
				}
			}
		case []string:
			for _, el := range list {
				if matchValue(el, f.Value) {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func compareValues(a, b any) int {
	af, aok := coerceFloat(a)
	bf, bok := coerceFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs)
}

// evalQuery filters, orders, and limits docs per q. Ordering falls back to
// the document path so results are deterministic across backends.
func evalQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		keep := true
		for _, f := range q.Filters {
			if !matchFilter(doc, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, doc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			vi, _ := getField(out[i].Fields, q.OrderBy)
			vj, _ := getField(out[j].Fields, q.OrderBy)
			if c := compareValues(vi, vj); c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].Path < out[j].Path
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Decode helpers for consumers turning Fields back into typed values. They
// tolerate the type drift JSON round-trips introduce (ints as float64s,
// times as RFC 3339 strings).

func String(fields map[string]any, key string) string {
	if v, ok := getField(fields, key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Int(fields map[string]any, key string) int {
	return int(Int64(fields, key))
}

func Int64(fields map[string]any, key string) int64 {
	if v, ok := getField(fields, key); ok {
		return coerceInt64(v)
	}
	return 0
}

func Float(fields map[string]any, key string) float64 {
	if v, ok := getField(fields, key); ok {
		if f, ok := coerceFloat(v); ok {
			return f
		}
	}
	return 0
}

func Bool(fields map[string]any, key string) bool {
	if v, ok := getField(fields, key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Time decodes an RFC 3339 timestamp field; zero time on absence or parse
// failure.
func Time(fields map[string]any, key string) time.Time {
	s := String(fields, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EncodeTime is the canonical field encoding for timestamps. Fractional
// seconds keep a fixed width so encoded values order lexicographically.
func EncodeTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func StringSlice(fields map[string]any, key string) []string {
	v, ok := getField(fields, key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, el := range list {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func IntMap(fields map[string]any, key string) map[string]int {
	v, ok := getField(fields, key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, el := range m {
		out[k] = int(coerceInt64(el))
	}
	return out
}

func Int64Map(fields map[string]any, key string) map[string]int64 {
	v, ok := getField(fields, key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, el := range m {
		out[k] = coerceInt64(el)
	}
	return out
}
