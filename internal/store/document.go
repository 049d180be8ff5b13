// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"cmp"
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Item is a stored document. Nested objects are map[string]any. Numbers decoded from
// JSON backends are float64; the typed getters accept every numeric representation.
type Item map[string]any

// Lookup returns the value at a dotted path.
func (it Item) Lookup(path string) (any, bool) {
	var cur any = map[string]any(it)
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
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

// String returns the string at path, or "" when missing or not a string.
func (it Item) String(path string) string {
	v, ok := it.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int64 returns the number at path. Numeric strings are accepted. The boolean is false
// when the value is missing or not a number.
func (it Item) Int64(path string) (int64, bool) {
	v, ok := it.Lookup(path)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Map returns the nested object at path.
func (it Item) Map(path string) (map[string]any, bool) {
	v, ok := it.Lookup(path)
	if !ok {
		return nil, false
	}
	return asMap(v)
}

// Project returns a new item containing only the given dotted paths. Paths that do
// not exist in the item are omitted. With no paths the whole item is copied.
func (it Item) Project(paths ...string) Item {
	if len(paths) == 0 {
		return it.Clone()
	}
	out := Item{}
	for _, p := range paths {
		if v, ok := it.Lookup(p); ok {
			setPath(out, strings.Split(p, "."), cloneValue(v))
		}
	}
	return out
}

// Clone deep-copies the item.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	return Item(cloneValue(map[string]any(it)).(map[string]any))
}

// ValidatePath reports whether path is a usable dotted field path.
func ValidatePath(path string) error {
	if path == "" {
		return oops.Code(CodeInvalidPath).Errorf("empty field path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return oops.Code(CodeInvalidPath).With("path", path).Errorf("empty segment in field path")
		}
	}
	return nil
}

// applyFields merges fields into doc, which must not be nil. Increment values are added
// to the existing number.
func applyFields(doc Item, fields map[string]any) error {
	for _, path := range WriteOrder(fields) {
		value := fields[path]
		if err := ValidatePath(path); err != nil {
			return err
		}
		segs := strings.Split(path, ".")
		if inc, ok := value.(Increment); ok {
			var base int64
			if cur, found := doc.Lookup(path); found {
				base, _ = toInt64(cur)
			}
			value = base + int64(inc)
		} else {
			value = cloneValue(value)
		}
		setPath(doc, segs, value)
	}
	return nil
}

// WriteOrder lists the paths of fields parents first, so a nested path in the same
// batch always lands inside the map written for its parent.
func WriteOrder(fields map[string]any) []string {
	paths := slices.Collect(maps.Keys(fields))
	slices.SortFunc(paths, func(a, b string) int {
		if c := cmp.Compare(strings.Count(a, "."), strings.Count(b, ".")); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return paths
}

func setPath(doc map[string]any, segs []string, value any) {
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(cur[seg])
		if !ok {
			next = map[string]any{}
		}
		cur[seg] = next
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Item:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Item:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// sameValue compares scalars, treating all numeric representations as equal when they
// hold the same integer.
func sameValue(a, b any) bool {
	if _, isStr := a.(string); !isStr {
		if ai, ok := toInt64(a); ok {
			if _, bStr := b.(string); !bStr {
				if bi, ok := toInt64(b); ok {
					return ai == bi
				}
			}
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// encodeItem and decodeItem are shared by the JSON-document backends.
func encodeItem(doc Item) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, oops.Code(CodeFailed).With("operation", "encode item").Wrap(err)
	}
	return raw, nil
}

func decodeItem(raw []byte) (Item, error) {
	doc := Item{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oops.Code(CodeFailed).With("operation", "decode item").Wrap(err)
	}
	return doc, nil
}
