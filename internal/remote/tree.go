package remote

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
)

// NewChildKey returns a unique, time-ordered key for AppendChild.
func NewChildKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Normalize converts v into its generic JSON form (maps, slices, strings,
// float64, bool, nil). Empty objects normalize to nil: an empty subtree does
// not exist.
func Normalize(v any) (any, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return decode(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return decode(b)
}

func decode(b []byte) (any, error) {
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if child = prune(child); child == nil {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Flatten lists the leaves of v keyed by their full path below prefix.
func Flatten(prefix string, v any) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	flattenInto(out, prefix, v)
	return out
}

func flattenInto(out map[string]json.RawMessage, prefix string, v any) {
	if m, ok := v.(map[string]any); ok {
		for k, child := range m {
			flattenInto(out, Join(prefix, k), child)
		}
		return
	}
	if v == nil {
		return
	}
	b, _ := json.Marshal(v)
	out[prefix] = b
}

// Unflatten rebuilds the subtree at base from leaf rows keyed by full path.
func Unflatten(base string, rows map[string]json.RawMessage) (any, error) {
	if raw, ok := rows[base]; ok && len(rows) == 1 {
		return decode(raw)
	}
	root := make(map[string]any)
	for path, raw := range rows {
		rel := strings.TrimPrefix(strings.TrimPrefix(path, base), "/")
		segs := Split(rel)
		if len(segs) == 0 {
			continue
		}
		leaf, err := decode(raw)
		if err != nil {
			return nil, err
		}
		node := root
		for _, s := range segs[:len(segs)-1] {
			next, ok := node[s].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[s] = next
			}
			node = next
		}
		node[segs[len(segs)-1]] = leaf
	}
	return root, nil
}

// ChildrenMatching filters the children of subtree whose field equals value.
func ChildrenMatching(subtree any, field, value string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	m, ok := subtree.(map[string]any)
	if !ok {
		return out
	}
	for key, child := range m {
		cm, ok := child.(map[string]any)
		if !ok || !fieldEquals(cm[field], value) {
			continue
		}
		b, _ := json.Marshal(cm)
		out[key] = b
	}
	return out
}

func fieldEquals(v any, want string) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x == want
	default:
		b, _ := json.Marshal(x)
		return string(b) == want
	}
}

func cloneTree(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := maps.Clone(m)
	for k, child := range out {
		out[k] = cloneTree(child)
	}
	return out
}
