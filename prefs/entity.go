package prefs

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

const (
	// InactiveKey marks an entity as administratively disabled while keeping
	// the rest of its configuration.
	InactiveKey = "__INACTIVE__"
	// LinkKey is the reserved key of an alias node. The value is the target path.
	LinkKey = "__LINK__"
)

// Entity is a mapping value stored at one path of the document.
type Entity map[string]any

// IsEffectivelyEmpty reports whether e carries no configuration: it has no
// keys at all, or its only key is the inactive marker.
func IsEffectivelyEmpty(e Entity) bool {
	switch len(e) {
	case 0:
		return true
	case 1:
		_, ok := e[InactiveKey]
		return ok
	default:
		return false
	}
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	return Entity(cloneMap(e))
}

// Inactive reports whether the entity carries the inactive marker.
func (e Entity) Inactive() bool {
	_, ok := e[InactiveKey]
	return ok
}

// Keys returns the entity keys in sorted order.
func (e Entity) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the string stored under key, or "" if absent or not a string.
func (e Entity) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Bool returns the boolean stored under key.
func (e Entity) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// Int returns the integer stored under key.
func (e Entity) Int(key string) (int64, bool) {
	switch v := e[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// Bytes returns the byte blob stored under key.
func (e Entity) Bytes(key string) []byte {
	b, _ := e[key].([]byte)
	return b
}

// Entity returns the nested mapping stored under key, or nil.
func (e Entity) Entity(key string) Entity {
	switch v := e[key].(type) {
	case map[string]any:
		return Entity(v)
	case Entity:
		return v
	}
	return nil
}

// Strings returns the string elements of the sequence stored under key.
// Non-string elements are skipped.
func (e Entity) Strings(key string) []string {
	var out []string
	switch v := e[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Equal reports structural equality, including the inactive marker.
func (e Entity) Equal(other Entity) bool {
	a, err := normalizeMap(e)
	if err != nil {
		return false
	}
	b, err := normalizeMap(other)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// normalize converts a caller supplied value into the closed set of types
// kept in the tree: map[string]any, []any, string, bool, int64, float64,
// []byte and time.Time.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil value: %w", ErrInvalidArgument)
	case Entity:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case []Entity:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := normalizeMap(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []byte:
		return append([]byte{}, val...), nil
	case string, bool, int64, float64, time.Time:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case float32:
		return float64(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T: %w", v, ErrInvalidArgument)
	}
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case Entity:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		return append([]byte{}, val...)
	default:
		return val
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func linkTarget(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	target, ok := m[LinkKey].(string)
	return target, ok
}

// NewEntity validates m and converts it into the value types kept in the
// document tree.
func NewEntity(m map[string]any) (Entity, error) {
	normalized, err := normalizeMap(m)
	if err != nil {
		return nil, err
	}
	return Entity(normalized), nil
}
