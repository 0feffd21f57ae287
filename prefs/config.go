package prefs

import (
	"errors"
	"fmt"
	"reflect"
)

// Configuration returns a copy of the entity at path. It returns nil when the
// path does not resolve to a mapping or the mapping is effectively empty.
func (s *Store) Configuration(path string) Entity {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mapping(path)
	if IsEffectivelyEmpty(m) {
		return nil
	}
	return Entity(cloneMap(m))
}

// SetConfiguration replaces the entity at path and only touches the tree if
// the effective value changes. A nil entity removes the path. With
// keepInactive the inactive marker of the current entity is carried over to
// the new one, and dropped if the current entity is enabled; a disabled
// entity set to nil keeps only the marker.
func (s *Store) SetConfiguration(path string, entity Entity, keepInactive bool) error {
	if s == nil {
		return pathErr("set", path, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.mapping(path)
	var next map[string]any
	if entity != nil {
		normalized, err := normalizeMap(entity)
		if err != nil {
			return pathErr("set", path, err)
		}
		next = normalized
	}
	if keepInactive {
		if _, inactive := cur[InactiveKey]; inactive {
			if next == nil {
				next = map[string]any{}
			}
			next[InactiveKey] = true
		} else if next != nil {
			delete(next, InactiveKey)
		}
	}
	return s.replace(path, cur, next)
}

// RemoveConfiguration deletes the entity at path. Removing an absent path
// succeeds.
func (s *Store) RemoveConfiguration(path string) error {
	return s.SetConfiguration(path, nil, false)
}

// Enabled reports whether the entity at path lacks the inactive marker. An
// absent entity counts as enabled.
func (s *Store) Enabled(path string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, inactive := s.mapping(path)[InactiveKey]
	return !inactive
}

// SetEnabled sets or clears the inactive marker without touching other keys.
// Disabling an absent path reserves it with an entity that holds only the
// marker; enabling an absent path writes nothing.
func (s *Store) SetEnabled(path string, enabled bool) error {
	if s == nil {
		return pathErr("enable", path, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.get(path)
	if err != nil && !errors.Is(err, ErrNoSuchKey) {
		return err
	}
	var cur, next map[string]any
	if raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return pathErr("enable", path, fmt.Errorf("not a mapping: %w", ErrInvalidArgument))
		}
		cur = m
		next = cloneMap(m)
		if enabled {
			delete(next, InactiveKey)
		} else {
			next[InactiveKey] = true
		}
	} else if !enabled {
		next = map[string]any{InactiveKey: true}
	}
	return s.replace(path, cur, next)
}

func (s *Store) mapping(path string) map[string]any {
	raw, err := s.get(path)
	if err != nil {
		return nil
	}
	m, _ := raw.(map[string]any)
	return m
}

func (s *Store) replace(path string, cur, next map[string]any) error {
	if (cur == nil) == (next == nil) && reflect.DeepEqual(cur, next) {
		return nil
	}
	if next != nil {
		return s.set(path, next, true)
	}
	if err := s.remove(path); err != nil && !errors.Is(err, ErrNoSuchKey) {
		return err
	}
	return nil
}
