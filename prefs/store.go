package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/timzifer/netprefs/telemetry"
)

const maxLinkDepth = 8

// Store is a path addressed view of one configuration document. A Store is
// meant to be driven by a single writer; concurrent handles on the same file
// are arbitrated by the signature check in Commit.
type Store struct {
	mu        sync.Mutex
	file      string
	name      string
	codec     Codec
	logger    zerolog.Logger
	telemetry telemetry.Collector

	committed map[string]any
	tree      map[string]any
	signature Signature
	changed   bool
}

// Open loads the document stored at path. A missing file opens as an empty
// document and is created on the first Commit.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open: empty path: %w", ErrInvalidArgument)
	}
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	s.file = path
	if s.name == "" {
		s.name = filepath.Base(path)
	}
	s.logger = s.logger.With().Str("document", s.name).Logger()
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory creates a store without a backing file. Commit only snapshots
// the tree.
func NewMemory(doc map[string]any, opts ...Option) (*Store, error) {
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	if s.name == "" {
		s.name = "memory"
	}
	s.logger = s.logger.With().Str("document", s.name).Logger()
	tree, err := normalizeMap(doc)
	if err != nil {
		return nil, fmt.Errorf("new memory store: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	s.committed = tree
	s.tree = cloneMap(tree)
	return s, nil
}

func newStore(opts []Option) (*Store, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Store{
		name:      cfg.name,
		codec:     cfg.codec,
		logger:    cfg.logger,
		telemetry: cfg.telemetry,
	}, nil
}

func (s *Store) load() error {
	sig, err := ReadSignature(s.file)
	if err != nil {
		return err
	}
	tree := map[string]any{}
	if sig.Exists {
		data, err := os.ReadFile(s.file)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", s.file, err)
		}
		if len(data) > 0 {
			tree, err = s.codec.Decode(data)
			if err != nil {
				return fmt.Errorf("load %s: %w", s.file, err)
			}
		}
	}
	s.committed = tree
	s.tree = cloneMap(tree)
	s.signature = sig
	s.changed = false
	s.logger.Debug().Stringer("signature", sig).Msg("document loaded")
	return nil
}

// Name returns the document label.
func (s *Store) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Location returns the backing file path, or "" for a memory store.
func (s *Store) Location() string {
	if s == nil {
		return ""
	}
	return s.file
}

// Signature returns the signature captured when the document was loaded or
// last committed.
func (s *Store) Signature() Signature {
	if s == nil {
		return Signature{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signature
}

// Changed reports whether the tree has uncommitted modifications.
func (s *Store) Changed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Document returns a deep copy of the working tree.
func (s *Store) Document() map[string]any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.tree)
}

// Commit writes pending changes to the backing document. It fails with
// ErrStaleDocument when the file changed since it was loaded; the working
// tree is left untouched so the caller can Reload and re-apply.
func (s *Store) Commit() error {
	if s == nil {
		return fmt.Errorf("commit: %w", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.changed {
		return nil
	}
	if s.file == "" {
		s.committed = cloneMap(s.tree)
		s.changed = false
		s.telemetry.IncCommit(s.name, telemetry.OutcomeCommitted)
		return nil
	}
	current, err := ReadSignature(s.file)
	if err != nil {
		s.telemetry.IncCommit(s.name, telemetry.OutcomeFailed)
		return err
	}
	if current != s.signature {
		s.telemetry.IncCommit(s.name, telemetry.OutcomeStale)
		s.logger.Warn().Stringer("loaded", s.signature).Stringer("current", current).Msg("document changed on disk")
		return pathErr("commit", s.file, ErrStaleDocument)
	}
	data, err := s.codec.Encode(s.tree)
	if err != nil {
		s.telemetry.IncCommit(s.name, telemetry.OutcomeFailed)
		return fmt.Errorf("commit %s: %w", s.file, err)
	}
	if err := writeFileAtomic(s.file, data); err != nil {
		s.telemetry.IncCommit(s.name, telemetry.OutcomeFailed)
		return fmt.Errorf("commit %s: %w", s.file, err)
	}
	sig, err := ReadSignature(s.file)
	if err != nil {
		s.telemetry.IncCommit(s.name, telemetry.OutcomeFailed)
		return err
	}
	s.signature = sig
	s.committed = cloneMap(s.tree)
	s.changed = false
	s.telemetry.IncCommit(s.name, telemetry.OutcomeCommitted)
	s.logger.Debug().Stringer("signature", sig).Msg("document committed")
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// Reload discards the working tree and reads the backing document again,
// capturing a fresh signature.
func (s *Store) Reload() error {
	if s == nil {
		return fmt.Errorf("reload: %w", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == "" {
		s.tree = cloneMap(s.committed)
		s.changed = false
		return nil
	}
	return s.load()
}

// Revert drops uncommitted changes.
func (s *Store) Revert() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = cloneMap(s.committed)
	s.changed = false
}

// Snapshot captures the working tree so that a later Restore can undo a
// group of edits.
type Snapshot struct {
	tree    map[string]any
	changed bool
}

// Snapshot returns a copy of the working tree and its change flag.
func (s *Store) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{tree: cloneMap(s.tree), changed: s.changed}
}

// Restore resets the working tree to snap. The committed document and the
// signature are not touched.
func (s *Store) Restore(snap Snapshot) error {
	if s == nil || snap.tree == nil {
		return fmt.Errorf("restore: %w", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = cloneMap(snap.tree)
	s.changed = snap.changed
	return nil
}

// PathValue returns a copy of the value at path, following links.
func (s *Store) PathValue(path string) (any, error) {
	if s == nil {
		return nil, pathErr("get", path, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.get(path)
	if err != nil {
		return nil, err
	}
	return cloneValue(value), nil
}

// SetPathValue stores a mapping at path, creating intermediate mappings.
// A link at path is followed and its target is written.
func (s *Store) SetPathValue(path string, value map[string]any) error {
	if s == nil {
		return pathErr("set", path, ErrInvalidArgument)
	}
	if value == nil {
		return pathErr("set", path, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(path, value, true)
}

// RemovePathValue deletes the node at path. A link at path is removed
// itself, not its target. It returns ErrNoSuchKey if nothing is there.
func (s *Store) RemovePathValue(path string) error {
	if s == nil {
		return pathErr("remove", path, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(path)
}

// PathLink returns the target of the link stored at path.
func (s *Store) PathLink(path string) (string, error) {
	if s == nil {
		return "", pathErr("link", path, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	segs, err := s.canonical(path, false)
	if err != nil {
		return "", err
	}
	node, ok := s.lookup(segs)
	if !ok {
		return "", pathErr("link", path, ErrNoSuchKey)
	}
	target, ok := linkTarget(node)
	if !ok {
		return "", pathErr("link", path, ErrNoSuchKey)
	}
	return target, nil
}

// SetPathLink makes path an alias of target. The target must resolve to a
// mapping.
func (s *Store) SetPathLink(path, target string) error {
	if s == nil {
		return pathErr("link", path, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.get(target)
	if err != nil {
		return pathErr("link", path, err)
	}
	if _, ok := value.(map[string]any); !ok {
		return pathErr("link", path, ErrNoSuchKey)
	}
	if _, err := splitPath(path); err != nil {
		return err
	}
	return s.set(path, map[string]any{LinkKey: target}, false)
}

// Keys lists the child keys of the mapping at path.
func (s *Store) Keys(path string) []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.get(path)
	if err != nil {
		return nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CreateUniqueChild creates an empty mapping below prefix under a new random
// key and returns its path.
func (s *Store) CreateUniqueChild(prefix string) (string, error) {
	if s == nil {
		return "", pathErr("create", prefix, ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := splitPath(prefix); err != nil {
		return "", err
	}
	for {
		child := prefix + "/" + uuid.NewString()
		if prefix == "/" {
			child = "/" + uuid.NewString()
		}
		if _, err := s.get(child); err == nil {
			continue
		}
		if err := s.set(child, map[string]any{}, true); err != nil {
			return "", err
		}
		return child, nil
	}
}

// Value returns a copy of the top-level value stored under key.
func (s *Store) Value(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.tree[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// SetValue stores a top-level value of any supported type.
func (s *Store) SetValue(key string, value any) error {
	if s == nil || key == "" {
		return pathErr("set", Path(key), ErrInvalidArgument)
	}
	n, err := normalize(value)
	if err != nil {
		return pathErr("set", Path(key), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tree[key]; ok && reflect.DeepEqual(cur, n) {
		return nil
	}
	s.tree[key] = n
	s.changed = true
	return nil
}

// RemoveValue deletes a top-level value.
func (s *Store) RemoveValue(key string) error {
	if s == nil {
		return pathErr("remove", Path(key), ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tree[key]; !ok {
		return pathErr("remove", Path(key), ErrNoSuchKey)
	}
	delete(s.tree, key)
	s.changed = true
	return nil
}

// canonical rewrites path so that every link along it is replaced by its
// target. The final segment is only followed when followFinal is set.
func (s *Store) canonical(path string, followFinal bool) ([]string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	for hop := 0; ; hop++ {
		if hop > maxLinkDepth {
			return nil, pathErr("resolve", path, fmt.Errorf("link depth exceeded: %w", ErrInvalidArgument))
		}
		redirected := false
		cur := s.tree
	walk:
		for i, seg := range segs {
			child, ok := cur[seg]
			if !ok {
				break
			}
			last := i == len(segs)-1
			if target, isLink := linkTarget(child); isLink && (!last || followFinal) {
				tsegs, err := splitPath(target)
				if err != nil {
					return nil, err
				}
				segs = append(tsegs, segs[i+1:]...)
				redirected = true
				break walk
			}
			m, ok := child.(map[string]any)
			if !ok {
				break
			}
			cur = m
		}
		if !redirected {
			return segs, nil
		}
	}
}

func (s *Store) lookup(segs []string) (any, bool) {
	var node any = s.tree
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func (s *Store) get(path string) (any, error) {
	segs, err := s.canonical(path, true)
	if err != nil {
		return nil, err
	}
	node, ok := s.lookup(segs)
	if !ok {
		return nil, pathErr("get", path, ErrNoSuchKey)
	}
	return node, nil
}

func (s *Store) set(path string, value map[string]any, followFinal bool) error {
	segs, err := s.canonical(path, followFinal)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return pathErr("set", path, ErrInvalidArgument)
	}
	normalized, err := normalizeMap(value)
	if err != nil {
		return pathErr("set", path, err)
	}
	cur := s.tree
	for _, seg := range segs[:len(segs)-1] {
		child, ok := cur[seg]
		if !ok {
			next := map[string]any{}
			cur[seg] = next
			cur = next
			continue
		}
		m, ok := child.(map[string]any)
		if !ok {
			return pathErr("set", path, fmt.Errorf("segment %q is not a mapping: %w", seg, ErrInvalidArgument))
		}
		cur = m
	}
	last := segs[len(segs)-1]
	if existing, ok := cur[last]; ok && reflect.DeepEqual(existing, normalized) {
		return nil
	}
	cur[last] = normalized
	s.changed = true
	return nil
}

func (s *Store) remove(path string) error {
	segs, err := s.canonical(path, false)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return pathErr("remove", path, ErrInvalidArgument)
	}
	parent, ok := s.lookup(segs[:len(segs)-1])
	if !ok {
		return pathErr("remove", path, ErrNoSuchKey)
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return pathErr("remove", path, ErrNoSuchKey)
	}
	last := segs[len(segs)-1]
	if _, ok := m[last]; !ok {
		return pathErr("remove", path, ErrNoSuchKey)
	}
	delete(m, last)
	s.changed = true
	return nil
}
