// Package secrets resolves passwords referenced by configuration entities.
// Secrets live in an external store keyed by a unique identifier; entities
// written by old releases may still carry them inline.
package secrets

import (
	"sync"

	"golang.org/x/text/encoding/unicode"

	"github.com/timzifer/netprefs/prefs"
)

// ExternalStoreValue is the encryption marker naming the external store.
const ExternalStoreValue = "Keychain"

// Store is the external secure credential store.
type Store interface {
	Exists(uniqueID string) bool
	Fetch(uniqueID string) ([]byte, bool)
	Remove(uniqueID string) bool
}

// Keys names the fields of an entity that hold a secret reference.
type Keys struct {
	// Password holds either the inline legacy secret or, when Encryption
	// names the external store, the identifier of the external item.
	Password string
	// Encryption names where the secret is kept.
	Encryption string
}

var (
	// PPPKeys locate the PPP authentication password.
	PPPKeys = Keys{Password: "AuthPassword", Encryption: "AuthPasswordEncryption"}
	// IPSecKeys locate the IPSec shared secret.
	IPSecKeys = Keys{Password: "SharedSecret", Encryption: "SharedSecretEncryption"}
	// EAPOLKeys locate the 802.1X password.
	EAPOLKeys = Keys{Password: "UserPassword", Encryption: "UserPasswordEncryption"}
)

// UniqueID derives the external store identifier for a secret. An entity
// that names the external store carries the identifier in its password
// field; otherwise the fallback, usually the service ID, is used.
func UniqueID(config prefs.Entity, keys Keys, fallback string) string {
	if config.String(keys.Encryption) == ExternalStoreValue {
		if id := config.String(keys.Password); id != "" {
			return id
		}
	}
	return fallback
}

// Extract returns the secret referenced by config. The external store is
// consulted first when the encryption marker is absent or names it; the
// inline value is only used when that lookup found nothing and no marker
// is present.
func Extract(store Store, config prefs.Entity, keys Keys, uniqueID string) ([]byte, bool) {
	encryption, hasMarker := config[keys.Encryption]
	if usesExternal(encryption, hasMarker) && store != nil {
		if secret, ok := store.Fetch(uniqueID); ok {
			return secret, true
		}
	}
	if hasMarker || config == nil {
		return nil, false
	}
	return DecodeLegacy(config[keys.Password])
}

// Exists reports whether Extract would find a secret.
func Exists(store Store, config prefs.Entity, keys Keys, uniqueID string) bool {
	encryption, hasMarker := config[keys.Encryption]
	if usesExternal(encryption, hasMarker) && store != nil && store.Exists(uniqueID) {
		return true
	}
	if hasMarker || config == nil {
		return false
	}
	_, ok := DecodeLegacy(config[keys.Password])
	return ok
}

// Remove deletes the secret. When something was removed it returns a copy of
// config without the password and encryption fields.
func Remove(store Store, config prefs.Entity, keys Keys, uniqueID string) (prefs.Entity, bool) {
	encryption, hasMarker := config[keys.Encryption]
	removed := false
	if usesExternal(encryption, hasMarker) && store != nil {
		removed = store.Remove(uniqueID)
	}
	if !removed && !hasMarker && config != nil {
		_, removed = DecodeLegacy(config[keys.Password])
	}
	if !removed || config == nil {
		return nil, removed
	}
	updated := config.Clone()
	delete(updated, keys.Password)
	delete(updated, keys.Encryption)
	return updated, true
}

func usesExternal(encryption any, present bool) bool {
	if !present {
		return true
	}
	s, ok := encryption.(string)
	return ok && s == ExternalStoreValue
}

// DecodeLegacy converts an inline secret to UTF-8. Byte blobs must hold
// whole UTF-16 code units; a leading zero byte selects big endian order.
// Strings must be non-empty.
func DecodeLegacy(value any) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 || len(v)%2 != 0 {
			return nil, false
		}
		endian := unicode.LittleEndian
		if v[0] == 0x00 {
			endian = unicode.BigEndian
		}
		decoded, err := unicode.UTF16(endian, unicode.IgnoreBOM).NewDecoder().Bytes(v)
		if err != nil {
			return nil, false
		}
		return decoded, true
	case string:
		if v == "" {
			return nil, false
		}
		return []byte(v), true
	default:
		return nil, false
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string][]byte{}}
}

// Put stores a secret.
func (m *MemoryStore) Put(uniqueID string, secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[uniqueID] = append([]byte{}, secret...)
}

// Exists implements Store.
func (m *MemoryStore) Exists(uniqueID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[uniqueID]
	return ok
}

// Fetch implements Store.
func (m *MemoryStore) Fetch(uniqueID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.items[uniqueID]
	if !ok {
		return nil, false
	}
	return append([]byte{}, secret...), true
}

// Remove implements Store.
func (m *MemoryStore) Remove(uniqueID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[uniqueID]; !ok {
		return false
	}
	delete(m.items, uniqueID)
	return true
}
