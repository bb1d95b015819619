// Package settings provides the host-wide persistent key-value store.
//
// One store serves two consumers with disjoint key namespaces: the extension
// manager's persisted state (core:* keys, e.g. the disabled-extension list)
// and per-extension storage (plugin:<name>:* keys, namespaced by the
// capability API so extensions cannot read each other's data).
package settings

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/lumen-ide/lumen/errors"
)

// DisabledExtensionsKey holds the JSON array of disabled extension names.
const DisabledExtensionsKey = "core:disabled_extensions"

// Store is the persistent key-value settings interface.
//
// Get returns errors.ErrNotFound (wrapped) when the key is absent.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	// Keys returns all keys with the given prefix, sorted
	Keys(prefix string) ([]string, error)
}

// DisabledExtensions reads the persisted disabled-extension name list.
// A missing key means nothing is disabled.
func DisabledExtensions(s Store) (map[string]bool, error) {
	raw, err := s.Get(DisabledExtensionsKey)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, errors.Wrap(err, "parse disabled extension list")
	}

	disabled := make(map[string]bool, len(names))
	for _, name := range names {
		disabled[name] = true
	}
	return disabled, nil
}

// SetDisabledExtensions persists the disabled-extension name list. Names are
// stored sorted so the persisted blob is deterministic.
func SetDisabledExtensions(s Store, disabled map[string]bool) error {
	names := make([]string, 0, len(disabled))
	for name, off := range disabled {
		if off {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	raw, err := json.Marshal(names)
	if err != nil {
		return errors.Wrap(err, "encode disabled extension list")
	}
	return s.Set(DisabledExtensionsKey, string(raw))
}

// MemoryStore is an in-memory Store used in tests and as the backing store
// for hosts without persistence.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return "", errors.NewNotFoundError("setting %q", key)
	}
	return value, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
