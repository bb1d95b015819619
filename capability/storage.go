package capability

import (
	"fmt"
)

// StorageAPI is per-extension persistent key-value storage. Keys are
// namespaced as plugin:<extension>:<key> so extensions can neither
// collide with nor read each other's data.
type StorageAPI struct {
	api *API
}

func (s *StorageAPI) namespaced(key string) string {
	return fmt.Sprintf("plugin:%s:%s", s.api.extension, key)
}

// Get returns the stored value for key. Missing keys return an error
// wrapping errors.ErrNotFound.
func (s *StorageAPI) Get(key string) (string, error) {
	return s.api.deps.Settings.Get(s.namespaced(key))
}

// Set stores value under key.
func (s *StorageAPI) Set(key, value string) error {
	return s.api.deps.Settings.Set(s.namespaced(key), value)
}

// Delete removes key. Missing keys are not an error.
func (s *StorageAPI) Delete(key string) error {
	return s.api.deps.Settings.Delete(s.namespaced(key))
}

// Keys lists the extension's own stored keys with the namespace prefix
// stripped.
func (s *StorageAPI) Keys() ([]string, error) {
	prefix := fmt.Sprintf("plugin:%s:", s.api.extension)
	full, err := s.api.deps.Settings.Keys(prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, k[len(prefix):])
	}
	return keys, nil
}
