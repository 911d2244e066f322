// ABOUTME: Device-local key/value storage for state that never leaves this machine.
// ABOUTME: File-backed YAML map with atomic writes, plus an in-memory variant for tests.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// LocalStorage is a string key/value store scoped to this device.
type LocalStorage interface {
	// GetItem returns the value stored under key and whether it exists.
	GetItem(key string) (string, bool, error)

	// SetItem stores value under key.
	SetItem(key, value string) error
}

// FileLocalStorage persists items as a YAML map in a single file.
type FileLocalStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileLocalStorage creates a store backed by the file at path. The file is
// created on first write.
func NewFileLocalStorage(path string) *FileLocalStorage {
	return &FileLocalStorage{path: path}
}

// GetItem returns the value stored under key.
func (f *FileLocalStorage) GetItem(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

// SetItem stores value under key and rewrites the file atomically.
func (f *FileLocalStorage) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking every future write.
		items = make(map[string]string)
	}
	items[key] = value

	data, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal local storage: %w", err)
	}
	return atomicWrite(f.path, data)
}

func (f *FileLocalStorage) load() (map[string]string, error) {
	items := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return items, nil
		}
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse local storage: %w", err)
	}
	return items, nil
}

// atomicWrite writes data to a temp file in the target directory and renames it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// MemoryLocalStorage keeps items in memory. Err, when set, is returned by
// every call so callers can exercise unavailable storage.
type MemoryLocalStorage struct {
	mu    sync.Mutex
	items map[string]string
	Err   error
}

// NewMemoryLocalStorage creates an empty in-memory store.
func NewMemoryLocalStorage() *MemoryLocalStorage {
	return &MemoryLocalStorage{items: make(map[string]string)}
}

// GetItem returns the value stored under key.
func (m *MemoryLocalStorage) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", false, m.Err
	}
	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem stores value under key.
func (m *MemoryLocalStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.items[key] = value
	return nil
}
