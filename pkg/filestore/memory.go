package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// MemStore is an in-memory FileStore used by tests.
type MemStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemStore creates an empty in-memory FileStore.
func NewMemStore() *MemStore {
	return &MemStore{files: make(map[string][]byte)}
}

// Put stores content at path, overwriting any existing file.
func (s *MemStore) Put(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), content...)
}

// Get returns the content at path, or false if the file does not exist.
func (s *MemStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

func (s *MemStore) Exists(path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[path]
	return ok, nil
}

func (s *MemStore) Checksum(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("checksum %s: file does not exist", path)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (s *MemStore) CopyTo(src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[src]
	if !ok {
		return fmt.Errorf("copy %s: file does not exist", src)
	}
	s.files[dst] = append([]byte(nil), b...)
	return nil
}

func (s *MemStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}
