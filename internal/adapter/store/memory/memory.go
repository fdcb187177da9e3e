// Package memory provides an in-process KVStore used by default and in tests.
package memory

import (
	"sync"

	"github.com/ubtguoyi/writing/internal/domain"
)

// Store keeps values in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New returns an empty store.
func New() *Store { return &Store{data: map[string]string{}} }

// Get implements domain.KVStore.
func (s *Store) Get(_ domain.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements domain.KVStore.
func (s *Store) Set(_ domain.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Update implements domain.KVStore under the write lock.
func (s *Store) Update(_ domain.Context, key string, fn domain.KVUpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	next, write, err := fn(cur, ok)
	if err != nil || !write {
		return err
	}
	s.data[key] = next
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(_ domain.Context) error { return nil }
