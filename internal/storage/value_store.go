// Package storage holds the slice of the global map this peer is
// responsible for.
package storage

import "github.com/nmxmxh/kadstore/internal/id"

// ValueStore maps key hashes to opaque byte values. Writes to the same
// key overwrite; nothing is ever evicted. It is confined to the engine
// goroutine and needs no locking.
type ValueStore struct {
	values map[id.ID][]byte
}

// NewValueStore creates an empty store.
func NewValueStore() *ValueStore {
	return &ValueStore{values: make(map[id.ID][]byte)}
}

// Put records a value under its key hash.
func (s *ValueStore) Put(keyHash id.ID, value []byte) {
	s.values[keyHash] = value
}

// Get returns the value stored under a key hash.
func (s *ValueStore) Get(keyHash id.ID) ([]byte, bool) {
	value, ok := s.values[keyHash]
	return value, ok
}

// Len reports the number of stored values.
func (s *ValueStore) Len() int {
	return len(s.values)
}
