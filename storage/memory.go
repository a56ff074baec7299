package storage

import (
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps transfer records in memory. Records are encoded on
// Put and decoded on Get, so callers never share mutable state through
// the store, matching BoltStore semantics.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID][]byte)}
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(rec *TransferRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = data
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (s *MemoryStore) Get(id uuid.UUID) (*TransferRecord, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return decodeRecord(data)
}

// Delete removes the record for id.
func (s *MemoryStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List returns every stored record.
func (s *MemoryStore) List() ([]*TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TransferRecord, 0, len(s.records))
	for _, data := range s.records {
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
