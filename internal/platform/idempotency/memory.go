package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process for the memory backend and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

// lookup returns the stored record for id or nil. Callers hold mu.
func (s *MemoryStore) lookup(id string) *Record {
	if record, ok := s.records[id]; ok {
		return &record
	}
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := documentID(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, replace, err := claim(s.lookup(id), key, fingerprint, now.UTC(), ttl)
	if replace {
		s.records[id] = res.Record
	}
	return res, err
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := documentID(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := finish(s.lookup(id), key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.records[id] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, documentID(key))
	s.mu.Unlock()
	return nil
}

// Purge drops up to limit expired records; limit <= 0 means all of them.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if !record.live(now.UTC()) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
