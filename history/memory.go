package history

import (
	"context"
	"sync"
	"time"

	"penelope-batcher/models"
)

type memoryEntry struct {
	rec       models.Record
	expiresAt time.Time
}

// MemoryStore is the in-process history used in dev mode and tests.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string][]memoryEntry
	opts  options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{convs: make(map[string][]memoryEntry), opts: buildOptions(opts)}
}

func (s *MemoryStore) Append(_ context.Context, key string, rec models.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.convs[key], memoryEntry{rec: rec, expiresAt: rec.CreatedAt.Add(s.opts.ttl)})
	if over := len(entries) - s.opts.keep; over > 0 {
		entries = append([]memoryEntry(nil), entries[over:]...)
	}
	s.convs[key] = entries
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, key string, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = DEFAULT_LIMIT
	}
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var live []models.Record
	for _, e := range s.convs[key] {
		if now.Before(e.expiresAt) {
			live = append(live, e.rec)
		}
	}
	if len(live) > limit {
		live = live[len(live)-limit:]
	}
	return append([]models.Record{}, live...), nil
}

func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	now := s.opts.now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entries := range s.convs {
		kept := entries[:0]
		for _, e := range entries {
			if now.Before(e.expiresAt) {
				kept = append(kept, e)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.convs, key)
		} else {
			s.convs[key] = kept
		}
	}
	return removed, nil
}
