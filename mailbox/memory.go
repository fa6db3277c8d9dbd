package mailbox

import (
	"context"
	"sync"
	"time"

	"penelope-batcher/models"
)

type memoryList struct {
	events    []models.Event
	expiresAt time.Time
}

type memoryShard struct {
	mu    sync.Mutex
	lists map[string]*memoryList
}

// MemoryBackend keeps mailboxes in process memory. Expired keys are dropped
// lazily on access and by Purge.
type MemoryBackend struct {
	shards [stripeCount]memoryShard
}

// NewMemoryBackend returns an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{}
	for i := range b.shards {
		b.shards[i].lists = make(map[string]*memoryList)
	}
	return b
}

func (b *MemoryBackend) shard(key string) *memoryShard {
	return &b.shards[stripeOf(key)]
}

// live returns the list of key when it has not expired. Caller holds s.mu.
func (s *memoryShard) live(key string, now time.Time) *memoryList {
	l, ok := s.lists[key]
	if !ok {
		return nil
	}
	if !now.Before(l.expiresAt) {
		delete(s.lists, key)
		return nil
	}
	return l
}

func (b *MemoryBackend) Push(_ context.Context, ev models.Event, expiresAt time.Time, refresh bool, now time.Time) error {
	s := b.shard(ev.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.live(ev.Key, now)
	if l == nil {
		l = &memoryList{expiresAt: expiresAt}
		s.lists[ev.Key] = l
	} else if refresh {
		l.expiresAt = expiresAt
	}
	l.events = append(l.events, ev)
	return nil
}

func (b *MemoryBackend) PopAll(_ context.Context, key string, now time.Time) ([]models.Event, error) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.live(key, now)
	if l == nil {
		return nil, nil
	}
	delete(s.lists, key)
	return l.events, nil
}

func (b *MemoryBackend) Len(_ context.Context, key string, now time.Time) (int, error) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.live(key, now)
	if l == nil {
		return 0, nil
	}
	return len(l.events), nil
}

func (b *MemoryBackend) Purge(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.Lock()
		for key, l := range s.lists {
			if !now.Before(l.expiresAt) {
				removed += len(l.events)
				delete(s.lists, key)
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}
