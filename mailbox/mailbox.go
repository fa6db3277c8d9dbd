// Package mailbox buffers inbound events per conversation key until the
// dispatcher drains them. Entries expire when nobody drains them in time.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"penelope-batcher/models"
)

// DefaultTTL is the expiry refreshed on every push.
const DefaultTTL = 60 * time.Second

// ErrStorageUnavailable is matched by every error caused by the backing store.
// Callers treat it as transient.
var ErrStorageUnavailable = errors.New("mailbox storage unavailable")

// StorageError records which mailbox operation failed for which key.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mailbox %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// Backend is a keyed list store with expiry. Implementations need not be
// safe for concurrent use on the same key: Mailbox serializes per key.
type Backend interface {
	// Push appends ev to its key. With refresh set, every live event of the
	// key gets expiresAt; otherwise the key keeps the expiry it already has
	// and expiresAt only applies when the key is new.
	Push(ctx context.Context, ev models.Event, expiresAt time.Time, refresh bool, now time.Time) error
	// PopAll returns the live events of key in arrival order and removes them.
	PopAll(ctx context.Context, key string, now time.Time) ([]models.Event, error)
	// Len counts the live events of key.
	Len(ctx context.Context, key string, now time.Time) (int, error)
	// Purge removes every expired event and reports how many were removed.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Mailbox is the per-key ordered event buffer.
type Mailbox struct {
	backend Backend
	ttl     time.Duration
	refresh bool
	locks   keyLocks
	now     func() time.Time
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithTTL sets how long an undrained key lives.
func WithTTL(ttl time.Duration) Option {
	return func(m *Mailbox) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithFixedTTL keeps a key's expiry from its first insert instead of pushing
// it forward on every append.
func WithFixedTTL() Option {
	return func(m *Mailbox) { m.refresh = false }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Mailbox) { m.now = now }
}

// New wraps a backend.
func New(backend Backend, opts ...Option) *Mailbox {
	m := &Mailbox{
		backend: backend,
		ttl:     DefaultTTL,
		refresh: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append adds ev to the end of its key's sequence.
func (m *Mailbox) Append(ctx context.Context, key string, ev models.Event) error {
	if ev.Key == "" {
		ev.Key = key
	}
	if ev.Key != key {
		return fmt.Errorf("mailbox append: event key %q does not match %q", ev.Key, key)
	}

	unlock := m.locks.lock(key)
	defer unlock()

	now := m.now()
	if err := m.backend.Push(ctx, ev, now.Add(m.ttl), m.refresh, now); err != nil {
		return &StorageError{Op: "append", Key: key, Err: err}
	}
	return nil
}

// Drain returns and clears the key's sequence. An absent or expired key
// drains to an empty slice.
func (m *Mailbox) Drain(ctx context.Context, key string) ([]models.Event, error) {
	unlock := m.locks.lock(key)
	defer unlock()

	events, err := m.backend.PopAll(ctx, key, m.now())
	if err != nil {
		return nil, &StorageError{Op: "drain", Key: key, Err: err}
	}
	if events == nil {
		events = []models.Event{}
	}
	// appends of one key may run concurrently; Seq restores call order
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// Count reports how many live events wait under key.
func (m *Mailbox) Count(ctx context.Context, key string) (int, error) {
	n, err := m.backend.Len(ctx, key, m.now())
	if err != nil {
		return 0, &StorageError{Op: "count", Key: key, Err: err}
	}
	return n, nil
}

// Exists reports whether key has at least one live event.
func (m *Mailbox) Exists(ctx context.Context, key string) (bool, error) {
	n, err := m.Count(ctx, key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Sweep drops expired events of every key.
func (m *Mailbox) Sweep(ctx context.Context) (int, error) {
	n, err := m.backend.Purge(ctx, m.now())
	if err != nil {
		return 0, &StorageError{Op: "sweep", Err: err}
	}
	return n, nil
}
