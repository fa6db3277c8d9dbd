// Package history keeps the recent turns of each conversation so the
// responder sees prior context.
package history

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DEFAULT_KEEP is how many records survive per conversation.
	DEFAULT_KEEP = 100
	// DEFAULT_TTL expires records a day after they were written.
	DEFAULT_TTL = 24 * time.Hour
	// DEFAULT_LIMIT is how many records the dispatcher loads per batch.
	DEFAULT_LIMIT = 50
)

var ErrStorageUnavailable = errors.New("history storage unavailable")

func storageErr(op, key string, err error) error {
	return fmt.Errorf("history %s %s: %w: %w", op, key, ErrStorageUnavailable, err)
}

type Option func(*options)

type options struct {
	keep int
	ttl  time.Duration
	now  func() time.Time
}

func WithKeep(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.keep = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{keep: DEFAULT_KEEP, ttl: DEFAULT_TTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
