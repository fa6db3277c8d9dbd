package mailbox

import (
	"hash/fnv"
	"sync"
)

const stripeCount = 64

func stripeOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % stripeCount)
}

// keyLocks hands out a mutex per key stripe so unrelated conversations rarely
// contend and never share one global lock.
type keyLocks struct {
	stripes [stripeCount]sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	mu := &l.stripes[stripeOf(key)]
	mu.Lock()
	return mu.Unlock
}
