// Package keylock serialises work per identity without a global lock.
//
// Keys hash onto a fixed set of mutex stripes. Two identities share a stripe only on a
// hash collision, so unrelated logins almost never contend.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is used when New is given a non-positive count
const DefaultStripes = 256

// Locker is a striped mutex set
type Locker struct {
	stripes []sync.Mutex
}

// New creates a Locker with the given number of stripes
func New(stripes int) *Locker {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	return &Locker{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its unlock function
func (l *Locker) Lock(key string) func() {
	m := &l.stripes[l.index(key)]
	m.Lock()
	return m.Unlock
}

// Do runs fn while holding the stripe for key
func (l *Locker) Do(key string, fn func() error) error {
	unlock := l.Lock(key)
	defer unlock()
	return fn()
}

func (l *Locker) index(key string) uint64 {
	return xxhash.Sum64String(key) % uint64(len(l.stripes))
}
