package store

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

type parked struct {
	key   QueueKey
	entry Entry
}

// Backup is the in-memory list of accepted VAAs that could not be written to
// INCOMING yet. It is bounded; once full the oldest entry is evicted.
type Backup struct {
	mu       sync.Mutex
	removing bool
	cache    *lru.Cache
	onEvict  func(QueueKey)
}

// NewBackup returns a backup list holding at most size entries. onEvict, when
// set, is called for every entry pushed out by capacity.
func NewBackup(size int, onEvict func(QueueKey)) (*Backup, error) {
	b := &Backup{onEvict: onEvict}
	cache, err := lru.NewWithEvict(size, func(_, value interface{}) {
		if !b.removing && b.onEvict != nil {
			b.onEvict(value.(parked).key)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backup list: %w", err)
	}
	b.cache = cache
	return b, nil
}

// Park stores the entry until it can be drained.
func (b *Backup) Park(key QueueKey, entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Add(key.String(), parked{key: key, entry: entry})
}

// Contains reports whether the key is parked.
func (b *Backup) Contains(key QueueKey) bool {
	return b.cache.Contains(key.String())
}

// Remove drops a parked key without triggering the eviction callback.
func (b *Backup) Remove(key QueueKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removing = true
	b.cache.Remove(key.String())
	b.removing = false
}

// Len returns the number of parked entries.
func (b *Backup) Len() int {
	return b.cache.Len()
}

// snapshot lists parked entries from oldest to newest.
func (b *Backup) snapshot() []parked {
	keys := b.cache.Keys()
	out := make([]parked, 0, len(keys))
	for _, k := range keys {
		if v, ok := b.cache.Peek(k); ok {
			out = append(out, v.(parked))
		}
	}
	return out
}
