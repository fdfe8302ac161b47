// Package cache provides a bounded LRU with per-entry expiry for memoising
// small payloads in process.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a concurrency-safe least-recently-used cache with a hard entry cap.
// Expired entries are dropped lazily when touched, so Len can overcount until
// the next access.
type LRU struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type entry struct {
	key     string
	value   []byte
	expires time.Time
}

// New returns an LRU holding at most capacity entries
func New(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Add stores value under key for ttl, evicting the oldest entry when the
// cache is full
func (l *LRU) Add(key string, value []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expires := time.Now().Add(ttl)
	if el, ok := l.items[key]; ok {
		l.ll.MoveToFront(el)
		e := el.Value.(*entry)
		e.value = value
		e.expires = expires
		return
	}
	l.items[key] = l.ll.PushFront(&entry{key: key, value: value, expires: expires})
	if l.ll.Len() > l.cap {
		if oldest := l.ll.Back(); oldest != nil {
			l.removeElement(oldest)
		}
	}
}

// Get returns the live value under key and marks it most recently used
func (l *LRU) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expires) {
		l.removeElement(el)
		return nil, false
	}
	l.ll.MoveToFront(el)
	return e.value, true
}

// Contains reports whether key holds a live entry without touching recency
func (l *LRU) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	return ok && !time.Now().After(el.Value.(*entry).expires)
}

// Remove drops key, reporting whether it was present
func (l *LRU) Remove(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if ok {
		l.removeElement(el)
	}
	return ok
}

// Clear empties the cache
func (l *LRU) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ll.Init()
	l.items = make(map[string]*list.Element, l.cap)
}

// Len reports the stored entry count, expired stragglers included
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU) removeElement(el *list.Element) {
	l.ll.Remove(el)
	delete(l.items, el.Value.(*entry).key)
}
