// Package cache provides a small keyed TTL cache with LRU eviction, used for
// data that changes rarely but is read on almost every message, like the
// category and payer keyboards.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is the read/write surface consumers depend on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Size() int
}

// TTL is an LRU cache whose entries expire after a fixed duration. Expired
// entries are dropped lazily on Get and in bulk by Sweep.
type TTL[T any] struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	index map[string]*list.Element
	order *list.List // front = most recently used

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	janitor bool
}

type entry[T any] struct {
	key      string
	value    T
	deadline time.Time
}

func NewTTL[T any](max int, ttl time.Duration) *TTL[T] {
	return &TTL[T]{
		max:   max,
		ttl:   ttl,
		index: make(map[string]*list.Element),
		order: list.New(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (c *TTL[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.index[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[T])
	if time.Now().After(e.deadline) {
		c.evict(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *TTL[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[T]{key: key, value: value, deadline: time.Now().Add(c.ttl)}
	if el, ok := c.index[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(e)
	if c.order.Len() > c.max {
		if oldest := c.order.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
}

func (c *TTL[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.evict(el)
	}
}

func (c *TTL[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *TTL[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		if now.After(el.Value.(*entry[T]).deadline) {
			expired = append(expired, el)
		}
	}
	for _, el := range expired {
		c.evict(el)
	}
	return len(expired)
}

// StartJanitor sweeps expired entries on the given interval until Stop is
// called.
func (c *TTL[T]) StartJanitor(interval time.Duration) {
	c.mu.Lock()
	c.janitor = true
	c.mu.Unlock()
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the janitor goroutine and waits for it to exit. Safe to
// call when no janitor was ever started.
func (c *TTL[T]) Stop() {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		started := c.janitor
		c.mu.Unlock()
		if started {
			<-c.done
		}
	})
}

// evict removes an element; callers hold c.mu.
func (c *TTL[T]) evict(el *list.Element) {
	delete(c.index, el.Value.(*entry[T]).key)
	c.order.Remove(el)
}
