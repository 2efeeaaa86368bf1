// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"sync"
)

// FetchFunc loads the value for key on a miss.
type FetchFunc[K comparable, V any] func(key K) (V, error)

// FIFOCache keeps the most recently inserted entries up to a fixed capacity,
// evicting in insertion order. Concurrent misses on one key run one fetch.
type FIFOCache[K comparable, V any] struct {
	lock     sync.RWMutex
	entries  map[K]V
	order    []K
	capacity int

	inflightLock sync.Mutex
	inflight     map[K]*fetch[V]
}

type fetch[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func NewFIFOCache[K comparable, V any](capacity int) *FIFOCache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &FIFOCache[K, V]{
		entries:  make(map[K]V, capacity),
		order:    make([]K, 0, capacity),
		capacity: capacity,
		inflight: make(map[K]*fetch[V]),
	}
}

// Get returns the cached value for key or fetches it. Only successful
// fetches are stored.
func (c *FIFOCache[K, V]) Get(key K, fetchFunc FetchFunc[K, V]) (V, error) {
	c.lock.RLock()
	value, ok := c.entries[key]
	c.lock.RUnlock()
	if ok {
		return value, nil
	}

	c.inflightLock.Lock()
	if f, ok := c.inflight[key]; ok {
		c.inflightLock.Unlock()
		<-f.done
		return f.value, f.err
	}
	f := &fetch[V]{done: make(chan struct{})}
	c.inflight[key] = f
	c.inflightLock.Unlock()

	f.value, f.err = fetchFunc(key)
	if f.err == nil {
		c.lock.Lock()
		c.put(key, f.value)
		c.lock.Unlock()
	}

	c.inflightLock.Lock()
	delete(c.inflight, key)
	c.inflightLock.Unlock()
	close(f.done)

	return f.value, f.err
}

// put requires c.lock to be held for writing.
func (c *FIFOCache[K, V]) put(key K, value V) {
	if _, ok := c.entries[key]; ok {
		c.entries[key] = value
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}

func (c *FIFOCache[K, V]) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.entries)
}
