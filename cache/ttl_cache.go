// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type ttlEntry[V any] struct {
	value   V
	fetched time.Time
}

// TTLCache holds values that may change upstream, such as the current
// public key. Entries expire after ttl and concurrent fetches for one key
// share a single call.
type TTLCache[K comparable, V any] struct {
	lock    sync.RWMutex
	entries map[K]ttlEntry[V]
	ttl     time.Duration
	group   singleflight.Group
}

func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries: make(map[K]ttlEntry[V]),
		ttl:     ttl,
	}
}

// Get returns the fresh value for key, otherwise fetches it with fetchFunc.
// If [invalidate] is true the entry is dropped first so no caller reads the
// stale value while the refetch is in flight.
//
// The shared fetch runs on a context detached from any single caller's
// cancellation. Each caller waits under its own ctx and gets ctx.Err() when
// it gives up first.
func (c *TTLCache[K, V]) Get(
	ctx context.Context,
	key K,
	fetchFunc func(context.Context, K) (V, error),
	invalidate bool,
) (V, error) {
	var zero V
	if invalidate {
		c.Invalidate(key)
	} else if value, ok := c.fresh(key); ok {
		return value, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(keyToString(key), func() (any, error) {
		value, err := fetchFunc(fetchCtx, key)
		if err != nil {
			return value, err
		}
		c.lock.Lock()
		c.entries[key] = ttlEntry[V]{value: value, fetched: time.Now()}
		c.lock.Unlock()
		return value, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Invalidate drops key.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.lock.Lock()
	delete(c.entries, key)
	c.lock.Unlock()
}

func (c *TTLCache[K, V]) fresh(key K) (V, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.fetched) >= c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// keyToString accepts both fmt.Stringer and primitive keys.
func keyToString[K comparable](key K) string {
	if s, ok := any(key).(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", key)
}
