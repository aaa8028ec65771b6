// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

// Package internal_modelcache keeps a bounded number of loaded model
// instances alive. Speech models are hundreds of megabytes each; the cache
// holds the most recently used ones (default two) and closes evicted
// instances so memory stays flat on small hosts.
package internal_modelcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/praxisvoice/pkg/commons"
)

// DefaultMaxLoaded bounds the cache when no explicit limit is configured.
const DefaultMaxLoaded = 2

var ErrClosed = errors.New("modelcache: closed")

// Entry is one cached model instance. The cache calls Close when the entry
// is evicted or the cache shuts down.
type Entry interface {
	Close() error
}

// Loader produces the entry for a missing key. It runs outside the cache
// lock; concurrent Acquire calls for the same key share a single load.
type Loader func(ctx context.Context) (Entry, error)

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Loaded    int    `json:"loaded"`
}

type slot struct {
	key     string
	ready   chan struct{}
	entry   Entry
	err     error
	element *list.Element
}

// Cache is a mutex-guarded LRU of loaded models.
type Cache struct {
	mu      sync.Mutex
	max     int
	slots   map[string]*slot
	order   *list.List // front = least recently used
	closed  bool
	logger  commons.Logger
	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

func New(maxLoaded int, logger commons.Logger) *Cache {
	if maxLoaded <= 0 {
		maxLoaded = DefaultMaxLoaded
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &Cache{
		max:    maxLoaded,
		slots:  make(map[string]*slot),
		order:  list.New(),
		logger: logger,
	}
}

// Acquire returns the cached entry for key, loading it with load on a miss.
// Only one load runs per key: concurrent callers block until the first
// finishes and then share its result. Acquiring marks the key most
// recently used.
func (c *Cache) Acquire(ctx context.Context, key string, load Loader) (Entry, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if s, ok := c.slots[key]; ok {
		c.order.MoveToBack(s.element)
		c.mu.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if s.err != nil {
			return nil, s.err
		}
		c.hits.Add(1)
		return s.entry, nil
	}

	s := &slot{key: key, ready: make(chan struct{})}
	s.element = c.order.PushBack(key)
	c.slots[key] = s
	c.misses.Add(1)
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.closeEvicted(evicted)

	c.logger.Infow("loading model", "key", key)
	entry, err := load(ctx)

	c.mu.Lock()
	if c.closed {
		s.err = ErrClosed
		close(s.ready)
		c.mu.Unlock()
		if entry != nil {
			_ = entry.Close()
		}
		return nil, ErrClosed
	}
	if err != nil {
		delete(c.slots, key)
		c.order.Remove(s.element)
	}
	s.entry, s.err = entry, err
	close(s.ready)
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("modelcache: load %s: %w", key, err)
	}
	return entry, nil
}

// evictLocked removes least-recently-used ready slots until the cache fits
// its bound again. Slots still loading are never candidates.
func (c *Cache) evictLocked() []*slot {
	var out []*slot
	for e := c.order.Front(); e != nil && len(c.slots)-len(out) > c.max; {
		next := e.Next()
		key := e.Value.(string)
		s := c.slots[key]
		select {
		case <-s.ready:
			c.order.Remove(e)
			delete(c.slots, key)
			out = append(out, s)
			c.evicted.Add(1)
		default:
			// still loading, skip
		}
		e = next
	}
	return out
}

func (c *Cache) closeEvicted(evicted []*slot) {
	for _, s := range evicted {
		c.logger.Infow("evicting model", "key", s.key)
		if s.entry == nil {
			continue
		}
		if err := s.entry.Close(); err != nil {
			c.logger.Warnw("model close failed", "key", s.key, "error", err)
		}
	}
}

// Keys returns cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	loaded := len(c.slots)
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicted.Load(),
		Loaded:    loaded,
	}
}

// Close evicts everything and rejects further Acquire calls. Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var slots []*slot
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.slots = make(map[string]*slot)
	c.order.Init()
	c.mu.Unlock()

	var firstErr error
	for _, s := range slots {
		select {
		case <-s.ready:
		default:
			continue // loader still running; its result is discarded
		}
		if s.entry == nil {
			continue
		}
		if err := s.entry.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
