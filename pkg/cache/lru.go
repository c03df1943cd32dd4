package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/c360/dynbus/errors"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache evicts the least recently used entry once maxSize is exceeded
type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recent
	stats   *Statistics
	onEvict EvictCallback[V]
}

// NewLRU creates an LRU cache holding at most maxSize entries
func NewLRU[V any](maxSize int, opts ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: max size %d", errors.ErrInvalidConfig, maxSize),
			"cache", "NewLRU", "validate size")
	}
	var o options[V]
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   &Statistics{},
		onEvict: o.onEvict,
	}, nil
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.misses.Add(1)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.hits.Add(1)
	return el.Value.(*lruEntry[V]).value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	for c.order.Len() > c.maxSize {
		c.evictOldest()
	}
	return true, nil
}

// evictOldest requires c.mu
func (c *lruCache[V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := c.order.Remove(el).(*lruEntry[V])
	delete(c.items, entry.key)
	c.stats.evictions.Add(1)
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
}

func (c *lruCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

func (c *lruCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lruCache[V]) Stats() *Statistics { return c.stats }
