package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is the in-process Cache used when no Redis address is
// configured. A janitor goroutine evicts expired keys until Stop is called.
type MemoryCache struct {
	mu          sync.Mutex
	items       map[string]entry
	serviceName string
	now         func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewMemoryCache(serviceName string, sweepEvery time.Duration) *MemoryCache {
	return newMemoryCache(serviceName, sweepEvery, time.Now)
}

func newMemoryCache(serviceName string, sweepEvery time.Duration, now func() time.Time) *MemoryCache {
	c := &MemoryCache{
		items:       make(map[string]entry),
		serviceName: serviceName,
		now:         now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go c.janitor(sweepEvery)
	return c
}

func (c *MemoryCache) janitor(every time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
		}
	}
}

// Stop halts the janitor and waits for it to exit.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *MemoryCache) live(key string) (entry, bool) {
	e, ok := c.items[key]
	if !ok {
		return entry{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return entry{}, false
	}
	return e, true
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key)
	return e.value, ok, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.items[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return nil
}

func (c *MemoryCache) GenerateKey(operation, key string) string {
	return generateKey(c.serviceName, operation, key)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
