package service

import (
	"sync"
	"time"

	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/payment/domain"
)

type methodsCache struct {
	ttl   time.Duration
	clock clock.Clock
	mu    sync.RWMutex
	items map[string]methodsCacheEntry
}

type methodsCacheEntry struct {
	expiresAt time.Time
	methods   []domain.MethodOption
}

func newMethodsCache(ttl time.Duration, clk clock.Clock) *methodsCache {
	return &methodsCache{
		ttl:   ttl,
		clock: clk,
		items: make(map[string]methodsCacheEntry),
	}
}

func (c *methodsCache) Get(key string) ([]domain.MethodOption, bool) {
	if c == nil || key == "" {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}
	return append([]domain.MethodOption(nil), entry.methods...), true
}

func (c *methodsCache) Set(key string, methods []domain.MethodOption) {
	if c == nil || key == "" {
		return
	}
	cloned := append([]domain.MethodOption(nil), methods...)
	c.mu.Lock()
	c.items[key] = methodsCacheEntry{
		expiresAt: c.clock.Now().Add(c.ttl),
		methods:   cloned,
	}
	c.mu.Unlock()
}
