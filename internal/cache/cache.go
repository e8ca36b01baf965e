package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Loader produces a fresh value for a registered refresh key.
type Loader func(ctx context.Context) (interface{}, error)

type entry struct {
	value interface{}
	stamp time.Time
}

type refresher struct {
	key      string
	loader   Loader
	interval time.Duration
	lastRun  time.Time
}

// Cache is an in-memory key/value cache with a fixed TTL, prefix
// invalidation, and a single background worker that repopulates registered
// keys so readers rarely fall through to the database.
type Cache struct {
	ttl    time.Duration
	logger *logger.Logger

	mu         sync.RWMutex
	entries    map[string]entry
	refreshers map[string]*refresher

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a cache with the given TTL.
func New(ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		ttl:        ttl,
		logger:     log,
		entries:    make(map[string]entry),
		refreshers: make(map[string]*refresher),
	}
}

// Get returns the cached value for key if it is younger than the TTL.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Since(e.stamp) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the current timestamp.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, stamp: time.Now()}
	c.mu.Unlock()
}

// Invalidate drops every key whose name starts with prefix.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ScheduleRefresh registers a background refresher for key. The worker
// invokes loader every interval and stores the result under key.
func (c *Cache) ScheduleRefresh(key string, loader Loader, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	c.mu.Lock()
	c.refreshers[key] = &refresher{key: key, loader: loader, interval: interval}
	c.mu.Unlock()
}

// Start launches the refresh worker. The worker wakes every TTL, runs each
// refresher whose interval has elapsed, and logs (never propagates) loader
// failures.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop terminates the refresh worker and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)

	tick := c.ttl
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshDue(ctx)
		}
	}
}

func (c *Cache) refreshDue(ctx context.Context) {
	c.mu.RLock()
	due := make([]*refresher, 0, len(c.refreshers))
	for _, r := range c.refreshers {
		if time.Since(r.lastRun) >= r.interval {
			due = append(due, r)
		}
	}
	c.mu.RUnlock()

	for _, r := range due {
		value, err := r.loader(ctx)
		if err != nil {
			if c.logger != nil {
				c.logger.Warnf("Cache refresh for %q failed: %v", r.key, err)
			}
			continue
		}
		c.Set(r.key, value)
		c.mu.Lock()
		r.lastRun = time.Now()
		c.mu.Unlock()
	}
}
