package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rushteam/feedrank/pkg/metrics"
)

// TTLCache 是按 (namespace, key) 组织的进程内缓存，所有 namespace 共用一个 TTL。
//
// 过期策略：惰性过期。读取时若 now - insertedAt >= ttl 视为未命中；
// 过期条目继续占用空间，直到被同 key 的 Put 覆盖。没有后台清理协程。
//
// 缓存内容总能从外部存储重建，它不是任何数据的唯一副本。
type TTLCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]cacheEntry
	seq     uint64

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	payload    any
	insertedAt time.Time
	version    uint64
}

// CacheStats 是缓存命中统计。
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// TTLCacheOption 配置 TTLCache。
type TTLCacheOption func(*TTLCache)

// WithCacheClock 注入时钟（测试用）。
func WithCacheClock(now func() time.Time) TTLCacheOption {
	return func(c *TTLCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTTLCache 创建缓存，ttl <= 0 时使用 5 分钟。
func NewTTLCache(ttl time.Duration, opts ...TTLCacheOption) *TTLCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &TTLCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL 返回缓存有效期。
func (c *TTLCache) TTL() time.Duration { return c.ttl }

// Get 返回未过期的缓存内容。
func (c *TTLCache) Get(namespace, key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[namespace][key]
	c.mu.RUnlock()

	if !ok || !c.fresh(e) {
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues(namespace, "miss").Inc()
		return nil, false
	}
	c.hits.Add(1)
	metrics.CacheRequests.WithLabelValues(namespace, "hit").Inc()
	return e.payload, true
}

// Put 无条件覆盖并重置写入时间。
func (c *TTLCache) Put(namespace, key string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(namespace, key, payload)
}

// Version 返回条目当前的写入序号，过期条目照常返回，从未写入过为 0。
// 配合 PutIfVersion 使用：读穿前记下序号，回填时序号变了说明期间有更新的写入。
func (c *TTLCache) Version(namespace, key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[namespace][key].version
}

// PutIfVersion 仅在条目序号仍为 version 时写入，返回是否写入。
func (c *TTLCache) PutIfVersion(namespace, key string, payload any, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[namespace][key].version != version {
		return false
	}
	c.putLocked(namespace, key, payload)
	return true
}

func (c *TTLCache) putLocked(namespace, key string, payload any) {
	ns, ok := c.entries[namespace]
	if !ok {
		ns = make(map[string]cacheEntry)
		c.entries[namespace] = ns
	}
	c.seq++
	ns[key] = cacheEntry{payload: payload, insertedAt: c.now(), version: c.seq}
}

// Len 返回 namespace 下未过期的条目数。
func (c *TTLCache) Len(namespace string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries[namespace] {
		if c.fresh(e) {
			n++
		}
	}
	return n
}

// Stats 返回命中统计。
func (c *TTLCache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *TTLCache) fresh(e cacheEntry) bool {
	return c.now().Sub(e.insertedAt) < c.ttl
}
