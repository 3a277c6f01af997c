// Package recall 提供候选内容目录与召回源。
package recall

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/conv"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/store"
)

// 缓存 namespace
const (
	NamespacePosts    = "posts"
	NamespaceVideos   = "videos"
	NamespaceFollows  = "follows"
	NamespaceBehavior = "behavior"
)

// 默认读取上限
const (
	DefaultPostsLimit    = 500
	DefaultVideosLimit   = 200
	DefaultBehaviorDays  = 30
	DefaultBehaviorLimit = 200
	DefaultFollowsLimit  = 1000
)

// Catalog 是候选内容、关注关系与行为历史的缓存读取层。
// 外部存储出错时返回空集合并记录 WARN，不向调用方返回错误；出错结果不写缓存。
// 返回的切片与记录在请求间共享，调用方只读。
type Catalog struct {
	ext    core.ExternalStore
	cache  *store.TTLCache
	tables store.Tables
	now    func() time.Time
	log    zerolog.Logger

	postsLimit    int
	videosLimit   int
	behaviorLimit int
	followsLimit  int
}

// CatalogOption 配置 Catalog。
type CatalogOption func(*Catalog)

func WithCatalogTables(t store.Tables) CatalogOption {
	return func(c *Catalog) { c.tables = t }
}

// WithLimits 设置帖子/视频单次读取上限，<= 0 保持默认。
func WithLimits(posts, videos int) CatalogOption {
	return func(c *Catalog) {
		if posts > 0 {
			c.postsLimit = posts
		}
		if videos > 0 {
			c.videosLimit = videos
		}
	}
}

// WithFollowsLimit 设置单个用户关注关系的读取上限，<= 0 保持默认。
func WithFollowsLimit(n int) CatalogOption {
	return func(c *Catalog) {
		if n > 0 {
			c.followsLimit = n
		}
	}
}

func WithCatalogClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCatalog 创建 Catalog。ext 与 cache 必须非空。
func NewCatalog(ext core.ExternalStore, cache *store.TTLCache, opts ...CatalogOption) (*Catalog, error) {
	if ext == nil {
		return nil, core.Uninitialized(core.ModuleCatalog, "external store")
	}
	if cache == nil {
		return nil, core.Uninitialized(core.ModuleCatalog, "cache")
	}
	c := &Catalog{
		ext:           ext,
		cache:         cache,
		tables:        store.DefaultTables(),
		now:           time.Now,
		log:           logging.Component("catalog"),
		postsLimit:    DefaultPostsLimit,
		videosLimit:   DefaultVideosLimit,
		behaviorLimit: DefaultBehaviorLimit,
		followsLimit:  DefaultFollowsLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Posts 返回帖子候选。
func (c *Catalog) Posts(ctx context.Context) []*core.ContentRecord {
	return c.scanContent(ctx, NamespacePosts, c.tables.Posts, core.KindPost, c.postsLimit)
}

// Videos 返回视频候选。
func (c *Catalog) Videos(ctx context.Context) []*core.ContentRecord {
	return c.scanContent(ctx, NamespaceVideos, c.tables.Videos, core.KindVideo, c.videosLimit)
}

func (c *Catalog) scanContent(ctx context.Context, ns, table string, kind core.ContentKind, limit int) []*core.ContentRecord {
	if payload, ok := c.cache.Get(ns, "all"); ok {
		if recs, ok := payload.([]*core.ContentRecord); ok {
			return recs
		}
	}
	items, err := c.ext.Scan(ctx, table, limit)
	if err != nil {
		c.degrade("scan", table, "", err)
		return nil
	}
	recs := make([]*core.ContentRecord, 0, len(items))
	for _, item := range items {
		rec := core.RecordFromItem(kind, item)
		if rec.ID == "" {
			continue
		}
		recs = append(recs, rec)
	}
	c.cache.Put(ns, "all", recs)
	return recs
}

// Following 返回 userID 关注的作者集合。
func (c *Catalog) Following(ctx context.Context, userID string) map[string]struct{} {
	if payload, ok := c.cache.Get(NamespaceFollows, userID); ok {
		if set, ok := payload.(map[string]struct{}); ok {
			return set
		}
	}
	items, err := c.ext.Query(ctx, c.tables.Follows, userID, core.QueryOptions{Limit: c.followsLimit})
	if err != nil {
		c.degrade("query", c.tables.Follows, userID, err)
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if id := conv.FirstString(item, store.FollowingField); id != "" {
			set[id] = struct{}{}
		}
	}
	c.cache.Put(NamespaceFollows, userID, set)
	return set
}

// Behavior 返回最近 days 天的行为记录，最新的在前，最多 200 条。
func (c *Catalog) Behavior(ctx context.Context, userID string, days int) []core.Record {
	if days <= 0 {
		days = DefaultBehaviorDays
	}
	key := userID + ":" + strconv.Itoa(days)
	if payload, ok := c.cache.Get(NamespaceBehavior, key); ok {
		if items, ok := payload.([]core.Record); ok {
			return items
		}
	}
	since := c.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	items, err := c.ext.Query(ctx, c.tables.Behavior, userID, core.QueryOptions{
		MinRange:   &since,
		Limit:      c.behaviorLimit,
		Descending: true,
	})
	if err != nil {
		c.degrade("query", c.tables.Behavior, userID, err)
		return nil
	}
	c.cache.Put(NamespaceBehavior, key, items)
	return items
}

func (c *Catalog) degrade(op, table, key string, err error) {
	metrics.StoreErrors.WithLabelValues(op, table).Inc()
	c.log.Warn().Err(err).Str("op", op).Str("table", table).Str("key", key).Msg("catalog read failed, serving empty")
}
