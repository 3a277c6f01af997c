// Package profile 管理用户偏好向量与内容特征向量。
//
// 读路径：TTL 缓存 -> 外部存储 -> 初始化并持久化。外部存储读失败视为不存在。
// 写路径：先写外部存储再写缓存；外部存储写失败时缓存照常更新，错误返回给调用方记录。
package profile

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/feature"
	"github.com/rushteam/feedrank/pkg/conv"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/store"
	"github.com/rushteam/feedrank/vector"
)

// 缓存 namespace
const (
	NamespaceUser    = "user_emb"
	NamespaceContent = "content_emb"
)

// 向量记录字段
const (
	userKeyField    = "userId"
	contentKeyField = "contentId"
	embeddingField  = "embedding"
	updatedAtField  = "updatedAt"
)

// Store 是向量的唯一属主，返回给调用方的都是副本。
type Store struct {
	ext     core.ExternalStore
	cache   *store.TTLCache
	builder *feature.Builder
	tables  store.Tables
	now     func() time.Time
	group   singleflight.Group
	log     zerolog.Logger
}

// Option 配置 Store。
type Option func(*Store)

// WithTables 指定向量表名。
func WithTables(t store.Tables) Option {
	return func(s *Store) { s.tables = t }
}

// WithBuilder 指定特征构建器，向量维度取自 builder.Dim()。
func WithBuilder(b *feature.Builder) Option {
	return func(s *Store) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithClock 注入时钟，用于 updatedAt。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New 创建 Store。ext 与 cache 必须非空。
func New(ext core.ExternalStore, cache *store.TTLCache, opts ...Option) (*Store, error) {
	if ext == nil {
		return nil, core.Uninitialized(core.ModuleProfile, "external store")
	}
	if cache == nil {
		return nil, core.Uninitialized(core.ModuleProfile, "cache")
	}
	s := &Store{
		ext:     ext,
		cache:   cache,
		builder: feature.NewBuilder(),
		tables:  store.DefaultTables(),
		now:     time.Now,
		log:     logging.Component("profile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dim 返回向量维度。
func (s *Store) Dim() int { return s.builder.Dim() }

// Builder 返回特征构建器。
func (s *Store) Builder() *feature.Builder { return s.builder }

// GetUserVector 返回用户向量，首次访问时按 userID 确定性初始化并持久化。
func (s *Store) GetUserVector(ctx context.Context, userID string) core.Vector {
	return s.getOrCreate(ctx, NamespaceUser, s.tables.UserEmbeddings, userKeyField, userID, userID, func() (core.Vector, bool) {
		return vector.DeterministicInit(userSeed(userID), s.Dim()), true
	})
}

// GetContentVector 返回内容向量。
// 不存在时：有 rec 则由特征构建器生成并持久化；没有 rec 则返回确定性初始化向量，不落库。
func (s *Store) GetContentVector(ctx context.Context, contentID string, rec *core.ContentRecord) core.Vector {
	// 有无 rec 的结果不同，不能共享同一次 singleflight
	flight := contentID
	if rec != nil {
		flight += "\x00rec"
	}
	return s.getOrCreate(ctx, NamespaceContent, s.tables.ContentEmbeddings, contentKeyField, contentID, flight, func() (core.Vector, bool) {
		if rec != nil {
			return s.builder.BuildContentVector(rec), true
		}
		return vector.DeterministicInit(contentSeed(contentID), s.Dim()), false
	})
}

// SaveUserVector 写穿用户向量。
func (s *Store) SaveUserVector(ctx context.Context, userID string, v core.Vector) error {
	return s.save(ctx, NamespaceUser, s.tables.UserEmbeddings, userKeyField, userID, v)
}

// SaveContentVector 写穿内容向量。
func (s *Store) SaveContentVector(ctx context.Context, contentID string, v core.Vector) error {
	return s.save(ctx, NamespaceContent, s.tables.ContentEmbeddings, contentKeyField, contentID, v)
}

// Counts 返回缓存中未过期的用户/内容向量数。
func (s *Store) Counts() (users, contents int) {
	return s.cache.Len(NamespaceUser), s.cache.Len(NamespaceContent)
}

func userSeed(id string) string    { return "user:" + id }
func contentSeed(id string) string { return "content:" + id }

func (s *Store) getOrCreate(ctx context.Context, ns, table, keyField, id, flight string, create func() (core.Vector, bool)) core.Vector {
	if v, ok := s.cached(ns, id); ok {
		return v.Clone()
	}

	// 同一个 key 的首次创建只执行一次，并发读者共享结果
	res, _, _ := s.group.Do(ns+"\x00"+flight, func() (any, error) {
		if v, ok := s.cached(ns, id); ok {
			return v, nil
		}
		// 读穿期间可能有 Save 写入更新的向量，回填只在版本未变时进行
		ver := s.cache.Version(ns, id)
		if v, ok := s.load(ctx, table, id); ok {
			return s.fill(ns, id, v, ver), nil
		}

		v, persist := create()
		if !persist {
			return v, nil
		}
		if err := s.persist(ctx, table, keyField, id, v); err != nil {
			s.log.Warn().Err(err).Str("table", table).Str("key", id).Msg("persist new vector failed")
		}
		return s.fill(ns, id, v, ver), nil
	})
	return res.(core.Vector).Clone()
}

// fill 按版本回填缓存；版本已变时以缓存中更新的向量为准。
func (s *Store) fill(ns, id string, v core.Vector, ver uint64) core.Vector {
	if s.cache.PutIfVersion(ns, id, v, ver) {
		return v
	}
	if newer, ok := s.cached(ns, id); ok {
		s.log.Debug().Str("namespace", ns).Str("key", id).Msg("skip stale cache fill")
		return newer
	}
	return v
}

func (s *Store) cached(ns, id string) (core.Vector, bool) {
	payload, ok := s.cache.Get(ns, id)
	if !ok {
		return nil, false
	}
	v, ok := payload.(core.Vector)
	return v, ok
}

// load 从外部存储读取向量。读失败、格式错误、维度不符都视为不存在。
func (s *Store) load(ctx context.Context, table, id string) (core.Vector, bool) {
	item, err := s.ext.GetItem(ctx, table, id)
	if err != nil {
		if !core.IsStoreNotFound(err) {
			metrics.StoreErrors.WithLabelValues("get", table).Inc()
			s.log.Warn().Err(err).Str("table", table).Str("key", id).Msg("load vector failed, treat as absent")
		}
		return nil, false
	}
	v, ok := DecodeVector(item[embeddingField])
	if !ok || len(v) != s.Dim() {
		s.log.Debug().Str("table", table).Str("key", id).Int("len", len(v)).Msg("stored vector unusable")
		return nil, false
	}
	return v, true
}

func (s *Store) persist(ctx context.Context, table, keyField, id string, v core.Vector) error {
	encoded, err := EncodeVector(v)
	if err != nil {
		return err
	}
	item := core.Record{
		keyField:       id,
		embeddingField: encoded,
		updatedAtField: s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.ext.PutItem(ctx, table, id, item); err != nil {
		metrics.StoreErrors.WithLabelValues("put", table).Inc()
		return core.WrapDomainError(core.ModuleProfile, core.ErrorCodeUnavailable, "persist vector "+table+"/"+id, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, ns, table, keyField, id string, v core.Vector) error {
	cp := v.Clone()
	err := s.persist(ctx, table, keyField, id, cp)
	s.cache.Put(ns, id, cp)
	return err
}

// EncodeVector 把向量编码为 JSON 数组字符串。
func EncodeVector(v core.Vector) (string, error) {
	data, err := json.Marshal([]float64(v))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeVector 解析存储中的向量，兼容 JSON 字符串与原生数组两种形式。
func DecodeVector(raw any) (core.Vector, bool) {
	switch val := raw.(type) {
	case string:
		var out []float64
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, false
		}
		return out, true
	case []any:
		out := make(core.Vector, 0, len(val))
		for _, x := range val {
			f, ok := conv.ToFloat64(x)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	case []float64:
		return core.Vector(val).Clone(), true
	}
	return nil, false
}

// Fingerprint 返回向量 JSON 编码的 md5 前 8 位，用于快速比对。
func Fingerprint(v core.Vector) string {
	encoded, err := EncodeVector(v)
	if err != nil {
		return ""
	}
	sum := md5.Sum([]byte(encoded))
	return hex.EncodeToString(sum[:])[:8]
}
