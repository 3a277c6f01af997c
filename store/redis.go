package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/feedrank/core"
)

// RedisStore 是 Redis 实现的 ExternalStore，生产环境常用。
//
// 数据布局：
//
//	{table}:item:{key}        string，记录的 JSON
//	{table}:keys              zset，表内所有 key，score 为首次写入时间（Scan 顺序）
//	{table}:p:{partition}     zset，分区索引，score 为 range key（Query 顺序）
type RedisStore struct {
	client  redis.UniversalClient
	schemas Schemas
}

// NewRedisStore 连接 Redis 并 Ping 校验。
func NewRedisStore(addr string, db int, schemas Schemas) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, schemas), nil
}

// NewRedisStoreFromClient 使用已有客户端（集群/哨兵等）。
func NewRedisStoreFromClient(client redis.UniversalClient, schemas Schemas) *RedisStore {
	if schemas == nil {
		schemas = Schemas{}
	}
	return &RedisStore{client: client, schemas: schemas}
}

func (r *RedisStore) Name() string { return "redis" }

func itemKey(table, key string) string    { return table + ":item:" + key }
func keysKey(table string) string         { return table + ":keys" }
func partitionKey(table, p string) string { return table + ":p:" + p }

func (r *RedisStore) GetItem(ctx context.Context, table, key string) (core.Record, error) {
	data, err := r.client.Get(ctx, itemKey(table, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeItem(data)
}

func (r *RedisStore) PutItem(ctx context.Context, table, key string, item core.Record) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	// 分区字段变化时需要从旧分区索引移除
	oldPartition := ""
	if prev, err := r.GetItem(ctx, table, key); err == nil {
		oldPartition, _, _ = r.schemas.partitionOf(table, prev)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, itemKey(table, key), data, 0)
		if oldPartition != "" {
			pipe.ZRem(ctx, partitionKey(table, oldPartition), key)
		}
		pipe.ZAddNX(ctx, keysKey(table), redis.Z{Score: float64(time.Now().UnixNano()), Member: key})
		if p, rk, ok := r.schemas.partitionOf(table, item); ok {
			pipe.ZAdd(ctx, partitionKey(table, p), redis.Z{Score: float64(rk), Member: key})
		}
		return nil
	})
	return err
}

func (r *RedisStore) Query(ctx context.Context, table, partition string, opts core.QueryOptions) ([]core.Record, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if opts.MinRange != nil {
		by.Min = strconv.FormatInt(*opts.MinRange, 10)
	}
	if opts.Limit > 0 {
		by.Count = int64(opts.Limit)
	}

	zkey := partitionKey(table, partition)
	var keys []string
	var err error
	if opts.Descending {
		keys, err = r.client.ZRevRangeByScore(ctx, zkey, by).Result()
	} else {
		keys, err = r.client.ZRangeByScore(ctx, zkey, by).Result()
	}
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, table, keys)
}

func (r *RedisStore) Scan(ctx context.Context, table string, limit int) ([]core.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	keys, err := r.client.ZRange(ctx, keysKey(table), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, table, keys)
}

// fetch 批量读取记录，保持 keys 的顺序，已被删除的 key 跳过。
func (r *RedisStore) fetch(ctx context.Context, table string, keys []string) ([]core.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = itemKey(table, k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]core.Record, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		item, err := decodeItem([]byte(s))
		if err != nil {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ core.ExternalStore = (*RedisStore)(nil)
