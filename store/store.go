// Package store 包含外部存储（core.ExternalStore）的实现与 TTL 缓存。
//
// 注意：接口定义在 core 包，此包只包含实现。
//
// 示例：
//
//	var ext core.ExternalStore = store.NewMemoryStore(store.DefaultSchemas(tables))
//	cache := store.NewTTLCache(5 * time.Minute)
package store

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/conv"
)

// Schemas 是表名到分区索引字段的映射，只有出现在这里的表支持 Query。
type Schemas map[string]core.TableSchema

// partitionOf 按 schema 取记录的分区键与 range key。
func (s Schemas) partitionOf(table string, item core.Record) (partition string, rangeKey int64, ok bool) {
	schema, found := s[table]
	if !found || schema.PartitionKey == "" {
		return "", 0, false
	}
	partition, ok = conv.ToString(item[schema.PartitionKey])
	if !ok || partition == "" {
		return "", 0, false
	}
	if schema.RangeKey != "" {
		rangeKey, _ = conv.ToInt64(item[schema.RangeKey])
	}
	return partition, rangeKey, true
}

func encodeItem(item core.Record) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return data, nil
}

func decodeItem(data []byte) (core.Record, error) {
	var item core.Record
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return item, nil
}

type rangedItem struct {
	key      string
	rangeKey int64
	item     core.Record
}

// applyQuery 对分区内记录按 range key 过滤、排序、截断。
func applyQuery(items []rangedItem, opts core.QueryOptions) []core.Record {
	filtered := items[:0:0]
	for _, it := range items {
		if opts.MinRange != nil && it.rangeKey < *opts.MinRange {
			continue
		}
		filtered = append(filtered, it)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].rangeKey == filtered[j].rangeKey {
			return filtered[i].key < filtered[j].key
		}
		if opts.Descending {
			return filtered[i].rangeKey > filtered[j].rangeKey
		}
		return filtered[i].rangeKey < filtered[j].rangeKey
	})
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	out := make([]core.Record, 0, len(filtered))
	for _, it := range filtered {
		out = append(out, it.item)
	}
	return out
}
