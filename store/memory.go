package store

import (
	"context"
	"maps"
	"sync"

	"github.com/rushteam/feedrank/core"
)

// MemoryStore 是内存实现的 ExternalStore，用于测试/开发/原型。
// Scan 按首次写入顺序返回；进程重启后数据丢失。
type MemoryStore struct {
	mu      sync.RWMutex
	schemas Schemas
	tables  map[string]*memTable
}

type memTable struct {
	order []string
	items map[string]core.Record
}

// NewMemoryStore 创建内存存储，schemas 声明支持 Query 的表。
func NewMemoryStore(schemas Schemas) *MemoryStore {
	if schemas == nil {
		schemas = Schemas{}
	}
	return &MemoryStore{
		schemas: schemas,
		tables:  make(map[string]*memTable),
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) GetItem(_ context.Context, table, key string) (core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	item, ok := t.items[key]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	return maps.Clone(item), nil
}

func (m *MemoryStore) PutItem(_ context.Context, table, key string, item core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		t = &memTable{items: make(map[string]core.Record)}
		m.tables[table] = t
	}
	if _, exists := t.items[key]; !exists {
		t.order = append(t.order, key)
	}
	t.items[key] = maps.Clone(item)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, table, partition string, opts core.QueryOptions) ([]core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, nil
	}
	var matched []rangedItem
	for _, key := range t.order {
		item := t.items[key]
		p, rk, ok := m.schemas.partitionOf(table, item)
		if !ok || p != partition {
			continue
		}
		matched = append(matched, rangedItem{key: key, rangeKey: rk, item: maps.Clone(item)})
	}
	return applyQuery(matched, opts), nil
}

func (m *MemoryStore) Scan(_ context.Context, table string, limit int) ([]core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, nil
	}
	n := len(t.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]core.Record, 0, n)
	for _, key := range t.order[:n] {
		out = append(out, maps.Clone(t.items[key]))
	}
	return out, nil
}

// Count 返回表中记录数（测试与统计用）。
func (m *MemoryStore) Count(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tables[table]; ok {
		return len(t.items)
	}
	return 0
}

func (m *MemoryStore) Close() error { return nil }

var _ core.ExternalStore = (*MemoryStore)(nil)
