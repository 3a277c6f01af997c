package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/rushteam/feedrank/core"
)

// Key 前缀，字段之间用 \x00 分隔，避免与业务 ID 中的字符冲突。
const (
	badgerItemPrefix  = "i\x00"
	badgerIndexPrefix = "p\x00"
	badgerRevPrefix   = "r\x00"
	badgerSep         = "\x00"
)

// BadgerStore 是 BadgerDB 实现的 ExternalStore，适合单机持久化部署。
// Scan 按 key 字典序返回。
type BadgerStore struct {
	db      *badger.DB
	schemas Schemas
	owned   bool
}

// OpenBadgerStore 打开 dir 下的数据库；dir 为空时使用内存模式（测试用）。
func OpenBadgerStore(dir string, schemas Schemas) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	s := NewBadgerStore(db, schemas)
	s.owned = true
	return s, nil
}

// NewBadgerStore 包装已打开的数据库，Close 不会关闭外部传入的 db。
func NewBadgerStore(db *badger.DB, schemas Schemas) *BadgerStore {
	if schemas == nil {
		schemas = Schemas{}
	}
	return &BadgerStore{db: db, schemas: schemas}
}

func (s *BadgerStore) Name() string { return "badger" }

func badgerItemKey(table, key string) []byte {
	return []byte(badgerItemPrefix + table + badgerSep + key)
}

func badgerRevKey(table, key string) []byte {
	return []byte(badgerRevPrefix + table + badgerSep + key)
}

func badgerPartitionPrefix(table, partition string) []byte {
	return []byte(badgerIndexPrefix + table + badgerSep + partition + badgerSep)
}

// 有符号 range key 翻转符号位后按 20 位十进制编码，保证字典序与数值序一致。
func badgerIndexKey(table, partition string, rangeKey int64, key string) []byte {
	ordered := uint64(rangeKey) ^ (1 << 63)
	return []byte(fmt.Sprintf("%s%020d%s%s", badgerPartitionPrefix(table, partition), ordered, badgerSep, key))
}

func (s *BadgerStore) GetItem(_ context.Context, table, key string) (core.Record, error) {
	var item core.Record
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(badgerItemKey(table, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrStoreNotFound
		}
		if err != nil {
			return fmt.Errorf("get item: %w", err)
		}
		return entry.Value(func(val []byte) error {
			decoded, err := decodeItem(val)
			item = decoded
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *BadgerStore) PutItem(_ context.Context, table, key string, item core.Record) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(badgerItemKey(table, key), data); err != nil {
			return fmt.Errorf("set item: %w", err)
		}

		// 删除旧的分区索引再写新的
		revKey := badgerRevKey(table, key)
		old, err := txn.Get(revKey)
		switch {
		case err == nil:
			oldIndex, err := old.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(oldIndex); err != nil {
				return fmt.Errorf("delete index: %w", err)
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("get index: %w", err)
		}

		p, rk, ok := s.schemas.partitionOf(table, item)
		if !ok {
			return nil
		}
		indexKey := badgerIndexKey(table, p, rk, key)
		if err := txn.Set(indexKey, []byte(key)); err != nil {
			return fmt.Errorf("set index: %w", err)
		}
		return txn.Set(revKey, indexKey)
	})
}

func (s *BadgerStore) Query(_ context.Context, table, partition string, opts core.QueryOptions) ([]core.Record, error) {
	var out []core.Record
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Reverse = opts.Descending
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := badgerPartitionPrefix(table, partition)
		seek := prefix
		if opts.Descending {
			seek = append(append([]byte{}, prefix...), 0xFF)
		}
		var minKey []byte
		if opts.MinRange != nil {
			minKey = badgerIndexKey(table, partition, *opts.MinRange, "")
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			idx := it.Item()
			if minKey != nil && string(idx.Key()) < string(minKey) {
				if opts.Descending {
					break
				}
				continue
			}
			key, err := idx.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry, err := txn.Get(badgerItemKey(table, string(key)))
			if err != nil {
				continue
			}
			err = entry.Value(func(val []byte) error {
				item, err := decodeItem(val)
				if err == nil {
					out = append(out, item)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", table, partition, err)
	}
	return out, nil
}

func (s *BadgerStore) Scan(_ context.Context, table string, limit int) ([]core.Record, error) {
	var out []core.Record
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(badgerItemPrefix + table + badgerSep)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				item, err := decodeItem(val)
				if err == nil {
					out = append(out, item)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

var _ core.ExternalStore = (*BadgerStore)(nil)
