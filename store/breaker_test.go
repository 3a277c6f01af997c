package store

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/feedrank/core"
)

// flakyStore 按开关返回错误。
type flakyStore struct {
	*MemoryStore
	fail  bool
	calls int
}

var errFlaky = errors.New("connection refused")

func (f *flakyStore) GetItem(ctx context.Context, table, key string) (core.Record, error) {
	f.calls++
	if f.fail {
		return nil, errFlaky
	}
	return f.MemoryStore.GetItem(ctx, table, key)
}

func (f *flakyStore) Scan(ctx context.Context, table string, limit int) ([]core.Record, error) {
	f.calls++
	if f.fail {
		return nil, errFlaky
	}
	return f.MemoryStore.Scan(ctx, table, limit)
}

func TestBreakerStore_OpensAfterFailures(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(nil), fail: true}
	b := NewBreakerStore(inner, BreakerConfig{MinRequests: 3, FailureRatio: 0.5, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Scan(ctx, "t", 10); !errors.Is(err, errFlaky) {
			t.Fatalf("第 %d 次应透传底层错误，实际 %v", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	calls := inner.calls
	_, err := b.Scan(ctx, "t", 10)
	if !core.IsUnavailable(err) {
		t.Errorf("熔断打开后应返回 UNAVAILABLE，实际 %v", err)
	}
	if inner.calls != calls {
		t.Error("熔断打开后不应再调用底层存储")
	}
}

func TestBreakerStore_NotFoundIsSuccess(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(nil)}
	b := NewBreakerStore(inner, BreakerConfig{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := b.GetItem(ctx, "t", "missing"); !core.IsStoreNotFound(err) {
			t.Fatalf("err = %v, want not found", err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("NOT_FOUND 不应触发熔断，state = %v", b.State())
	}
}

func TestBreakerStore_PassThrough(t *testing.T) {
	inner := NewMemoryStore(nil)
	b := NewBreakerStore(inner, DefaultBreakerConfig())
	ctx := context.Background()
	if err := b.PutItem(ctx, "t", "k", core.Record{"a": 1}); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	got, err := b.GetItem(ctx, "t", "k")
	if err != nil || got["a"] != 1 {
		t.Errorf("GetItem = %v, %v", got, err)
	}
	if b.Name() != "memory" {
		t.Errorf("Name() = %s", b.Name())
	}
}
