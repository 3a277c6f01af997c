package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/pkg/metrics"
)

// BreakerConfig 是熔断器配置。
type BreakerConfig struct {
	// MaxRequests 半开状态允许的并发探测请求数
	MaxRequests uint32 `koanf:"max_requests"`
	// Interval 闭合状态下统计窗口长度
	Interval time.Duration `koanf:"interval"`
	// Timeout 打开状态持续多久后进入半开
	Timeout time.Duration `koanf:"timeout"`
	// MinRequests 触发熔断判断的最小请求数
	MinRequests uint32 `koanf:"min_requests"`
	// FailureRatio 失败率达到该值时打开
	FailureRatio float64 `koanf:"failure_ratio"`
}

// DefaultBreakerConfig 返回默认熔断配置。
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerStore 用熔断器包装 ExternalStore。
// 外部存储持续失败时快速返回 UNAVAILABLE，调用方按降级策略处理，不再等待慢请求。
// ErrStoreNotFound 不计为失败。
type BreakerStore struct {
	next core.ExternalStore
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore 创建熔断装饰器。
func NewBreakerStore(next core.ExternalStore, cfg BreakerConfig) *BreakerStore {
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	name := "store." + next.Name()
	metrics.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || core.IsStoreNotFound(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (b *BreakerStore) Name() string { return b.next.Name() }

// State 返回熔断器当前状态。
func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }

func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: circuit open", err)
	}
	return result, err
}

func (b *BreakerStore) GetItem(ctx context.Context, table, key string) (core.Record, error) {
	res, err := b.execute(func() (any, error) { return b.next.GetItem(ctx, table, key) })
	if err != nil {
		return nil, err
	}
	item, _ := res.(core.Record)
	return item, nil
}

func (b *BreakerStore) PutItem(ctx context.Context, table, key string, item core.Record) error {
	_, err := b.execute(func() (any, error) { return nil, b.next.PutItem(ctx, table, key, item) })
	return err
}

func (b *BreakerStore) Query(ctx context.Context, table, partition string, opts core.QueryOptions) ([]core.Record, error) {
	res, err := b.execute(func() (any, error) { return b.next.Query(ctx, table, partition, opts) })
	if err != nil {
		return nil, err
	}
	items, _ := res.([]core.Record)
	return items, nil
}

func (b *BreakerStore) Scan(ctx context.Context, table string, limit int) ([]core.Record, error) {
	res, err := b.execute(func() (any, error) { return b.next.Scan(ctx, table, limit) })
	if err != nil {
		return nil, err
	}
	items, _ := res.([]core.Record)
	return items, nil
}

func (b *BreakerStore) Close() error { return b.next.Close() }

var _ core.ExternalStore = (*BreakerStore)(nil)
