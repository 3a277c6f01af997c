package core

import "context"

// Record 是外部存储中的一条原始记录（字段名由上游业务决定，如 postId / likes / createdAt）。
type Record = map[string]any

// QueryOptions 描述分区内按数值 range key 的查询条件。
type QueryOptions struct {
	// MinRange range key 下限（含），nil 表示不限制
	MinRange *int64
	// Limit 最大返回条数，<= 0 表示不限制
	Limit int
	// Descending 为 true 时按 range key 降序（最近优先）
	Descending bool
}

// ExternalStore 是外部慢存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 所有调用都可能返回临时错误，调用方按降级策略处理，不向上抛出
//
// 实现：
//   - store.MemoryStore：测试/开发
//   - store.RedisStore：生产常用
//   - store.BadgerStore：嵌入式持久化
//   - store.BreakerStore：熔断装饰器
type ExternalStore interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// GetItem 读取单条记录，不存在时返回 ErrStoreNotFound
	GetItem(ctx context.Context, table, key string) (Record, error)

	// PutItem 写入单条记录（覆盖）
	PutItem(ctx context.Context, table, key string, item Record) error

	// Query 查询某个分区内的记录，按 range key 排序
	Query(ctx context.Context, table, partition string, opts QueryOptions) ([]Record, error)

	// Scan 读取表中的记录，最多 limit 条
	Scan(ctx context.Context, table string, limit int) ([]Record, error)

	// Close 关闭连接/释放资源
	Close() error
}

// TableSchema 描述分区表的索引字段：分区键与数值 range key。
// 支持 Query 的后端在 PutItem 时按 schema 从记录中读取这两个字段建立索引。
type TableSchema struct {
	PartitionKey string `yaml:"partition_key" koanf:"partition_key"`
	RangeKey     string `yaml:"range_key" koanf:"range_key"`
}

// Store 错误定义（使用统一的 DomainError）
var (
	// ErrStoreNotFound 表示 key 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")

	// ErrStoreUnavailable 表示存储不可用（熔断打开等）
	ErrStoreUnavailable = NewDomainError(ModuleStore, ErrorCodeUnavailable, "store: unavailable")
)

// IsStoreNotFound 检查错误是否为 key 不存在
func IsStoreNotFound(err error) bool {
	domainErr := GetDomainError(err)
	if domainErr != nil && domainErr.Module == ModuleStore {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}
