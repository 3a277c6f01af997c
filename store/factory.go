package store

import (
	"fmt"
	"strings"

	"github.com/rushteam/feedrank/core"
)

// Config 是外部存储配置。
type Config struct {
	// Backend: memory | redis | badger
	Backend string       `koanf:"backend"`
	Redis   RedisConfig  `koanf:"redis"`
	Badger  BadgerConfig `koanf:"badger"`
	Tables  Tables       `koanf:"tables"`
	// Breaker 对非内存后端生效
	Breaker BreakerConfig `koanf:"breaker"`
}

type RedisConfig struct {
	Addr string `koanf:"addr"`
	DB   int    `koanf:"db"`
}

type BadgerConfig struct {
	// Dir 为空时使用内存模式
	Dir string `koanf:"dir"`
}

// DefaultConfig 返回默认存储配置（内存后端）。
func DefaultConfig() Config {
	return Config{
		Backend: "memory",
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Tables:  DefaultTables(),
		Breaker: DefaultBreakerConfig(),
	}
}

// NewExternalStore 按 Backend 创建外部存储。redis/badger 外层包一层熔断器。
func NewExternalStore(cfg Config) (core.ExternalStore, error) {
	schemas := DefaultSchemas(cfg.Tables)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(schemas), nil
	case "redis":
		s, err := NewRedisStore(cfg.Redis.Addr, cfg.Redis.DB, schemas)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: connect redis", err)
		}
		return NewBreakerStore(s, cfg.Breaker), nil
	case "badger":
		s, err := OpenBadgerStore(cfg.Badger.Dir, schemas)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: open badger", err)
		}
		return NewBreakerStore(s, cfg.Breaker), nil
	default:
		return nil, core.InvalidInput(core.ModuleConfig, "store: unknown backend %q", cfg.Backend)
	}
}

// Validate 检查存储配置。
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", "memory", "badger":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory, redis or badger, got %q", c.Backend)
	}
	t := c.Tables
	for name, v := range map[string]string{
		"posts": t.Posts, "videos": t.Videos, "follows": t.Follows, "behavior": t.Behavior,
		"user_embeddings": t.UserEmbeddings, "content_embeddings": t.ContentEmbeddings,
	} {
		if v == "" {
			return fmt.Errorf("store.tables.%s must not be empty", name)
		}
	}
	return nil
}
