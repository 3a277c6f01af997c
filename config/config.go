// Package config 加载 feedrank 运行配置。
//
// 优先级（后者覆盖前者）：
//
//	默认值 -> YAML 文件 -> 旧环境变量（CACHE_TTL/EMBEDDING_DIM/LEARNING_RATE）-> FEEDRANK_ 环境变量
//
// FEEDRANK_ 环境变量用 "__" 表示层级，例如：
//
//	FEEDRANK_CACHE__TTL=300s
//	FEEDRANK_EMBEDDING__LEARNING_RATE=0.05
//	FEEDRANK_STORE__BACKEND=redis
//	FEEDRANK_KAFKA__BROKERS=k1:9092,k2:9092
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/feature"
	"github.com/rushteam/feedrank/learning"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/store"
)

const (
	// EnvPrefix 环境变量前缀
	EnvPrefix = "FEEDRANK_"
	// PathEnvVar 指定配置文件路径
	PathEnvVar = "FEEDRANK_CONFIG"
)

// Config 是完整运行配置。
type Config struct {
	Cache     CacheConfig          `koanf:"cache"`
	Embedding EmbeddingConfig      `koanf:"embedding"`
	Ranking   RankingConfig        `koanf:"ranking"`
	Catalog   CatalogConfig        `koanf:"catalog"`
	Store     store.Config         `koanf:"store"`
	Kafka     learning.KafkaConfig `koanf:"kafka"`
	Learning  LearningConfig       `koanf:"learning"`
	Log       logging.Config       `koanf:"log"`
}

type CacheConfig struct {
	// TTL 所有 namespace 共用
	TTL time.Duration `koanf:"ttl"`
}

type EmbeddingConfig struct {
	// Dim 向量维度，部署期间不可变更
	Dim          int     `koanf:"dim"`
	LearningRate float64 `koanf:"learning_rate"`
}

type RankingConfig struct {
	MaxLimit     int `koanf:"max_limit"`
	DefaultLimit int `koanf:"default_limit"`
	// CandidateFilter 可选的 CEL 表达式，为 false 的候选被过滤
	CandidateFilter string `koanf:"candidate_filter"`
}

type CatalogConfig struct {
	PostsLimit   int `koanf:"posts_limit"`
	VideosLimit  int `koanf:"videos_limit"`
	BehaviorDays int `koanf:"behavior_days"`
	FollowsLimit int `koanf:"follows_limit"`
}

type LearningConfig struct {
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`
}

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		Cache: CacheConfig{TTL: core.DefaultCacheTTL},
		Embedding: EmbeddingConfig{
			Dim:          core.DefaultEmbeddingDim,
			LearningRate: core.DefaultLearningRate,
		},
		Ranking: RankingConfig{
			MaxLimit:     core.MaxRecommendLimit,
			DefaultLimit: core.DefaultRecommendLimit,
		},
		Catalog: CatalogConfig{
			PostsLimit:   500,
			VideosLimit:  200,
			BehaviorDays: 30,
			FollowsLimit: 1000,
		},
		Store: store.DefaultConfig(),
		Kafka: learning.KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "feedrank.interactions",
			GroupID: "feedrank-learning",
		},
		Learning: LearningConfig{
			Workers:   4,
			QueueSize: 1024,
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// Load 加载配置。path 为空时读取 FEEDRANK_CONFIG，仍为空则只用默认值与环境变量。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyEnv), nil); err != nil {
		return nil, fmt.Errorf("load legacy env: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedEnv), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// legacyEnv 兼容旧部署的环境变量名，CACHE_TTL 以秒为单位。空值忽略。
func legacyEnv(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	switch key {
	case "CACHE_TTL":
		if isDigits(value) {
			value += "s"
		}
		return "cache.ttl", value
	case "EMBEDDING_DIM":
		return "embedding.dim", value
	case "LEARNING_RATE":
		return "embedding.learning_rate", value
	}
	return "", nil
}

// prefixedEnv: FEEDRANK_STORE__REDIS__ADDR -> store.redis.addr
func prefixedEnv(key, value string) (string, any) {
	if key == PathEnvVar || value == "" {
		return "", nil
	}
	path := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	path = strings.ReplaceAll(path, "__", ".")
	if strings.HasSuffix(path, ".brokers") {
		return path, splitList(value)
	}
	return path, value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Validate 检查配置合法性，返回 INVALID_INPUT 领域错误。
func (c *Config) Validate() error {
	switch {
	case c.Cache.TTL <= 0:
		return core.InvalidInput(core.ModuleConfig, "cache.ttl must be positive, got %s", c.Cache.TTL)
	case c.Embedding.Dim < feature.MinDim:
		return core.InvalidInput(core.ModuleConfig, "embedding.dim must be >= %d, got %d", feature.MinDim, c.Embedding.Dim)
	case c.Embedding.LearningRate <= 0 || c.Embedding.LearningRate > 1:
		return core.InvalidInput(core.ModuleConfig, "embedding.learning_rate must be in (0, 1], got %g", c.Embedding.LearningRate)
	case c.Ranking.MaxLimit < 1:
		return core.InvalidInput(core.ModuleConfig, "ranking.max_limit must be >= 1, got %d", c.Ranking.MaxLimit)
	case c.Ranking.DefaultLimit < 1 || c.Ranking.DefaultLimit > c.Ranking.MaxLimit:
		return core.InvalidInput(core.ModuleConfig, "ranking.default_limit must be in [1, %d], got %d", c.Ranking.MaxLimit, c.Ranking.DefaultLimit)
	case c.Catalog.PostsLimit < 1 || c.Catalog.VideosLimit < 1 || c.Catalog.BehaviorDays < 1 || c.Catalog.FollowsLimit < 1:
		return core.InvalidInput(core.ModuleConfig, "catalog limits must be positive")
	case c.Learning.Workers < 1 || c.Learning.QueueSize < 1:
		return core.InvalidInput(core.ModuleConfig, "learning.workers and learning.queue_size must be positive")
	}
	if err := c.Store.Validate(); err != nil {
		return core.WrapDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput, "invalid store config", err)
	}
	return nil
}
