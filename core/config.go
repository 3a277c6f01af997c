package core

import "time"

// 默认值，与部署配置缺省时保持一致。
const (
	DefaultEmbeddingDim = 64
	DefaultLearningRate = 0.1
	DefaultCacheTTL     = 300 * time.Second

	// DefaultRecommendLimit 请求未指定 limit 时返回的条数
	DefaultRecommendLimit = 20
	// MaxRecommendLimit 单次请求允许的最大条数
	MaxRecommendLimit = 100

	// ModelVersion 标识当前打分算法版本，随 Stats 返回
	ModelVersion = "v3.0-neural-embeddings"
)
