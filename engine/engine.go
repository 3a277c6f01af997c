// Package engine 装配推荐链路：召回 -> 过滤 -> 个性化排序 -> 截断。
//
// Engine 在启动时构造一次，注入到每个请求处理方；不依赖任何全局实例。
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/filter"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/profile"
	"github.com/rushteam/feedrank/rank"
	"github.com/rushteam/feedrank/recall"
	"github.com/rushteam/feedrank/rerank"
)

// Request 是一次推荐请求。
type Request struct {
	UserID string
	// Limit 返回条数，0 表示使用默认值
	Limit int
	// Kind 内容类型过滤：all / posts / videos，空串等同 all
	Kind string
}

// Stats 是引擎运行统计。
type Stats struct {
	TotalRequests     int64   `json:"totalRequests"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	UserEmbeddings    int     `json:"userEmbeddings"`
	ContentEmbeddings int     `json:"contentEmbeddings"`
	ModelVersion      string  `json:"modelVersion"`
}

// Engine 是推荐引擎。并发安全，只读访问用户数据。
type Engine struct {
	profiles *profile.Store
	catalog  *recall.Catalog
	pipeline *pipeline.Pipeline

	scorer          *rank.Scorer
	candidateFilter string
	defaultLimit    int
	maxLimit        int
	parallelism     int
	recallTimeout   time.Duration

	requests  atomic.Int64
	totalNano atomic.Int64
	log       zerolog.Logger
}

// Option 配置 Engine。
type Option func(*Engine)

// WithScorer 替换打分器（测试中注入固定噪声）。
func WithScorer(s *rank.Scorer) Option {
	return func(e *Engine) {
		if s != nil {
			e.scorer = s
		}
	}
}

// WithCandidateFilter 设置 CEL 候选过滤表达式，表达式为 true 的候选保留。
func WithCandidateFilter(expr string) Option {
	return func(e *Engine) { e.candidateFilter = expr }
}

// WithLimits 设置默认条数与最大条数，<= 0 的值保持默认。
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(e *Engine) {
		if defaultLimit > 0 {
			e.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			e.maxLimit = maxLimit
		}
	}
}

// WithParallelism 设置打分并发上限。
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// WithRecallTimeout 设置单个召回源超时。
func WithRecallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.recallTimeout = d }
}

// New 创建 Engine。依赖缺失或过滤表达式非法时返回错误，属于启动期错误。
func New(profiles *profile.Store, catalog *recall.Catalog, opts ...Option) (*Engine, error) {
	if profiles == nil {
		return nil, core.Uninitialized(core.ModuleEngine, "profile store")
	}
	if catalog == nil {
		return nil, core.Uninitialized(core.ModuleEngine, "content catalog")
	}
	e := &Engine{
		profiles:     profiles,
		catalog:      catalog,
		scorer:       rank.NewScorer(),
		defaultLimit: core.DefaultRecommendLimit,
		maxLimit:     core.MaxRecommendLimit,
		log:          logging.Component("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.defaultLimit > e.maxLimit {
		e.defaultLimit = e.maxLimit
	}

	filters := []filter.Filter{filter.SelfFilter{}}
	if e.candidateFilter != "" {
		ef, err := filter.NewExprFilter(e.candidateFilter)
		if err != nil {
			return nil, err
		}
		filters = append(filters, ef)
	}

	e.pipeline = &pipeline.Pipeline{
		Nodes: []pipeline.Node{
			&recall.Fanout{
				Sources: []recall.Source{
					&recall.PostSource{Catalog: catalog},
					&recall.VideoSource{Catalog: catalog},
				},
				Dedup:   true,
				Timeout: e.recallTimeout,
			},
			&filter.FilterNode{Filters: filters},
			&rank.PersonalizedNode{
				Vectors:     profiles,
				Scorer:      e.scorer,
				Parallelism: e.parallelism,
			},
			&rerank.TopNNode{},
		},
	}
	return e, nil
}

// Recommend 返回按分数降序的推荐列表。
// 只有参数错误会返回 INVALID_INPUT；存储故障降级为空候选，返回空列表。
func (e *Engine) Recommend(ctx context.Context, req Request) ([]core.Recommendation, error) {
	start := time.Now()
	kind, err := e.validate(&req)
	if err != nil {
		metrics.RecommendRequests.WithLabelValues("unknown", "invalid").Inc()
		return nil, err
	}

	rctx := &core.RecommendContext{
		UserID:     req.UserID,
		Kind:       kind,
		Limit:      req.Limit,
		UserVector: e.profiles.GetUserVector(ctx, req.UserID),
		Following:  e.catalog.Following(ctx, req.UserID),
	}

	items, err := e.pipeline.Run(ctx, rctx, nil)
	took := time.Since(start)
	e.requests.Add(1)
	e.totalNano.Add(int64(took))
	metrics.RecommendDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
	if err != nil {
		metrics.RecommendRequests.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	metrics.RecommendRequests.WithLabelValues(string(kind), "ok").Inc()

	out := make([]core.Recommendation, 0, len(items))
	for _, it := range items {
		out = append(out, it.ToRecommendation())
	}
	e.log.Debug().
		Str("user", req.UserID).
		Str("kind", string(kind)).
		Int("returned", len(out)).
		Dur("took", took).
		Msg("recommend done")
	return out, nil
}

func (e *Engine) validate(req *Request) (core.KindFilter, error) {
	if req.UserID == "" {
		return "", core.InvalidInput(core.ModuleEngine, "user id is required")
	}
	if req.Limit == 0 {
		req.Limit = e.defaultLimit
	}
	if req.Limit < 1 || req.Limit > e.maxLimit {
		return "", core.InvalidInput(core.ModuleEngine, "limit must be in [1, %d], got %d", e.maxLimit, req.Limit)
	}
	kind, err := core.ParseKindFilter(req.Kind)
	if err != nil {
		return "", err
	}
	return kind, nil
}

// Stats 返回请求数、平均耗时与向量数量。
func (e *Engine) Stats() Stats {
	n := e.requests.Load()
	var avg float64
	if n > 0 {
		avg = float64(e.totalNano.Load()) / float64(n) / float64(time.Millisecond)
	}
	users, contents := e.profiles.Counts()
	return Stats{
		TotalRequests:     n,
		AvgResponseTimeMs: avg,
		UserEmbeddings:    users,
		ContentEmbeddings: contents,
		ModelVersion:      core.ModelVersion,
	}
}

// Profiles 返回向量存储，供学习闭环复用同一实例。
func (e *Engine) Profiles() *profile.Store { return e.profiles }

// Catalog 返回内容目录。
func (e *Engine) Catalog() *recall.Catalog { return e.catalog }
