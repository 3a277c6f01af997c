// Package learning 根据用户交互在线更新用户偏好向量。
//
// Loop.Apply 是用户向量唯一的修改入口，按用户 ID 串行执行读-改-写，不同用户完全并行。
// 调用方无需等待结果，可通过 Worker 或 KafkaConsumer 异步投递。
package learning

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/vector"
)

// Profiles 是学习闭环依赖的向量存储，由 profile.Store 实现。
type Profiles interface {
	GetUserVector(ctx context.Context, userID string) core.Vector
	GetContentVector(ctx context.Context, contentID string, rec *core.ContentRecord) core.Vector
	SaveUserVector(ctx context.Context, userID string, v core.Vector) error
}

// Loop 是在线学习闭环。
type Loop struct {
	profiles     Profiles
	learningRate float64
	locks        *keyedMutex
	log          zerolog.Logger
}

// Option 配置 Loop。
type Option func(*Loop)

// WithLearningRate 设置学习率，取值 (0, 1]，越界时保持默认。
func WithLearningRate(lr float64) Option {
	return func(l *Loop) {
		if lr > 0 && lr <= 1 {
			l.learningRate = lr
		}
	}
}

// NewLoop 创建学习闭环。
func NewLoop(profiles Profiles, opts ...Option) (*Loop, error) {
	if profiles == nil {
		return nil, core.Uninitialized(core.ModuleLearning, "profile store")
	}
	l := &Loop{
		profiles:     profiles,
		learningRate: core.DefaultLearningRate,
		locks:        newKeyedMutex(),
		log:          logging.Component("learning"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LearningRate 返回学习率。
func (l *Loop) LearningRate() float64 { return l.learningRate }

// Apply 把一次交互应用到用户向量上，返回更新后的向量。
//
// rec 用于首次见到该内容时构建内容向量，可为 nil。
// 未知交互类型权重为 0，不更新用户向量也不报错，内容向量仍会解析。
// 持久化失败只记录日志，缓存中的新向量照常生效，不向调用方返回错误。
func (l *Loop) Apply(ctx context.Context, ev core.InteractionEvent, rec *core.ContentRecord) (core.Vector, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(ev.UserID)
	defer unlock()

	current := l.profiles.GetUserVector(ctx, ev.UserID)
	// 权重为 0 也先解析内容向量，首次见到的内容照常落库
	target := l.profiles.GetContentVector(ctx, ev.ContentID, rec)
	weight := ev.Action.Weight()
	if weight == 0 {
		l.log.Debug().Str("user", ev.UserID).Stringer("action", ev.Action).Msg("no-op interaction")
		return current, nil
	}

	updated := vector.BoundedUpdate(current, target, weight, l.learningRate)

	if err := l.profiles.SaveUserVector(ctx, ev.UserID, updated); err != nil {
		l.log.Warn().Err(err).Str("user", ev.UserID).Msg("persist user vector failed, kept in cache")
	}
	metrics.LearningUpdates.WithLabelValues(ev.Action.String()).Inc()

	l.log.Debug().
		Str("user", ev.UserID).
		Str("content", ev.ContentID).
		Stringer("action", ev.Action).
		Float64("weight", weight).
		Float64("watch_time", ev.WatchTime).
		Float64("similarity", vector.Similarity(updated, target)).
		Msg("user vector updated")
	return updated, nil
}
