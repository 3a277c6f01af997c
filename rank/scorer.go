// Package rank 实现个性化打分与排序。
package rank

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/vector"
)

// 打分常量
const (
	SimilarityWeight  = 50.0
	EngagementCap     = 20.0
	EngagementScale   = 20.0
	FollowBoost       = 25.0
	RecencyMax        = 15.0
	RecencyHoursPerPt = 4.0
	NoiseMax          = 5.0
)

// Breakdown 是一个候选的分数构成。
type Breakdown struct {
	Base       float64 `json:"base"`
	Engagement float64 `json:"engagement"`
	Follow     float64 `json:"follow"`
	Recency    float64 `json:"recency"`
	Noise      float64 `json:"noise"`
}

// Total 是五项的直接相加。
func (b Breakdown) Total() float64 {
	return b.Base + b.Engagement + b.Follow + b.Recency + b.Noise
}

// Scorer 计算候选分数，可并发使用。
type Scorer struct {
	now   func() time.Time
	noise func() float64
}

// ScorerOption 配置 Scorer。
type ScorerOption func(*Scorer)

// WithClock 注入时钟，用于计算内容发布时长。
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNoise 替换探索噪声来源（测试用），返回值会被截断到 [0, NoiseMax]。
func WithNoise(noise func() float64) ScorerOption {
	return func(s *Scorer) {
		if noise != nil {
			s.noise = noise
		}
	}
}

// NewScorer 创建 Scorer。默认噪声每次调用独立采样 U(0, 5)，不可复现。
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		now:   time.Now,
		noise: func() float64 { return rand.Float64() * NoiseMax },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score 计算 userVec 对一条内容的分数：
//
//	base       = 50 * similarity(user, content)
//	engagement = min(20, 20 * (2*likes + 3*comments) / max(views, 1))
//	follow     = 25（关注了作者）
//	recency    = max(0, 15 - hoursOld/4)，没有时间戳为 0
//	noise      = U(0, 5)
func (s *Scorer) Score(userVec, contentVec core.Vector, rec *core.ContentRecord, following map[string]struct{}) Breakdown {
	var b Breakdown
	b.Base = SimilarityWeight * vector.Similarity(userVec, contentVec)

	if rec != nil {
		rate := float64(2*rec.Likes+3*rec.Comments) / rec.SafeViews()
		b.Engagement = math.Min(EngagementCap, EngagementScale*rate)

		if rec.OwnerID != "" {
			if _, ok := following[rec.OwnerID]; ok {
				b.Follow = FollowBoost
			}
		}
		if hours, ok := rec.HoursOld(s.now()); ok {
			b.Recency = math.Max(0, RecencyMax-hours/RecencyHoursPerPt)
		}
	}

	b.Noise = math.Min(NoiseMax, math.Max(0, s.noise()))
	return b
}
