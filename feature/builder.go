// Package feature 把内容记录转换为定长特征向量。
//
// 向量下标按特征组划分，划分方式是跨向量比较的约定，不能随意调整：
//
//	0-4    归一化互动计数：likes/1000, views/10000, comments/100, shares/50, 互动率
//	5-7    时间特征：新鲜度衰减（一周归零）、发布小时/24、星期几/7
//	8-9    保留
//	10-14  媒体类型 one-hot：video / image / 其他（13、14 保留）
//	15-29  保留
//	30-    由内容 ID 的 md5 派生的确定性填充，用于区分其他信号完全相同的内容
package feature

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"time"

	"github.com/rushteam/feedrank/core"
)

// 特征下标
const (
	IdxLikes = iota
	IdxViews
	IdxComments
	IdxShares
	IdxEngagement
	IdxRecency
	IdxHourOfDay
	IdxDayOfWeek

	IdxMediaVideo = 10
	IdxMediaImage = 11
	IdxMediaOther = 12

	IdxHashStart = 30

	// MinDim 是特征布局要求的最小维度
	MinDim = 64
)

// 归一化除数
const (
	likesDivisor    = 1000.0
	viewsDivisor    = 10000.0
	commentsDivisor = 100.0
	sharesDivisor   = 50.0

	recencyWindowHours = 168.0 // 一周
)

// Builder 构建内容特征向量，可并发使用。
type Builder struct {
	dim int
	now func() time.Time
}

// BuilderOption 配置 Builder。
type BuilderOption func(*Builder)

// WithDim 设置向量维度，小于 MinDim 时使用 MinDim。
func WithDim(dim int) BuilderOption {
	return func(b *Builder) {
		if dim >= MinDim {
			b.dim = dim
		}
	}
}

// WithClock 注入时钟（测试用）。
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder 创建特征构建器，默认维度 64。
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{dim: core.DefaultEmbeddingDim, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dim 返回向量维度。
func (b *Builder) Dim() int { return b.dim }

// BuildContentVector 从内容记录构建特征向量。
// 不返回错误：任何缺失或异常字段只让对应分量为 0。
func (b *Builder) BuildContentVector(rec *core.ContentRecord) core.Vector {
	v := make(core.Vector, b.dim)
	if rec == nil {
		return v
	}

	likes := float64(rec.Likes)
	comments := float64(rec.Comments)
	shares := float64(rec.Shares)
	views := rec.SafeViews()

	v[IdxLikes] = clamp01(likes / likesDivisor)
	v[IdxViews] = clamp01(views / viewsDivisor)
	v[IdxComments] = clamp01(comments / commentsDivisor)
	v[IdxShares] = clamp01(shares / sharesDivisor)
	v[IdxEngagement] = clamp01((likes + 2*comments + 3*shares) / views)

	if rec.CreatedAt != nil {
		created := *rec.CreatedAt
		hoursOld := b.now().Sub(created).Hours()
		v[IdxRecency] = clamp01(1 - hoursOld/recencyWindowHours)
		v[IdxHourOfDay] = float64(created.Hour()) / 24
		// 周一为 0
		v[IdxDayOfWeek] = float64((int(created.Weekday())+6)%7) / 7
	}

	switch rec.MediaType {
	case "video":
		v[IdxMediaVideo] = 1
	case "image":
		v[IdxMediaImage] = 1
	default:
		v[IdxMediaOther] = 1
	}

	HashFill(v, rec.ID)
	return v
}

// HashFill 用内容 ID 的 md5 填充 v[30:]：第 i 位取 (h >> (i-30)) & 0xFF，再除以 255。
// h 为 md5 摘要按大端解释的 128 位整数。id 为空时不填充。
func HashFill(v core.Vector, id string) {
	if id == "" {
		return
	}
	sum := md5.Sum([]byte(id))
	hi := binary.BigEndian.Uint64(sum[0:8])
	lo := binary.BigEndian.Uint64(sum[8:16])
	for i := IdxHashStart; i < len(v); i++ {
		v[i] = float64(shiftByte(hi, lo, uint(i-IdxHashStart))) / 255.0
	}
}

// shiftByte 返回 128 位整数 (hi, lo) 右移 s 位后的最低字节。
func shiftByte(hi, lo uint64, s uint) uint64 {
	switch {
	case s == 0:
		return lo & 0xFF
	case s < 64:
		return ((lo >> s) | (hi << (64 - s))) & 0xFF
	case s < 128:
		return (hi >> (s - 64)) & 0xFF
	default:
		return 0
	}
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
