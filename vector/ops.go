// Package vector 提供用户/内容向量的纯数值原语：余弦相似度、有界指数更新、确定性初始化。
// 所有函数无状态、可并发调用。
package vector

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/rushteam/feedrank/core"
)

// MaxNorm 是向量在每次更新后的欧氏范数上限。
const MaxNorm = 1.0

// Norm 返回欧氏范数。
func Norm(v core.Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Dot 返回内积，长度不一致时返回 0。
func Dot(a, b core.Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Similarity 返回余弦相似度，范围 [-1, 1]。
// 任一向量范数为 0 或长度不一致时返回 0。
func Similarity(a, b core.Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	s := Dot(a, b) / (na * nb)
	// 浮点误差可能略超出 [-1, 1]
	return math.Max(-1, math.Min(1, s))
}

// BoundedUpdate 把 current 向 target 移动一步：
//
//	updated = current + learningRate * weight * (target - current)
//
// 若 updated 的范数大于 1 则缩放到单位范数，否则保持原样（不做归一化）。
// weight 为负时远离 target。长度不一致时返回 current 的副本。
func BoundedUpdate(current, target core.Vector, weight, learningRate float64) core.Vector {
	if len(current) != len(target) {
		return current.Clone()
	}
	step := learningRate * weight
	updated := make(core.Vector, len(current))
	for i := range current {
		updated[i] = current[i] + step*(target[i]-current[i])
	}
	if n := Norm(updated); n > MaxNorm {
		for i := range updated {
			updated[i] /= n
		}
	}
	return updated
}

// DeterministicInit 根据 seedKey 生成可复现的随机向量。
// 分量服从 N(0, 2/dim)（Xavier 风格），同一 seedKey 与 dim 每次得到逐位相同的结果。
// 生成的向量不做归一化。
func DeterministicInit(seedKey string, dim int) core.Vector {
	if dim <= 0 {
		return core.Vector{}
	}
	sum := sha256.Sum256([]byte(seedKey))
	src := rand.NewPCG(binary.BigEndian.Uint64(sum[0:8]), binary.BigEndian.Uint64(sum[8:16]))
	r := rand.New(src)

	scale := math.Sqrt(2.0 / float64(dim))
	v := make(core.Vector, dim)
	for i := range v {
		v[i] = r.NormFloat64() * scale
	}
	return v
}
