// Package feedrank 是一个个性化内容排序引擎。
//
// 设计要点：
// - Pipeline-first: 排序链路由 Node 串联（Recall → Filter → Rank → ReRank）
// - Labels-first: 每个分项写入 labels，便于 explain 与观测
// - 降级优先: 外部存储出错时读路径返回空集合/默认值，只有参数错误返回给调用方
// - 在线学习: 用户交互通过 learning.Loop 按用户串行更新偏好向量
package feedrank

import "github.com/rushteam/feedrank/pipeline"

// 轻量 facade：便于直接 import "feedrank" 使用核心抽象。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindRecall = pipeline.KindRecall
	KindFilter = pipeline.KindFilter
	KindRank   = pipeline.KindRank
	KindReRank = pipeline.KindReRank
)
