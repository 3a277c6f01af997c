package core

import "github.com/rushteam/feedrank/pkg/utils"

// RecommendContext 承载单次推荐请求的用户信号，贯穿整个 Pipeline 透传。
// 只包含从当前 UserID 可达的数据，不同请求之间不共享可变状态。
type RecommendContext struct {
	UserID string
	Kind   KindFilter
	Limit  int

	// UserVector 是用户偏好向量（只读副本）
	UserVector Vector

	// Following 是用户关注的作者集合
	Following map[string]struct{}

	// Labels 是请求级标签，可驱动 Pipeline 行为
	Labels map[string]utils.Label
}

// Follows 判断用户是否关注了 ownerID。
func (rctx *RecommendContext) Follows(ownerID string) bool {
	if rctx == nil || ownerID == "" || rctx.Following == nil {
		return false
	}
	_, ok := rctx.Following[ownerID]
	return ok
}

// PutLabel 写入请求级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取请求级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
