package filter

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// SelfFilter 过滤请求用户自己发布的内容。
type SelfFilter struct{}

func (SelfFilter) Name() string { return "filter.self" }

func (SelfFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	if rctx == nil || rctx.UserID == "" {
		return false, nil
	}
	return item.OwnedBy(rctx.UserID), nil
}
