package recall

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// Source 表示一个可复用的召回源（帖子/视频/...），可被 Fanout 并发执行。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error)
}
