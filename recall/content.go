package recall

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// PostSource 从 Catalog 召回帖子。
type PostSource struct {
	Catalog *Catalog
}

func (s *PostSource) Name() string { return "recall.posts" }

func (s *PostSource) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	if s.Catalog == nil || (rctx != nil && !rctx.Kind.IncludesPosts()) {
		return nil, nil
	}
	return toItems(s.Catalog.Posts(ctx)), nil
}

// VideoSource 从 Catalog 召回视频。
type VideoSource struct {
	Catalog *Catalog
}

func (s *VideoSource) Name() string { return "recall.videos" }

func (s *VideoSource) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	if s.Catalog == nil || (rctx != nil && !rctx.Kind.IncludesVideos()) {
		return nil, nil
	}
	return toItems(s.Catalog.Videos(ctx)), nil
}

func toItems(recs []*core.ContentRecord) []*core.Item {
	out := make([]*core.Item, 0, len(recs))
	for _, rec := range recs {
		out = append(out, core.NewItem(rec))
	}
	return out
}
