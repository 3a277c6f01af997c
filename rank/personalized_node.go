package rank

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/utils"
)

// ContentVectors 提供内容向量，由 profile.Store 实现。
type ContentVectors interface {
	GetContentVector(ctx context.Context, contentID string, rec *core.ContentRecord) core.Vector
}

// DefaultParallelism 是并发打分的默认 goroutine 上限。
const DefaultParallelism = 16

// PersonalizedNode 是个性化排序 Node：
//   - 写入 labels：score_base / score_engagement / score_follow / score_recency / score_noise
//   - 更新 item.Score 并按分数降序稳定排序，同分保持到达顺序
type PersonalizedNode struct {
	Vectors ContentVectors
	Scorer  *Scorer
	// Parallelism 并发打分上限，<= 0 使用 DefaultParallelism
	Parallelism int
}

func (n *PersonalizedNode) Name() string        { return "rank.personalized" }
func (n *PersonalizedNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *PersonalizedNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	scorer := n.Scorer
	if scorer == nil {
		scorer = NewScorer()
	}
	var userVec core.Vector
	var following map[string]struct{}
	if rctx != nil {
		userVec, following = rctx.UserVector, rctx.Following
	}

	// 每个候选只写自己的字段，候选之间无共享可变状态
	breakdowns := make([]Breakdown, len(items))
	eg, egCtx := errgroup.WithContext(ctx)
	limit := n.Parallelism
	if limit <= 0 {
		limit = DefaultParallelism
	}
	eg.SetLimit(limit)
	for i, it := range items {
		if it == nil {
			continue
		}
		eg.Go(func() error {
			var contentVec core.Vector
			if n.Vectors != nil {
				contentVec = n.Vectors.GetContentVector(egCtx, it.ID, it.Record)
			}
			breakdowns[i] = scorer.Score(userVec, contentVec, it.Record, following)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make([]*core.Item, 0, len(items))
	for i, it := range items {
		if it == nil {
			continue
		}
		b := breakdowns[i]
		it.Score = b.Total()
		it.PutLabel("score_base", utils.ScoreLabel(b.Base, "rank"))
		it.PutLabel("score_engagement", utils.ScoreLabel(b.Engagement, "rank"))
		it.PutLabel("score_follow", utils.ScoreLabel(b.Follow, "rank"))
		it.PutLabel("score_recency", utils.ScoreLabel(b.Recency, "rank"))
		it.PutLabel("score_noise", utils.ScoreLabel(b.Noise, "rank"))
		out = append(out, it)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}
