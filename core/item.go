package core

import (
	"math"

	"github.com/rushteam/feedrank/pkg/utils"
)

// Item 是排序链路中的候选承载结构：内容记录、分数、标签。
// Labels 用于解释分数构成；Score 用于排序决策。候选只在单次请求内存在，不持久化。
type Item struct {
	ID     string
	Kind   ContentKind
	Score  float64
	Record *ContentRecord
	Labels map[string]utils.Label
}

// NewItem 从内容记录创建候选。
func NewItem(rec *ContentRecord) *Item {
	it := &Item{
		Record: rec,
		Labels: make(map[string]utils.Label),
	}
	if rec != nil {
		it.ID = rec.ID
		it.Kind = rec.Kind
	}
	return it
}

// OwnerID 返回内容作者 ID。
func (it *Item) OwnerID() string {
	if it.Record == nil {
		return ""
	}
	return it.Record.OwnerID
}

// OwnedBy 判断内容是否由 userID 发布。
func (it *Item) OwnedBy(userID string) bool {
	return it.Record.OwnedBy(userID)
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// Recommendation 是返回给调用方的一条推荐结果。
type Recommendation struct {
	ContentID string      `json:"contentId"`
	Kind      ContentKind `json:"type"`
	Score     float64     `json:"score"`
	OwnerID   string      `json:"creatorId"`
}

// ToRecommendation 转换为对外结果，分数保留两位小数。
func (it *Item) ToRecommendation() Recommendation {
	return Recommendation{
		ContentID: it.ID,
		Kind:      it.Kind,
		Score:     math.Round(it.Score*100) / 100,
		OwnerID:   it.OwnerID(),
	}
}
