package recall

import (
	"math"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/conv"
)

// Preferences 是从行为历史汇总出的偏好摘要，用于诊断展示，不参与打分。
type Preferences struct {
	// Content 内容得分：动作权重之和 + 观看时长加成
	Content map[string]float64 `json:"content"`
	// Creators 作者亲和度：动作权重 * 0.5
	Creators map[string]float64 `json:"creators"`
	// ActiveHours 各小时的行为次数
	ActiveHours       map[int]int `json:"active_hours"`
	TotalInteractions int         `json:"total_interactions"`
}

const (
	creatorAffinityFactor = 0.5
	watchTimeBonusMax     = 2.0
	defaultActiveHour     = 12
)

// ComputePreferences 汇总行为记录。字段缺失时：动作按权重 0、小时按 12 处理。
func ComputePreferences(behavior []core.Record) Preferences {
	p := Preferences{
		Content:           make(map[string]float64),
		Creators:          make(map[string]float64),
		ActiveHours:       make(map[int]int),
		TotalInteractions: len(behavior),
	}
	for _, item := range behavior {
		contentID := conv.FirstString(item, "contentId")
		weight := 0.0
		if raw, ok := conv.ToString(item["actionType"]); ok {
			if action, err := core.ParseAction(raw); err == nil {
				weight = action.Weight()
			}
		}

		p.Content[contentID] += weight
		if creator := conv.FirstString(item, "contentOwnerId"); creator != "" {
			p.Creators[creator] += weight * creatorAffinityFactor
		}

		hour := defaultActiveHour
		if h, ok := conv.ToInt64(item["hour"]); ok {
			hour = int(h)
		}
		p.ActiveHours[hour]++

		if wt, ok := conv.ToFloat64(item["watchTime"]); ok && wt > 0 {
			p.Content[contentID] += math.Min(wt/60, 1) * watchTimeBonusMax
		}
	}
	return p
}
