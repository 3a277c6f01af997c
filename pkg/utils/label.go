package utils

import "strconv"

// Label 记录候选在链路中的可解释信息（召回来源、各项打分、过滤原因）。
// Value 与 Source 的语义由各 Node 自定义；这里只提供标准化的合并规则。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // recall / filter / rank / rerank ...
}

// ScoreLabel 把一个打分分量格式化为 Label，保留 4 位小数。
func ScoreLabel(value float64, source string) Label {
	return Label{Value: strconv.FormatFloat(value, 'f', 4, 64), Source: source}
}

// Float 把 Value 解析回 float64，无法解析时返回 (0, false)。
func (l Label) Float() (float64, bool) {
	f, err := strconv.ParseFloat(l.Value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// MergeLabel 合并同名 Label，保留历史：
// - Value: 以 '|' 累积
// - Source: 以 ',' 累积
func MergeLabel(existing Label, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}

	merged := existing
	merged.Value = existing.Value + "|" + incoming.Value
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source == "", incoming.Source == existing.Source:
		merged.Source = existing.Source
	default:
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}
