package core

import (
	"strconv"
	"strings"
	"time"
)

// Action 是用户交互类型，数值与上游上报协议中的 action_type 一致。
type Action int

const (
	ActionView Action = iota
	ActionLike
	ActionShare
	ActionComment
	ActionSave
	ActionSkip
	ActionUnlike
	ActionUnsave
)

var actionNames = map[Action]string{
	ActionView:    "VIEW",
	ActionLike:    "LIKE",
	ActionShare:   "SHARE",
	ActionComment: "COMMENT",
	ActionSave:    "SAVE",
	ActionSkip:    "SKIP",
	ActionUnlike:  "UNLIKE",
	ActionUnsave:  "UNSAVE",
}

// actionWeights 正值把用户向量拉向内容向量，负值推离。
var actionWeights = map[Action]float64{
	ActionView:    1.0,
	ActionLike:    3.0,
	ActionShare:   5.0,
	ActionComment: 4.0,
	ActionSave:    4.0,
	ActionSkip:    -0.5,
	ActionUnlike:  -2.0,
	ActionUnsave:  -2.0,
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(a)) + ")"
}

// Weight 返回交互权重；未知类型权重为 0（不更新，不报错）。
func (a Action) Weight() float64 {
	return actionWeights[a]
}

// Known 是否为已定义的交互类型。
func (a Action) Known() bool {
	_, ok := actionNames[a]
	return ok
}

// ParseAction 解析交互类型，支持数值代码（"4"）或名字（"save"，大小写不敏感）。
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Action(n), nil
	}
	upper := strings.ToUpper(s)
	for a, name := range actionNames {
		if name == upper {
			return a, nil
		}
	}
	return 0, InvalidInput(ModuleLearning, "unknown action %q", s)
}

// UnmarshalJSON 兼容数值代码与名字两种写法：4 或 "SAVE"。
func (a *Action) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// InteractionEvent 是一次用户交互上报。
type InteractionEvent struct {
	UserID    string    `json:"user_id"`
	ContentID string    `json:"content_id"`
	Action    Action    `json:"action_type"`
	WatchTime float64   `json:"watch_time,omitempty"` // 观看时长（秒），目前只记录，不参与更新
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate 校验调用方必须提供的字段。
func (e *InteractionEvent) Validate() error {
	if e.UserID == "" {
		return InvalidInput(ModuleLearning, "user id is required")
	}
	if e.ContentID == "" {
		return InvalidInput(ModuleLearning, "content id is required")
	}
	if e.WatchTime < 0 {
		return InvalidInput(ModuleLearning, "watch time must be non-negative, got %v", e.WatchTime)
	}
	return nil
}
