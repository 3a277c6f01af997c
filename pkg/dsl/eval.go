// Package dsl 基于 CEL (Common Expression Language) 实现候选过滤表达式。
//
// 可用变量：
//   - content：id / owner / kind / media_type / likes / views / comments / shares / hours_old
//   - user：id / follows_owner
//   - label：候选上的 label，label.recall_source.value
//
// 示例：
//
//	content.likes >= 10 && content.kind == "post"
//	content.hours_old < 72.0 || user.follows_owner
//	content.media_type != "text"
package dsl

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/feedrank/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("content", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("label", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// Program 是编译后的布尔表达式，可并发 Eval。
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式，表达式结果必须是 bool。
func Compile(expr string) (*Program, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (p *Program) String() string { return p.expr }

// Eval 对一个候选求值。
func (p *Program) Eval(item *core.Item, rctx *core.RecommendContext, now time.Time) (bool, error) {
	out, _, err := p.prg.Eval(BuildInput(item, rctx, now))
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", p.expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must return bool, got %T", p.expr, out.Value())
	}
	return result, nil
}

// BuildInput 构建表达式输入。没有时间戳时 hours_old 为 -1。
func BuildInput(item *core.Item, rctx *core.RecommendContext, now time.Time) map[string]any {
	content := map[string]any{
		"id":         item.ID,
		"owner":      item.OwnerID(),
		"kind":       string(item.Kind),
		"media_type": "",
		"likes":      int64(0),
		"views":      int64(1),
		"comments":   int64(0),
		"shares":     int64(0),
		"hours_old":  -1.0,
	}
	if rec := item.Record; rec != nil {
		content["media_type"] = rec.MediaType
		content["likes"] = rec.Likes
		content["views"] = int64(rec.SafeViews())
		content["comments"] = rec.Comments
		content["shares"] = rec.Shares
		if h, ok := rec.HoursOld(now); ok {
			content["hours_old"] = h
		}
	}

	user := map[string]any{"id": "", "follows_owner": false}
	if rctx != nil {
		user["id"] = rctx.UserID
		user["follows_owner"] = rctx.Follows(item.OwnerID())
	}

	labels := make(map[string]any, len(item.Labels))
	for k, v := range item.Labels {
		labels[k] = map[string]any{"value": v.Value, "source": v.Source}
	}
	return map[string]any{"content": content, "user": user, "label": labels}
}
