package filter

import (
	"context"
	"time"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/dsl"
)

// ExprFilter 用 CEL 表达式筛选候选：表达式为 false 的候选被过滤。
type ExprFilter struct {
	prg *dsl.Program
	now func() time.Time
}

// NewExprFilter 编译表达式，编译失败返回 INVALID_INPUT。
func NewExprFilter(expr string) (*ExprFilter, error) {
	prg, err := dsl.Compile(expr)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleEngine, core.ErrorCodeInvalidInput, "invalid candidate filter", err)
	}
	return &ExprFilter{prg: prg, now: time.Now}, nil
}

func (f *ExprFilter) Name() string { return "filter.expr" }

// Expr 返回原始表达式。
func (f *ExprFilter) Expr() string { return f.prg.String() }

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	keep, err := f.prg.Eval(item, rctx, f.now())
	if err != nil {
		return false, err
	}
	return !keep, nil
}
