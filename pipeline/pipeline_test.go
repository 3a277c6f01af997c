package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rushteam/feedrank/core"
)

type funcNode struct {
	name string
	fn   func([]*core.Item) ([]*core.Item, error)
}

func (n *funcNode) Name() string { return n.name }
func (n *funcNode) Kind() Kind   { return KindFilter }
func (n *funcNode) Process(_ context.Context, _ *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	return n.fn(items)
}

func TestPipeline_RunInOrder(t *testing.T) {
	var order []string
	appendNode := func(name, id string) Node {
		return &funcNode{name: name, fn: func(items []*core.Item) ([]*core.Item, error) {
			order = append(order, name)
			return append(items, core.NewItem(&core.ContentRecord{ID: id})), nil
		}}
	}
	p := &Pipeline{Nodes: []Node{appendNode("a", "1"), appendNode("b", "2")}}

	out, err := p.Run(context.Background(), &core.RecommendContext{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != "1" || out[1].ID != "2" {
		t.Errorf("out = %v", out)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v", order)
	}
}

func TestPipeline_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	p := &Pipeline{Nodes: []Node{
		&funcNode{name: "bad", fn: func([]*core.Item) ([]*core.Item, error) { return nil, boom }},
		&funcNode{name: "next", fn: func(items []*core.Item) ([]*core.Item, error) { called = true; return items, nil }},
	}}
	_, err := p.Run(context.Background(), nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err.Error() != "pipeline node bad: boom" {
		t.Errorf("err = %q", err.Error())
	}
	if called {
		t.Error("node after a failure should not run")
	}
}

func TestPipeline_Empty(t *testing.T) {
	out, err := (&Pipeline{}).Run(context.Background(), nil, nil)
	if err != nil || out != nil {
		t.Errorf("out = %v, err = %v", out, err)
	}
}
