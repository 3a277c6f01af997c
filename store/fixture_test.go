package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/conv"
)

const fixtureYAML = `
posts:
  - postId: p1
    userId: u2
    likes: 10
    viewCount: 100
    createdAt: "2026-01-02T15:04:05Z"
  - userId: u3
    likes: 1
videos:
  - videoId: v1
    creatorId: u4
follows:
  - followerId: u1
    followingId: u2
  - followerId: u1
    followingId: u4
behavior:
  - userId: u1
    timestamp: 1767366245000
    contentId: p1
    actionType: 1
`

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s := NewMemoryStore(DefaultSchemas(testTables))

	stats, err := LoadFixture(ctx, s, path, testTables)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	want := FixtureStats{Posts: 1, Videos: 1, Follows: 2, Behavior: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	post, err := s.GetItem(ctx, testTables.Posts, "p1")
	if err != nil {
		t.Fatalf("GetItem p1: %v", err)
	}
	if n, _ := conv.ToInt64(post["likes"]); n != 10 {
		t.Errorf("likes = %v", post["likes"])
	}

	follows, _ := s.Query(ctx, testTables.Follows, "u1", core.QueryOptions{})
	if len(follows) != 2 {
		t.Errorf("u1 follows %d users, want 2", len(follows))
	}
}

func TestLoadFixture_Errors(t *testing.T) {
	s := NewMemoryStore(nil)
	if _, err := LoadFixture(context.Background(), s, filepath.Join(t.TempDir(), "missing.yaml"), testTables); err == nil {
		t.Error("缺失文件应返回错误")
	}
	if _, err := ParseFixture([]byte("posts: [:")); err == nil {
		t.Error("非法 YAML 应返回错误")
	}
}
