package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/conv"
)

// Fixture 是种子数据文件的结构：
//
//	posts:
//	  - postId: p1
//	    userId: u2
//	    likes: 10
//	    createdAt: "2026-01-02T15:04:05Z"
//	videos: [...]
//	follows:
//	  - followerId: u1
//	    followingId: u2
//	behavior:
//	  - userId: u1
//	    timestamp: 1767366245000
//	    contentId: p1
//	    actionType: 1
type Fixture struct {
	Posts    []core.Record `yaml:"posts"`
	Videos   []core.Record `yaml:"videos"`
	Follows  []core.Record `yaml:"follows"`
	Behavior []core.Record `yaml:"behavior"`
}

// FixtureStats 记录每张表写入的条数。
type FixtureStats struct {
	Posts    int `json:"posts"`
	Videos   int `json:"videos"`
	Follows  int `json:"follows"`
	Behavior int `json:"behavior"`
}

// ParseFixture 解析 YAML 种子数据。
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

// LoadFixture 读取 path 并写入 ext。
func LoadFixture(ctx context.Context, ext core.ExternalStore, path string, tables Tables) (FixtureStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FixtureStats{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return FixtureStats{}, err
	}
	return f.Apply(ctx, ext, tables)
}

// Apply 把种子数据写入 ext。缺少主键的记录被跳过。
func (f *Fixture) Apply(ctx context.Context, ext core.ExternalStore, tables Tables) (FixtureStats, error) {
	var stats FixtureStats
	var err error

	if stats.Posts, err = putAll(ctx, ext, tables.Posts, f.Posts, postKey); err != nil {
		return stats, err
	}
	if stats.Videos, err = putAll(ctx, ext, tables.Videos, f.Videos, videoKey); err != nil {
		return stats, err
	}
	if stats.Follows, err = putAll(ctx, ext, tables.Follows, f.Follows, followKey); err != nil {
		return stats, err
	}
	if stats.Behavior, err = putAll(ctx, ext, tables.Behavior, f.Behavior, behaviorKey); err != nil {
		return stats, err
	}
	return stats, nil
}

func putAll(ctx context.Context, ext core.ExternalStore, table string, items []core.Record, keyOf func(core.Record) string) (int, error) {
	n := 0
	for _, item := range items {
		key := keyOf(item)
		if key == "" {
			continue
		}
		if err := ext.PutItem(ctx, table, key, item); err != nil {
			return n, fmt.Errorf("seed %s/%s: %w", table, key, err)
		}
		n++
	}
	return n, nil
}

func postKey(item core.Record) string {
	return conv.FirstString(item, "postId", "contentId", "id")
}

func videoKey(item core.Record) string {
	return conv.FirstString(item, "videoId", "contentId", "id")
}

func followKey(item core.Record) string {
	follower := conv.FirstString(item, FollowerField)
	following := conv.FirstString(item, FollowingField)
	if follower == "" || following == "" {
		return ""
	}
	return follower + "#" + following
}

func behaviorKey(item core.Record) string {
	user := conv.FirstString(item, UserIDField)
	if user == "" {
		return ""
	}
	ts, _ := conv.ToString(item[TimestampField])
	return user + "#" + ts + "#" + conv.FirstString(item, "contentId", "postId", "videoId")
}
