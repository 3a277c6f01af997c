package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/rushteam/feedrank/pkg/conv"
)

// ContentKind 是候选内容的类型：短内容（post）与长视频（video）。
type ContentKind string

const (
	KindPost  ContentKind = "post"
	KindVideo ContentKind = "video"
)

// KindFilter 是推荐请求的内容类型过滤条件。
type KindFilter string

const (
	FilterAll    KindFilter = "all"
	FilterPosts  KindFilter = "posts"
	FilterVideos KindFilter = "videos"
)

// ParseKindFilter 解析内容类型过滤条件，空串视为 all，其余未知值返回 INVALID_INPUT。
func ParseKindFilter(s string) (KindFilter, error) {
	switch KindFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterPosts:
		return FilterPosts, nil
	case FilterVideos:
		return FilterVideos, nil
	}
	return "", InvalidInput(ModuleEngine, "unknown content kind filter %q (want all, posts or videos)", s)
}

// IncludesPosts 过滤条件是否包含 post，零值等同 all。
func (f KindFilter) IncludesPosts() bool { return f == "" || f == FilterAll || f == FilterPosts }

// IncludesVideos 过滤条件是否包含 video，零值等同 all。
func (f KindFilter) IncludesVideos() bool { return f == "" || f == FilterAll || f == FilterVideos }

// ContentRecord 是外部存储中内容记录的强类型视图。
// 计数字段缺失时为 0；Views 缺失或非正时为 1，避免除零。
// OwnerID 取 userId/creatorId/ownerId 中第一个非空值，CreatorID 单独保留 creatorId。
type ContentRecord struct {
	ID        string
	OwnerID   string
	CreatorID string
	Kind      ContentKind
	MediaType string
	Likes     int64
	Views     int64
	Comments  int64
	Shares    int64
	// CreatedAt 缺失或无法解析时为 nil
	CreatedAt *time.Time
}

// SafeViews 返回 max(Views, 1)。
func (r *ContentRecord) SafeViews() float64 {
	if r.Views < 1 {
		return 1
	}
	return float64(r.Views)
}

// OwnedBy 判断 userID 是否是该内容的发布者，userId 与 creatorId 任一匹配即可。
func (r *ContentRecord) OwnedBy(userID string) bool {
	if r == nil || userID == "" {
		return false
	}
	return r.OwnerID == userID || r.CreatorID == userID
}

// HoursOld 返回相对 now 的小时数；没有可用时间戳时 ok=false。
func (r *ContentRecord) HoursOld(now time.Time) (float64, bool) {
	if r == nil || r.CreatedAt == nil {
		return 0, false
	}
	return now.Sub(*r.CreatedAt).Hours(), true
}

// RecordFromItem 从外部存储的原始记录构建 ContentRecord，兼容上游多种字段命名。
// 任何字段缺失或格式错误都降级为默认值，不返回错误。
func RecordFromItem(kind ContentKind, item Record) *ContentRecord {
	rec := &ContentRecord{Kind: kind}
	if item == nil {
		rec.Views = 1
		return rec
	}
	rec.ID = conv.FirstString(item, "postId", "videoId", "contentId", "id")
	rec.OwnerID = conv.FirstString(item, "userId", "creatorId", "ownerId")
	rec.CreatorID = conv.FirstString(item, "creatorId")
	rec.MediaType = conv.FirstString(item, "mediaType")
	rec.Likes = nonNegative(conv.FirstInt64(item, "likes", "likeCount"))
	rec.Views = nonNegative(conv.FirstInt64(item, "viewCount", "views"))
	if rec.Views < 1 {
		rec.Views = 1
	}
	rec.Comments = nonNegative(conv.FirstInt64(item, "commentsCount", "commentCount"))
	rec.Shares = nonNegative(conv.FirstInt64(item, "shares"))
	if ts, ok := ParseTimestamp(item["createdAt"]); ok {
		rec.CreatedAt = &ts
	}
	return rec
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// ParseTimestamp 解析时间戳：RFC3339（含 Z 后缀）、无时区的 ISO 格式，或 unix 秒/毫秒。
func ParseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return val, !val.IsZero()
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixTimestamp(n), true
		}
		return time.Time{}, false
	}
	if n, ok := conv.ToInt64(v); ok && n > 0 {
		return unixTimestamp(n), true
	}
	return time.Time{}, false
}

// 大于 1e12 视为毫秒
func unixTimestamp(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
