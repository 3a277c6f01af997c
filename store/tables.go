package store

import "github.com/rushteam/feedrank/core"

// Tables 是外部存储中的表名配置。
type Tables struct {
	Posts             string `koanf:"posts"`
	Videos            string `koanf:"videos"`
	Follows           string `koanf:"follows"`
	Behavior          string `koanf:"behavior"`
	UserEmbeddings    string `koanf:"user_embeddings"`
	ContentEmbeddings string `koanf:"content_embeddings"`
}

// DefaultTables 返回线上沿用的表名。
func DefaultTables() Tables {
	return Tables{
		Posts:             "Buddylynk_Posts",
		Videos:            "buddylynk-ott-videos",
		Follows:           "Buddylynk_Follows",
		Behavior:          "Buddylynk_UserBehavior",
		UserEmbeddings:    "Buddylynk_UserEmbeddings",
		ContentEmbeddings: "Buddylynk_ContentEmbeddings",
	}
}

// 分区表的索引字段
const (
	FollowerField  = "followerId"
	FollowingField = "followingId"
	UserIDField    = "userId"
	TimestampField = "timestamp"
)

// DefaultSchemas 返回需要 Query 的表的索引字段：
// follows 按 followerId 分区；behavior 按 userId 分区、毫秒时间戳排序。
func DefaultSchemas(t Tables) Schemas {
	return Schemas{
		t.Follows:  core.TableSchema{PartitionKey: FollowerField},
		t.Behavior: core.TableSchema{PartitionKey: UserIDField, RangeKey: TimestampField},
	}
}
