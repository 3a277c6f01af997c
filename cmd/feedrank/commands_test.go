package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/feedrank/config"
	"github.com/rushteam/feedrank/engine"
)

const demoFixture = `
posts:
  - postId: p1
    userId: u2
    likes: 10
    viewCount: 100
  - postId: own
    userId: u1
videos:
  - videoId: v1
    creatorId: u3
follows:
  - followerId: u1
    followingId: u2
behavior:
  - userId: u1
    timestamp: %d
    contentId: p1
    actionType: 1
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.yaml")
	body := strings.Replace(demoFixture, "%d", itoa(time.Now().UnixMilli()), 1)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.PathEnvVar, "CACHE_TTL", "EMBEDDING_DIM", "LEARNING_RATE", "FEEDRANK_STORE__BACKEND"} {
		t.Setenv(k, "")
	}
	t.Setenv("FEEDRANK_LOG__LEVEL", "disabled")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRecommendCmd(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "recommend", "u1", "--fixture", writeFixture(t), "--limit", "5")
	if err != nil {
		t.Fatalf("recommend: %v\n%s", err, out)
	}
	var resp struct {
		Count           int `json:"count"`
		Recommendations []struct {
			ContentID string `json:"contentId"`
			CreatorID string `json:"creatorId"`
		} `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2 (own post excluded)\n%s", resp.Count, out)
	}
	for _, r := range resp.Recommendations {
		if r.CreatorID == "u1" {
			t.Errorf("self recommendation: %+v", r)
		}
	}
}

func TestRecommendCmd_InvalidKind(t *testing.T) {
	isolateEnv(t)
	if _, err := execute(t, "recommend", "u1", "--kind", "music"); err == nil {
		t.Error("want error for unknown kind")
	}
}

func TestLearnCmd(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "learn", "u1", "p1", "save", "--fixture", writeFixture(t))
	if err != nil {
		t.Fatalf("learn: %v\n%s", err, out)
	}
	var resp struct {
		Action string  `json:"action"`
		Before float64 `json:"similarityBefore"`
		After  float64 `json:"similarityAfter"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if resp.Action != "SAVE" || resp.After <= resp.Before {
		t.Errorf("resp = %+v", resp)
	}
}

func TestLearnCmd_UnknownAction(t *testing.T) {
	isolateEnv(t)
	if _, err := execute(t, "learn", "u1", "p1", "poke"); err == nil {
		t.Error("want error for unknown action name")
	}
}

func TestSeedAndEmbeddingWithBadger(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	t.Setenv("FEEDRANK_STORE__BACKEND", "badger")
	t.Setenv("FEEDRANK_STORE__BADGER__DIR", dir)

	out, err := execute(t, "seed", writeFixture(t))
	if err != nil {
		t.Fatalf("seed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"posts": 2`) {
		t.Errorf("seed output = %s", out)
	}

	// 第二次进程内打开同一目录：首次访问创建的向量已持久化，两次结果一致
	first, err := execute(t, "embedding", "u1")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	second, err := execute(t, "embedding", "u1")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	if first != second {
		t.Errorf("embedding changed between runs:\n%s\n%s", first, second)
	}
	var emb struct {
		Size    int       `json:"embeddingSize"`
		Preview []float64 `json:"embeddingPreview"`
	}
	if err := json.Unmarshal([]byte(first), &emb); err != nil {
		t.Fatalf("decode embedding output: %v\n%s", err, first)
	}
	if emb.Size != 64 || len(emb.Preview) != 10 {
		t.Errorf("embedding size = %d, preview len = %d, want 64 and 10", emb.Size, len(emb.Preview))
	}
}

func TestStatsCmd_User(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "stats", "--user", "u1", "--fixture", writeFixture(t))
	if err != nil {
		t.Fatalf("stats: %v\n%s", err, out)
	}
	var resp struct {
		Engine engine.Stats `json:"engine"`
		User   struct {
			Following   int `json:"following"`
			Preferences struct {
				TotalInteractions int `json:"total_interactions"`
			} `json:"preferences"`
		} `json:"user"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if resp.User.Following != 1 || resp.User.Preferences.TotalInteractions != 1 {
		t.Errorf("user = %+v", resp.User)
	}
	if resp.Engine.ModelVersion == "" {
		t.Error("missing model version")
	}
}

func TestOpsRouter(t *testing.T) {
	isolateEnv(t)
	cfg := config.Default()
	cfg.Log.Level = "disabled"
	a, err := newApp(context.Background(), cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	srv := httptest.NewServer(newOpsRouter(a.engine))
	defer srv.Close()

	for _, path := range []string{"/metrics", "/healthz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
	resp, err := http.Post(srv.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /metrics status = %d", resp.StatusCode)
	}
}
