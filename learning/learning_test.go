package learning

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/profile"
	"github.com/rushteam/feedrank/store"
	"github.com/rushteam/feedrank/vector"
)

func newProfiles(t *testing.T) *profile.Store {
	t.Helper()
	p, err := profile.New(store.NewMemoryStore(nil), store.NewTTLCache(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newLoop(t *testing.T, p Profiles) *Loop {
	t.Helper()
	l, err := NewLoop(p)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestNewLoop_Uninitialized(t *testing.T) {
	if _, err := NewLoop(nil); !core.IsUninitialized(err) {
		t.Errorf("err = %v, want UNINITIALIZED", err)
	}
}

func TestApply_SaveMovesTowardContent(t *testing.T) {
	ctx := context.Background()
	profiles := newProfiles(t)
	loop := newLoop(t, profiles)

	target := profiles.GetContentVector(ctx, "c1", nil)
	before := vector.Similarity(profiles.GetUserVector(ctx, "u1"), target)

	updated, err := loop.Apply(ctx, core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionSave}, nil)
	if err != nil {
		t.Fatal(err)
	}
	after := vector.Similarity(updated, target)
	if after <= before {
		t.Errorf("similarity %v -> %v, want increase", before, after)
	}
	// 新向量已写回
	if got := profiles.GetUserVector(ctx, "u1"); vector.Similarity(got, updated) < 0.999999 {
		t.Error("updated vector not persisted")
	}
}

func TestApply_Direction(t *testing.T) {
	tests := []struct {
		name   string
		action core.Action
		closer bool
	}{
		{"like pulls", core.ActionLike, true},
		{"share pulls", core.ActionShare, true},
		{"skip pushes", core.ActionSkip, false},
		{"unlike pushes", core.ActionUnlike, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			profiles := newProfiles(t)
			loop := newLoop(t, profiles)
			rec := &core.ContentRecord{ID: "c1", Likes: 10, Views: 100}
			target := profiles.GetContentVector(ctx, "c1", rec)

			prev := vector.Similarity(profiles.GetUserVector(ctx, "u1"), target)
			for i := 0; i < 3; i++ {
				v, err := loop.Apply(ctx, core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: tt.action}, rec)
				if err != nil {
					t.Fatal(err)
				}
				sim := vector.Similarity(v, target)
				if tt.closer && sim < prev-1e-9 {
					t.Fatalf("step %d: similarity %v -> %v, want non-decreasing", i, prev, sim)
				}
				if !tt.closer && sim > prev+1e-9 {
					t.Fatalf("step %d: similarity %v -> %v, want non-increasing", i, prev, sim)
				}
				if n := vector.Norm(v); n > vector.MaxNorm+1e-9 {
					t.Fatalf("norm = %v", n)
				}
				prev = sim
			}
		})
	}
}

func TestApply_UnknownActionNoop(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(nil)
	profiles, err := profile.New(mem, store.NewTTLCache(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	loop := newLoop(t, profiles)
	before := profiles.GetUserVector(ctx, "u1")

	tests := []struct {
		name      string
		contentID string
		rec       *core.ContentRecord
		persisted bool
	}{
		{name: "without record", contentID: "c1"},
		{name: "with record", contentID: "c2", rec: &core.ContentRecord{ID: "c2", Kind: core.KindPost, Likes: 10}, persisted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loop.Apply(ctx, core.InteractionEvent{UserID: "u1", ContentID: tt.contentID, Action: core.Action(42)}, tt.rec)
			if err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			for i := range before {
				if got[i] != before[i] {
					t.Fatal("unknown action changed the user vector")
				}
			}
			_, err = mem.GetItem(ctx, store.DefaultTables().ContentEmbeddings, tt.contentID)
			if tt.persisted && err != nil {
				t.Errorf("content vector not persisted: %v", err)
			}
			if !tt.persisted && !core.IsStoreNotFound(err) {
				t.Errorf("content vector without record persisted: %v", err)
			}
		})
	}
	if _, contents := profiles.Counts(); contents != 1 {
		t.Errorf("cached content vectors = %d, want 1", contents)
	}
	if after := profiles.GetUserVector(ctx, "u1"); after[0] != before[0] {
		t.Error("stored user vector changed")
	}
}

// gatedStore 在第一次命中指定表的 GetItem / PutItem 时阻塞，直到测试放行。
// GetItem 先读出数据再阻塞，用来模拟读穿已拿到旧值、尚未回填缓存。
type gatedStore struct {
	*store.MemoryStore
	table string

	getArmed, putArmed     atomic.Bool
	getEntered, putEntered chan struct{}
	getRelease, putRelease chan struct{}
}

func newGatedStore(table string) *gatedStore {
	return &gatedStore{
		MemoryStore: store.NewMemoryStore(nil),
		table:       table,
		getEntered:  make(chan struct{}),
		putEntered:  make(chan struct{}),
		getRelease:  make(chan struct{}),
		putRelease:  make(chan struct{}),
	}
}

func (g *gatedStore) GetItem(ctx context.Context, table, key string) (core.Record, error) {
	item, err := g.MemoryStore.GetItem(ctx, table, key)
	if table == g.table && g.getArmed.CompareAndSwap(true, false) {
		close(g.getEntered)
		<-g.getRelease
	}
	return item, err
}

func (g *gatedStore) PutItem(ctx context.Context, table, key string, item core.Record) error {
	if table == g.table && g.putArmed.CompareAndSwap(true, false) {
		close(g.putEntered)
		<-g.putRelease
	}
	return g.MemoryStore.PutItem(ctx, table, key, item)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// 排序读在缓存过期后读穿，同时 Apply 写入了新向量：读者回填不能把缓存改回旧值。
func TestApply_ConcurrentReadDoesNotRevertSave(t *testing.T) {
	ctx := context.Background()
	gs := newGatedStore(store.DefaultTables().UserEmbeddings)
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	profiles, err := profile.New(gs, store.NewTTLCache(time.Minute, store.WithCacheClock(clock.Now)))
	if err != nil {
		t.Fatal(err)
	}
	loop := newLoop(t, profiles)

	v0 := profiles.GetUserVector(ctx, "u1")
	rec := &core.ContentRecord{ID: "c1", Kind: core.KindPost, Likes: 900, Views: 1000}

	gs.putArmed.Store(true)
	applied := make(chan core.Vector, 1)
	go func() {
		v, err := loop.Apply(ctx, core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionSave}, rec)
		if err != nil {
			t.Errorf("Apply: %v", err)
		}
		applied <- v
	}()
	<-gs.putEntered

	clock.Advance(2 * time.Minute)
	gs.getArmed.Store(true)
	read := make(chan core.Vector, 1)
	go func() { read <- profiles.GetUserVector(ctx, "u1") }()
	<-gs.getEntered

	close(gs.putRelease)
	v1 := <-applied
	close(gs.getRelease)
	readerGot := <-read

	if vector.Similarity(v1, v0) > 0.9999 {
		t.Fatal("SAVE did not move the user vector")
	}
	for name, got := range map[string]core.Vector{"reader": readerGot, "cache": profiles.GetUserVector(ctx, "u1")} {
		for i := range v1 {
			if got[i] != v1[i] {
				t.Fatalf("%s got the pre-update vector, sim(v0)=%f", name, vector.Similarity(got, v0))
			}
		}
	}
}

func TestApply_InvalidEvent(t *testing.T) {
	loop := newLoop(t, newProfiles(t))
	tests := []core.InteractionEvent{
		{ContentID: "c1"},
		{UserID: "u1"},
		{UserID: "u1", ContentID: "c1", WatchTime: -1},
	}
	for _, ev := range tests {
		if _, err := loop.Apply(context.Background(), ev, nil); !core.IsInvalidInput(err) {
			t.Errorf("event %+v: err = %v, want INVALID_INPUT", ev, err)
		}
	}
}

// recordingProfiles 记录每次 Save 前读到的版本，用于检测丢失更新。
type recordingProfiles struct {
	mu      sync.Mutex
	user    map[string]core.Vector
	saves   int
	saveErr error
}

func (p *recordingProfiles) GetUserVector(_ context.Context, id string) core.Vector {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.user[id]; ok {
		return v.Clone()
	}
	return make(core.Vector, 4)
}

func (p *recordingProfiles) GetContentVector(context.Context, string, *core.ContentRecord) core.Vector {
	return core.Vector{1, 0, 0, 0}
}

func (p *recordingProfiles) SaveUserVector(_ context.Context, id string, v core.Vector) error {
	// 放大读-改-写窗口
	time.Sleep(time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user[id] = v.Clone()
	p.saves++
	return p.saveErr
}

func TestApply_ConcurrentSameUserNoLostUpdate(t *testing.T) {
	const n = 20
	p := &recordingProfiles{user: map[string]core.Vector{}}
	loop, _ := NewLoop(p, WithLearningRate(0.01))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = loop.Apply(context.Background(), core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionView}, nil)
		}()
	}
	wg.Wait()

	// 串行执行时 x_k = 1 - (1 - 0.01)^k
	want := 1.0
	for i := 0; i < n; i++ {
		want *= 0.99
	}
	want = 1 - want
	got := p.GetUserVector(context.Background(), "u1")[0]
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("x = %v, want %v (lost update)", got, want)
	}
	if loop.locks.size() != 0 {
		t.Errorf("lock map not released: %d", loop.locks.size())
	}
}

func TestApply_SaveErrorNotSurfaced(t *testing.T) {
	p := &recordingProfiles{user: map[string]core.Vector{}, saveErr: errors.New("down")}
	loop, _ := NewLoop(p)
	v, err := loop.Apply(context.Background(), core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionLike}, nil)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if v[0] <= 0 {
		t.Errorf("v = %v, want moved toward content", v)
	}
}

func TestWithLearningRate(t *testing.T) {
	p := &recordingProfiles{user: map[string]core.Vector{}}
	tests := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{1, 1},
		{0, core.DefaultLearningRate},
		{1.5, core.DefaultLearningRate},
	}
	for _, tt := range tests {
		l, _ := NewLoop(p, WithLearningRate(tt.in))
		if l.LearningRate() != tt.want {
			t.Errorf("WithLearningRate(%v) = %v, want %v", tt.in, l.LearningRate(), tt.want)
		}
	}
}

func TestWorker_DrainsOnClose(t *testing.T) {
	p := &recordingProfiles{user: map[string]core.Vector{}}
	loop, _ := NewLoop(p)
	w := NewWorker(loop, 2, 64)

	accepted := 0
	for i := 0; i < 30; i++ {
		if w.Submit(Job{Event: core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionLike}}) {
			accepted++
		}
	}
	w.Close()
	if got := w.Processed(); got != int64(accepted) {
		t.Errorf("processed = %d, want %d", got, accepted)
	}
	if w.Submit(Job{}) {
		t.Error("Submit after Close should return false")
	}
	if err := w.Enqueue(context.Background(), Job{}); !core.IsUnavailable(err) {
		t.Errorf("Enqueue after Close: err = %v", err)
	}
	w.Close()
}

func TestWorker_SubmitNonBlockingWhenFull(t *testing.T) {
	block := make(chan struct{})
	p := &blockingProfiles{recordingProfiles: recordingProfiles{user: map[string]core.Vector{}}, block: block}
	loop, _ := NewLoop(p)
	w := NewWorker(loop, 1, 1)

	ev := core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionLike}
	// 第一个被 worker 取走并阻塞，第二个占满队列
	w.Submit(Job{Event: ev})
	deadline := time.Now().Add(time.Second)
	for !w.Submit(Job{Event: ev}) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	done := make(chan bool)
	go func() { done <- w.Submit(Job{Event: ev}) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("Submit on full queue should return false")
		}
	case <-time.After(time.Second):
		t.Fatal("Submit blocked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.Enqueue(ctx, Job{Event: ev}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue on full queue: err = %v", err)
	}
	close(block)
	w.Close()
}

type blockingProfiles struct {
	recordingProfiles
	block chan struct{}
}

func (p *blockingProfiles) SaveUserVector(ctx context.Context, id string, v core.Vector) error {
	<-p.block
	return p.recordingProfiles.SaveUserVector(ctx, id, v)
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    core.Action
		wantErr bool
	}{
		{"numeric action", `{"user_id":"u1","content_id":"c1","action_type":4,"watch_time":12.5}`, core.ActionSave, false},
		{"named action", `{"user_id":"u1","content_id":"c1","action_type":"like"}`, core.ActionLike, false},
		{"missing user", `{"content_id":"c1","action_type":1}`, 0, true},
		{"bad json", `{"user_id":`, 0, true},
		{"unknown name", `{"user_id":"u1","content_id":"c1","action_type":"poke"}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.in))
			if tt.wantErr {
				if !core.IsInvalidInput(err) {
					t.Errorf("err = %v, want INVALID_INPUT", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ev.Action != tt.want || ev.UserID != "u1" || ev.ContentID != "c1" {
				t.Errorf("ev = %+v", ev)
			}
		})
	}
}

func TestNewKafka_InvalidConfig(t *testing.T) {
	loop, _ := NewLoop(&recordingProfiles{user: map[string]core.Vector{}})
	w := NewWorker(loop, 1, 1)
	defer w.Close()

	if _, err := NewKafkaConsumer(KafkaConfig{Topic: "t"}, w); !core.IsInvalidInput(err) {
		t.Errorf("no brokers: err = %v", err)
	}
	if _, err := NewKafkaConsumer(KafkaConfig{Brokers: []string{"b"}, Topic: "t"}, nil); !core.IsUninitialized(err) {
		t.Errorf("nil worker: err = %v", err)
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"b"}}); !core.IsInvalidInput(err) {
		t.Errorf("no topic: err = %v", err)
	}
}

// 需要真实 Kafka：FEEDRANK_KAFKA_BROKERS=localhost:9092
func TestKafka_RoundTrip(t *testing.T) {
	brokers := os.Getenv("FEEDRANK_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("FEEDRANK_KAFKA_BROKERS not set")
	}
	cfg := KafkaConfig{
		Brokers: strings.Split(brokers, ","),
		Topic:   "feedrank.test." + time.Now().Format("150405.000"),
		GroupID: "feedrank-test",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pub, err := NewKafkaPublisher(cfg)
	if err != nil {
		t.Fatal(err)
	}
	pub.writer.AllowAutoTopicCreation = true
	defer pub.Close()
	if err := pub.Publish(ctx, core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionSave}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	profiles := newProfiles(t)
	loop := newLoop(t, profiles)
	w := NewWorker(loop, 1, 8)
	consumer, err := NewKafkaConsumer(cfg, w)
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close()

	runCtx, stop := context.WithCancel(ctx)
	go func() { _ = consumer.Run(runCtx) }()
	for w.Processed() == 0 && ctx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}
	stop()
	w.Close()
	if w.Processed() == 0 {
		t.Fatal("no event consumed")
	}
}

// fakeReader 按顺序返回 msgs，之后返回 errs 中的错误（最后一个重复返回）。
type fakeReader struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	errs    []error
	fetches int
	commits []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		return m, nil
	}
	err := r.errs[0]
	if len(r.errs) > 1 {
		r.errs = r.errs[1:]
	}
	return kafka.Message{}, err
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.commits))
	for _, m := range r.commits {
		out = append(out, m.Offset)
	}
	return out
}

func TestKafkaConsumer_CommitsAfterApply(t *testing.T) {
	block := make(chan struct{})
	p := &blockingProfiles{recordingProfiles: recordingProfiles{user: map[string]core.Vector{}}, block: block}
	loop, _ := NewLoop(p)
	w := NewWorker(loop, 1, 8)

	valid := []byte(`{"user_id":"u1","content_id":"c1","action_type":"like"}`)
	r := &fakeReader{
		msgs: []kafka.Message{
			{Partition: 0, Offset: 10, Value: valid},
			{Partition: 0, Offset: 11, Value: []byte(`{"user_id":`)},
			{Partition: 0, Offset: 12, Value: valid},
		},
		errs: []error{io.EOF},
	}
	c := newKafkaConsumer(r, "interactions", w)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 10 还在 Apply 中，后面已完成的 11 也不能先提交
	if got := r.committed(); len(got) != 0 {
		t.Errorf("committed before apply = %v, want none", got)
	}

	close(block)
	w.Close()
	got := r.committed()
	if len(got) == 0 || got[len(got)-1] != 12 {
		t.Fatalf("committed = %v, want last 12", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("commits out of order: %v", got)
		}
	}
	if w.Processed() != 2 {
		t.Errorf("processed = %d, want 2", w.Processed())
	}
}

func TestKafkaConsumer_FetchErrors(t *testing.T) {
	loop, _ := NewLoop(&recordingProfiles{user: map[string]core.Vector{}})
	w := NewWorker(loop, 1, 1)
	defer w.Close()

	t.Run("closed reader returns", func(t *testing.T) {
		r := &fakeReader{errs: []error{io.EOF}}
		if err := newKafkaConsumer(r, "t", w).Run(context.Background()); err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
		if r.fetches != 1 {
			t.Errorf("fetches = %d, want 1", r.fetches)
		}
	})

	t.Run("transient errors back off", func(t *testing.T) {
		r := &fakeReader{errs: []error{errors.New("broker down")}}
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		if err := newKafkaConsumer(r, "t", w).Run(ctx); err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
		// 退避 100ms、200ms，一轮超时内只会拉取少数几次
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.fetches < 2 || r.fetches > 4 {
			t.Errorf("fetches = %d, want backoff between retries", r.fetches)
		}
	})
}

func TestWorker_DoneAfterApply(t *testing.T) {
	p := &recordingProfiles{user: map[string]core.Vector{}}
	loop, _ := NewLoop(p)
	w := NewWorker(loop, 1, 4)

	results := make(chan error, 2)
	saves := make(chan int, 2)
	done := func(err error) {
		p.mu.Lock()
		saves <- p.saves
		p.mu.Unlock()
		results <- err
	}
	w.Submit(Job{Event: core.InteractionEvent{UserID: "u1", ContentID: "c1", Action: core.ActionLike}, Done: done})
	w.Submit(Job{Event: core.InteractionEvent{ContentID: "c1", Action: core.ActionLike}, Done: done})
	w.Close()

	if n := <-saves; n != 1 {
		t.Errorf("saves when Done ran = %d, want 1", n)
	}
	if err := <-results; err != nil {
		t.Errorf("first job err = %v", err)
	}
	<-saves
	if err := <-results; !core.IsInvalidInput(err) {
		t.Errorf("invalid job err = %v, want INVALID_INPUT", err)
	}
}
