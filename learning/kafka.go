package learning

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logging"
)

// KafkaConfig 是交互事件 topic 的连接参数。
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

func (c KafkaConfig) validate() error {
	if len(c.Brokers) == 0 {
		return core.InvalidInput(core.ModuleLearning, "kafka brokers are required")
	}
	if c.Topic == "" {
		return core.InvalidInput(core.ModuleLearning, "kafka topic is required")
	}
	return nil
}

// DecodeEvent 解析一条交互消息：{"user_id","content_id","action_type","watch_time"}。
func DecodeEvent(value []byte) (core.InteractionEvent, error) {
	var ev core.InteractionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, core.WrapDomainError(core.ModuleLearning, core.ErrorCodeInvalidInput, "decode interaction", err)
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}

// 拉取失败时的退避区间
const (
	fetchBackoffMin = 100 * time.Millisecond
	fetchBackoffMax = 5 * time.Second
	commitTimeout   = 5 * time.Second
)

// messageReader 是 KafkaConsumer 用到的 *kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer 从 Kafka 消费交互事件并投递给 Worker。
// offset 在 Worker 执行完 Apply 之后才提交，同一分区按 offset 顺序提交，
// 进程崩溃时未提交的消息会被重新投递。无法解析的消息记录日志后跳过并提交。
type KafkaConsumer struct {
	reader  messageReader
	topic   string
	worker  *Worker
	offsets *offsetTracker
	log     zerolog.Logger

	commitMu  sync.Mutex
	committed map[int]int64
}

// NewKafkaConsumer 创建消费者。
func NewKafkaConsumer(cfg KafkaConfig, worker *Worker) (*KafkaConsumer, error) {
	if worker == nil {
		return nil, core.Uninitialized(core.ModuleLearning, "worker")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	return newKafkaConsumer(reader, cfg.Topic, worker), nil
}

func newKafkaConsumer(reader messageReader, topic string, worker *Worker) *KafkaConsumer {
	return &KafkaConsumer{
		reader:    reader,
		topic:     topic,
		worker:    worker,
		offsets:   newOffsetTracker(),
		log:       logging.Component("learning.kafka"),
		committed: make(map[int]int64),
	}
}

// Run 阻塞消费直到 ctx 结束或 reader 被关闭，这两种情况都返回 nil。
// Worker 已关闭时返回错误，已拉取未投递的消息不提交。
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.log.Info().Str("topic", c.topic).Msg("kafka consumer started")
	backoff := fetchBackoffMin
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.log.Info().Msg("kafka consumer stopped")
				return nil
			}
			c.log.Error().Err(err).Dur("backoff", backoff).Msg("fetch message failed")
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin

		c.offsets.track(msg)
		ev, err := decodeMessage(msg)
		if err != nil {
			c.log.Warn().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("skip interaction message")
			c.complete(msg)
			continue
		}
		job := Job{Event: ev, Done: func(error) { c.complete(msg) }}
		if err := c.worker.Enqueue(ctx, job); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func decodeMessage(msg kafka.Message) (core.InteractionEvent, error) {
	ev, err := DecodeEvent(msg.Value)
	if err != nil {
		return ev, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = msg.Time
	}
	return ev, nil
}

// complete 标记消息处理完成，并提交该分区已连续完成的最大 offset。
// Worker 的多个 goroutine 会并发调用。
func (c *KafkaConsumer) complete(msg kafka.Message) {
	next, ok := c.offsets.done(msg)
	if !ok {
		return
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if last, seen := c.committed[next.Partition]; seen && next.Offset <= last {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, next); err != nil {
		c.log.Error().Err(err).Int("partition", next.Partition).Int64("offset", next.Offset).Msg("commit message failed")
		return
	}
	c.committed[next.Partition] = next.Offset
}

// Close 关闭 reader。
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// offsetTracker 记录每个分区已拉取、未完成的 offset。
// 分区内拉取顺序即 offset 顺序，只有队首连续完成的部分才能提交。
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []int64
	done    map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.partitions[msg.Partition] = p
	}
	p.pending = append(p.pending, msg.Offset)
}

// done 返回可以提交的消息；队首仍未完成时返回 false。
func (t *offsetTracker) done(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[msg.Partition]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[msg.Offset] = msg

	var (
		last  kafka.Message
		found bool
	)
	for len(p.pending) > 0 {
		m, ok := p.done[p.pending[0]]
		if !ok {
			break
		}
		delete(p.done, p.pending[0])
		p.pending = p.pending[1:]
		last, found = m, true
	}
	return last, found
}

// KafkaPublisher 把交互事件写入 Kafka，消息 key 为用户 ID，同一用户的事件落在同一分区。
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher 创建发布者。
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
	}, nil
}

// Publish 发布一条交互事件。
func (p *KafkaPublisher) Publish(ctx context.Context, ev core.InteractionEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.UserID), Value: value}); err != nil {
		return core.WrapDomainError(core.ModuleLearning, core.ErrorCodeUnavailable, "publish interaction", err)
	}
	return nil
}

// Close 刷新并关闭 writer。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
