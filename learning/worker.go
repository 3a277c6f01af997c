package learning

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logging"
)

// Job 是一次待处理的交互。
type Job struct {
	Event  core.InteractionEvent
	Record *core.ContentRecord
	// Done 在 Apply 返回后调用，可为 nil。Kafka 消费者用它提交 offset。
	Done func(err error)
}

// Worker 用有界队列加固定数量的 goroutine 异步执行 Loop.Apply。
type Worker struct {
	loop *Loop
	jobs chan Job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker 创建并启动 Worker。workers、queueSize <= 0 时使用 1。
func NewWorker(loop *Loop, workers, queueSize int) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	w := &Worker{
		loop: loop,
		jobs: make(chan Job, queueSize),
	}
	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		// 离线处理，不跟随投递方的 ctx
		_, err := w.loop.Apply(context.Background(), job.Event, job.Record)
		if err != nil {
			w.failed.Add(1)
			logging.Warn().Err(err).
				Str("user", job.Event.UserID).
				Str("content", job.Event.ContentID).
				Msg("apply interaction failed")
		} else {
			w.processed.Add(1)
		}
		if job.Done != nil {
			job.Done(err)
		}
	}
}

// Submit 非阻塞投递，队列已满或 Worker 已关闭时返回 false。
func (w *Worker) Submit(job Job) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Enqueue 阻塞投递直到入队成功或 ctx 结束，用于需要背压的消费方。
func (w *Worker) Enqueue(ctx context.Context, job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return core.NewDomainError(core.ModuleLearning, core.ErrorCodeUnavailable, "worker is closed")
	}
	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新任务，等待队列中已有任务处理完。可重复调用。
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Processed 返回成功处理的任务数。
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Failed 返回处理失败的任务数。
func (w *Worker) Failed() int64 { return w.failed.Load() }
