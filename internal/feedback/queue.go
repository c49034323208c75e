package feedback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/goplus"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

var ErrRejected = errors.New("feedback: rejected by sink")

type QueueConfig struct {
	Size        int
	MaxRetry    int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// Queue 异步投递队列，满时丢弃，不阻塞平仓流程
type Queue struct {
	cfg   QueueConfig
	sink  Sink
	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func NewQueue(cfg QueueConfig, sink Sink) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Queue{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.Size),
		done:  make(chan struct{}),
	}
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case e := <-q.queue:
			q.deliver(e)
			monitor.SetFeedbackQueueSize(len(q.queue))
		case <-q.done:
			// 退出前尽量投递剩余事件
			for {
				select {
				case e := <-q.queue:
					q.deliver(e)
				default:
					return
				}
			}
		}
	}
}

// Emit 入队，队列满或已停止时返回 false
func (q *Queue) Emit(e Event) bool {
	select {
	case <-q.done:
		monitor.IncFeedback("dropped")
		return false
	default:
	}

	select {
	case q.queue <- e:
		monitor.SetFeedbackQueueSize(len(q.queue))
		return true
	default:
		monitor.IncFeedback("dropped")
		logger.Warn().
			Str("position_id", e.PositionID).
			Int("queue_size", len(q.queue)).
			Msg("feedback queue full, event dropped")
		return false
	}
}

// deliver 按固定间隔重试，最终失败只记录日志
func (q *Queue) deliver(e Event) {
	var lastErr error
	for attempt := 0; attempt <= q.cfg.MaxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(q.cfg.RetryDelay):
			case <-q.done:
				// 停止时不再等待重试间隔
			}
		}

		lastErr = goplus.SafeRun(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), q.cfg.SendTimeout)
			defer cancel()
			ok, err := q.sink.SendTradeFeedback(ctx, e)
			if err != nil {
				return err
			}
			if !ok {
				return ErrRejected
			}
			return nil
		})
		if lastErr == nil {
			monitor.IncFeedback("sent")
			return
		}
		if errors.Is(lastErr, ErrRejected) {
			break
		}
	}

	monitor.IncFeedback("failed")
	logger.Error().Err(lastErr).
		Str("position_id", e.PositionID).
		Str("symbol", e.Symbol).
		Msg("send trade feedback failed")
}

// Stop 停止接收并排空队列
func (q *Queue) Stop() {
	q.once.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}

func (q *Queue) Size() int {
	return len(q.queue)
}

func (q *Queue) Stats() map[string]any {
	return map[string]any{
		"queue_size": len(q.queue),
		"capacity":   cap(q.queue),
	}
}
