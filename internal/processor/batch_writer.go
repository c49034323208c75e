package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/utrading/utrading-signal-engine/internal/dao"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/concurrent"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// SnapshotStore 批量写入持仓快照，实现需保证只更新 OPEN 记录
type SnapshotStore interface {
	UpdateSnapshots(ctx context.Context, snaps []dao.PositionSnapshot) error
}

// BatchWriterConfig 批量写入配置
type BatchWriterConfig struct {
	BatchSize     int           // 批量大小（默认 100）
	FlushInterval time.Duration // 刷新间隔（默认 1s）
	MaxQueueSize  int           // 最大队列大小（默认 10000）
	WriteTimeout  time.Duration
}

// BatchWriter 持仓快照批量写入器
// 同一持仓在一个批次内只保留最新快照
type BatchWriter struct {
	config    *BatchWriterConfig
	store     SnapshotStore
	queue     chan dao.PositionSnapshot
	buffers   concurrent.Map[string, dao.PositionSnapshot]
	flushMu   sync.Mutex
	flushTick *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func NewBatchWriter(store SnapshotStore, config *BatchWriterConfig) *BatchWriter {
	if config == nil {
		config = &BatchWriterConfig{}
	}

	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 10000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	return &BatchWriter{
		config: config,
		store:  store,
		queue:  make(chan dao.PositionSnapshot, config.MaxQueueSize),
		done:   make(chan struct{}),
	}
}

// Start 启动批量写入器
func (w *BatchWriter) Start() {
	w.flushTick = time.NewTicker(w.config.FlushInterval)

	w.wg.Add(1)
	go w.receiveLoop()

	w.wg.Add(1)
	go w.flushLoop()
}

func (w *BatchWriter) receiveLoop() {
	defer w.wg.Done()
	for {
		select {
		case s := <-w.queue:
			w.buffers.Store(s.ID, s)
			if w.buffers.Len() >= int64(w.config.BatchSize) {
				w.flush()
			}
		case <-w.done:
			// 处理队列中剩余的数据
			for len(w.queue) > 0 {
				s := <-w.queue
				w.buffers.Store(s.ID, s)
			}
			return
		}
	}
}

func (w *BatchWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.flushTick.C:
			w.flush()
		case <-w.done:
			return
		}
	}
}

// flush 取出当前缓冲并写库，失败的快照直接丢弃，下一轮监控会重新生成
func (w *BatchWriter) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	items := make([]dao.PositionSnapshot, 0, w.buffers.Len())
	w.buffers.Range(func(id string, s dao.PositionSnapshot) bool {
		if w.buffers.CompareAndDelete(id, s) {
			items = append(items, s)
		}
		return true
	})
	if len(items) == 0 {
		return
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()
	if err := w.store.UpdateSnapshots(ctx, items); err != nil {
		logger.Error().Err(err).Int("count", len(items)).Msg("batch update position snapshots failed")
		return
	}
	monitor.ObserveBatchWrite(len(items), time.Since(started))
	logger.Debug().Int("count", len(items)).Msg("position snapshots flushed")
}

// Add 添加写入项
func (w *BatchWriter) Add(s dao.PositionSnapshot) error {
	select {
	case w.queue <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending 尚未落库的快照数
func (w *BatchWriter) Pending() int {
	return len(w.queue) + int(w.buffers.Len())
}

func (w *BatchWriter) Stats() map[string]any {
	return map[string]any{
		"queue_size": len(w.queue),
		"buffered":   w.buffers.Len(),
	}
}

// Stop 停止写入器
func (w *BatchWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		w.flush()
		if w.flushTick != nil {
			w.flushTick.Stop()
		}
	})
}

// GracefulShutdown 优雅关闭，带超时控制
func (w *BatchWriter) GracefulShutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		logger.Warn().Dur("timeout", timeout).Msg("batch writer shutdown timeout")
		return ErrShutdownTimeout
	}
}

// ErrQueueFull 队列满错误
var ErrQueueFull = errors.New("batch writer queue full")

// ErrShutdownTimeout 关闭超时错误
var ErrShutdownTimeout = errors.New("shutdown timeout")
