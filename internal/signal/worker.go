package signal

import (
	"context"
	"sync"
	"time"

	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/goplus"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// Worker 定时评估全部 PENDING 信号
type Worker struct {
	manager  *Manager
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	running  sync.Mutex
}

func NewWorker(manager *Manager, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		manager:  manager,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		logger.Info().Dur("interval", w.interval).Msg("signal worker started")
		for {
			select {
			case <-ticker.C:
				w.tick()
			case <-w.done:
				logger.Info().Msg("signal worker stopped")
				return
			}
		}
	}()
}

// tick 上一轮未结束时跳过
func (w *Worker) tick() {
	if !w.running.TryLock() {
		logger.Warn().Msg("previous signal evaluation still running, skip")
		return
	}
	defer w.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	started := time.Now()
	err := goplus.SafeRun(func() error {
		_, err := w.manager.EvaluateAllPending(ctx)
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("evaluate pending signals failed")
	}
	monitor.ObserveTick("signal", started, err)
}

func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}
