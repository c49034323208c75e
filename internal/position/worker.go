package position

import (
	"context"
	"sync"
	"time"

	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// Worker 固定间隔执行 MonitorTick
type Worker struct {
	manager  *Manager
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(manager *Manager, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Worker{manager: manager, interval: interval, done: make(chan struct{})}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		logger.Info().Dur("interval", w.interval).Msg("position worker started")
		for {
			select {
			case <-ticker.C:
				w.tick()
			case <-w.done:
				logger.Info().Msg("position worker stopped")
				return
			}
		}
	}()
}

// tick 与 ticker 串行执行，超时的一轮不会与下一轮重叠
func (w *Worker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*w.interval)
	defer cancel()

	started := time.Now()
	_, err := w.manager.MonitorTick(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("position monitor tick failed")
	}
	monitor.ObserveTick("position", started, err)
}

func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}
