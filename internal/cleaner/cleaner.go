package cleaner

import (
	"context"
	"sync"
	"time"

	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// SignalPurger 删除指定终态的历史信号，由 dao.SignalDAO 实现
type SignalPurger interface {
	DeleteClosedBefore(ctx context.Context, statuses []string, before time.Time) (int64, error)
}

// StatePruner 删除长时间未更新的触发状态
type StatePruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	Interval        time.Duration
	SignalRetention time.Duration // 0 不清理信号
	StateIdle       time.Duration // 0 不清理触发状态
}

// Cleaner 数据清理器，定时清理历史数据
type Cleaner struct {
	cfg      Config
	signals  SignalPurger
	states   StatePruner
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	nowFn    func() time.Time
}

// NewCleaner 创建清理器；states 可为 nil
func NewCleaner(cfg Config, signals SignalPurger, states StatePruner) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Cleaner{
		cfg:     cfg,
		signals: signals,
		states:  states,
		done:    make(chan struct{}),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Start 启动清理任务
func (c *Cleaner) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		logger.Info().Msg("cleaner started")

		// 启动时立即执行一次
		c.Clean(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Clean(context.Background())
			case <-c.done:
				logger.Info().Msg("cleaner stopped")
				return
			}
		}
	}()
}

// Stop 停止清理器
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// Clean 执行一轮清理，单项失败不影响其它项
func (c *Cleaner) Clean(ctx context.Context) {
	logger.Debug().Msg("running cleanup task")

	if err := c.cleanSignals(ctx); err != nil {
		logger.Error().Err(err).Msg("clean closed signals failed")
	}

	if err := c.pruneStates(ctx); err != nil {
		logger.Error().Err(err).Msg("prune trigger states failed")
	}
}

// cleanSignals 只清理 EXPIRED / CANCELLED，命中止盈止损的信号保留用于统计
func (c *Cleaner) cleanSignals(ctx context.Context) error {
	if c.signals == nil || c.cfg.SignalRetention <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := c.nowFn().Add(-c.cfg.SignalRetention)
	deleted, err := c.signals.DeleteClosedBefore(ctx,
		[]string{models.SignalStatusExpired, models.SignalStatusCancelled}, cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("cleaned closed signals")
	}
	return nil
}

func (c *Cleaner) pruneStates(ctx context.Context) error {
	if c.states == nil || c.cfg.StateIdle <= 0 {
		return nil
	}
	cutoff := c.nowFn().Add(-c.cfg.StateIdle)
	n, err := c.states.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info().Int("pruned", n).Time("cutoff", cutoff).Msg("pruned idle trigger states")
	}
	return nil
}
