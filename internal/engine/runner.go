package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-signal-engine/internal/account"
	"github.com/utrading/utrading-signal-engine/internal/cache"
	"github.com/utrading/utrading-signal-engine/internal/decision"
	"github.com/utrading/utrading-signal-engine/internal/execution"
	"github.com/utrading/utrading-signal-engine/internal/indicator"
	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/internal/signal"
	"github.com/utrading/utrading-signal-engine/internal/timeframe"
	"github.com/utrading/utrading-signal-engine/internal/trigger"
	"github.com/utrading/utrading-signal-engine/pkg/concurrent"
	"github.com/utrading/utrading-signal-engine/pkg/goplus"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// Accounts 由 account.Loader 实现
type Accounts interface {
	Eligible() []account.Account
}

// Gate 由 trigger.Gate 实现
type Gate interface {
	ShouldTrigger(ctx context.Context, accountID, symbol string) (trigger.Decision, error)
}

// Signals 由 signal.Manager 实现
type Signals interface {
	Create(ctx context.Context, accountID string, strategyRef *string, p signal.CreateParams, expiresIn time.Duration) (*models.TrackedSignal, error)
}

// Executor 由 execution.Executor 实现
type Executor interface {
	Execute(ctx context.Context, acc account.Account, sig *models.TrackedSignal, confidence float64) (*models.Position, error)
}

type Config struct {
	ClosureCron           string
	AnalysisTimeout       time.Duration
	CallTimeout           time.Duration
	MaxConcurrentAccounts int
	KlineLimit            int
	Indicators            indicator.Options
	DefaultStopLossPct    float64
	DefaultTakeProfitPct  float64
	SignalExpiry          time.Duration
	Methodology           string
}

func DefaultConfig() Config {
	return Config{
		ClosureCron:           "0 * * * * *",
		AnalysisTimeout:       50 * time.Second,
		CallTimeout:           8 * time.Second,
		MaxConcurrentAccounts: 16,
		KlineLimit:            100,
		Indicators:            indicator.DefaultOptions(),
		DefaultStopLossPct:    2,
		DefaultTakeProfitPct:  4,
		SignalExpiry:          24 * time.Hour,
		Methodology:           "SMC",
	}
}

type Deps struct {
	Accounts Accounts
	Detector *timeframe.Detector
	Gate     Gate
	Feed     market.Feed
	Decision decision.Source
	Signals  Signals
	Executor Executor           // 可为 nil
	Symbols  *cache.SymbolCache // 可为 nil，为空时不校验交易状态
}

// Runner 每分钟收盘时为账户发起分析
type Runner struct {
	Deps
	cfg      Config
	cron     *cron.Cron
	pool     *ants.Pool
	inflight concurrent.Map[string, time.Time]
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if cfg.ClosureCron == "" {
		cfg.ClosureCron = "0 * * * * *"
	}
	// 下一次收盘前必须结束
	if cfg.AnalysisTimeout <= 0 || cfg.AnalysisTimeout >= time.Minute {
		cfg.AnalysisTimeout = 50 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	if cfg.MaxConcurrentAccounts <= 0 {
		cfg.MaxConcurrentAccounts = 16
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 100
	}
	if deps.Detector == nil {
		deps.Detector = timeframe.NewDetector(time.Monday)
	}

	pool, err := ants.NewPool(cfg.MaxConcurrentAccounts)
	if err != nil {
		return nil, fmt.Errorf("create analysis pool: %w", err)
	}

	r := &Runner{
		Deps: deps,
		cfg:  cfg,
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		pool: pool,
	}
	if _, err = r.cron.AddFunc(cfg.ClosureCron, func() {
		r.Tick(time.Now().UTC())
	}); err != nil {
		pool.Release()
		return nil, fmt.Errorf("register closure cron %q: %w", cfg.ClosureCron, err)
	}
	return r, nil
}

func (r *Runner) Start() {
	r.cron.Start()
	logger.Info().Str("cron", r.cfg.ClosureCron).Msg("engine runner started")
}

// Tick 检测本分钟收盘的周期并为命中的账户派发分析，返回派发数
func (r *Runner) Tick(now time.Time) int {
	var dispatched int
	for _, acc := range r.Accounts.Eligible() {
		res := r.Detector.Detect(acc.Account.Timeframes, now)
		if !res.Any() {
			continue
		}

		id := acc.ID()
		if since, busy := r.inflight.LoadOrStore(id, now); busy {
			logger.Warn().
				Str("account", id).
				Time("running_since", since).
				Msg("previous analysis still running, skip")
			continue
		}

		r.wg.Add(1)
		task := func() {
			defer r.wg.Done()
			defer r.inflight.Delete(id)

			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.AnalysisTimeout)
			defer cancel()

			if err := goplus.SafeRun(func() error {
				return r.analyzeAccount(ctx, acc, res)
			}); err != nil {
				logger.Error().Err(err).Str("account", id).Msg("account analysis failed")
			}
		}
		if err := r.pool.Submit(task); err != nil {
			logger.Warn().Err(err).Str("account", id).Msg("submit analysis failed, run inline")
			task()
		}
		dispatched++
	}

	if dispatched > 0 {
		logger.Debug().Time("at", now).Int("accounts", dispatched).Msg("closure tick dispatched")
	}
	return dispatched
}

// Wait 等待已派发的分析结束
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) analyzeAccount(ctx context.Context, acc account.Account, closed timeframe.Result) error {
	started := time.Now()
	var created, triggered, failed int

	for _, symbol := range acc.Symbols() {
		if ctx.Err() != nil {
			break
		}
		run, sig, err := r.analyzeSymbol(ctx, acc, closed, symbol)
		if err != nil {
			failed++
			logger.Warn().Err(err).
				Str("account", acc.ID()).
				Str("symbol", symbol).
				Msg("symbol analysis skipped")
			continue
		}
		if run {
			triggered++
		}
		if sig != nil {
			created++
		}
	}

	logger.Info().
		Str("account", acc.ID()).
		Strs("closed", closed.Closed).
		Int("triggered", triggered).
		Int("signals", created).
		Int("failed", failed).
		Dur("elapsed", time.Since(started)).
		Msg("account analysis done")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("analysis deadline: %w", err)
	}
	return nil
}

// analyzeSymbol 触发判定 -> 指标 -> 决策 -> 信号 -> 自动下单
func (r *Runner) analyzeSymbol(ctx context.Context, acc account.Account, closed timeframe.Result, symbol string) (bool, *models.TrackedSignal, error) {
	if r.Symbols != nil && r.Symbols.Len() > 0 && !r.Symbols.IsTradable(symbol) {
		return false, nil, fmt.Errorf("symbol %s not tradable", symbol)
	}

	gate, err := r.Gate.ShouldTrigger(ctx, acc.ID(), symbol)
	if err != nil {
		return false, nil, err
	}
	if !gate.Run {
		return false, nil, nil
	}

	interval := closed.Primary()
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	candles, err := r.Feed.GetKlines(callCtx, symbol, interval, r.cfg.KlineLimit)
	if err != nil {
		cancel()
		return true, nil, fmt.Errorf("get klines %s: %w", interval, err)
	}
	price, err := r.Feed.GetPrice(callCtx, symbol)
	cancel()
	if err != nil {
		return true, nil, fmt.Errorf("get price: %w", err)
	}
	if price <= 0 {
		return true, nil, market.ErrNoPrice
	}

	snap := indicator.Compute(interval, candles, r.cfg.Indicators)
	dec, err := r.Decision.Decide(ctx, decision.Context{
		AccountID:         acc.ID(),
		Symbol:            symbol,
		Timeframes:        closed.Closed,
		Interval:          interval,
		CurrentPrice:      price,
		Indicators:        snap.Map(),
		Features:          snap.Features(),
		StrategyVersionID: acc.StrategyID(),
		Methodology:       acc.Methodology(r.cfg.Methodology),
	})
	if err != nil {
		return true, nil, fmt.Errorf("decide: %w", err)
	}
	if dec.IsHold() {
		logger.Debug().Str("account", acc.ID()).Str("symbol", symbol).Msg("decision hold")
		return true, nil, nil
	}

	entry := price
	if dec.EntryPrice != nil && *dec.EntryPrice > 0 {
		entry = *dec.EntryPrice
	}
	sl, tp := r.levels(dec.Action, entry, dec.StopLoss, dec.TakeProfit)

	indicators := snap.Map()
	indicators["trigger_reason"] = gate.Reason
	indicators["trigger_priority"] = string(gate.Priority)
	indicators["closed_timeframes"] = closed.Closed
	if dec.ModelVersion != "" {
		indicators["model_version"] = dec.ModelVersion
	}
	if dec.ExpectedReturn != 0 {
		indicators["expected_return"] = dec.ExpectedReturn
	}

	sig, err := r.Signals.Create(ctx, acc.ID(), acc.StrategyID(), signal.CreateParams{
		Symbol:     symbol,
		Direction:  dec.Action,
		EntryPrice: entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Confidence: dec.Confidence,
		Reasoning: signal.Reasoning{
			Decision: dec.Reasoning[decision.RoleDecision],
			Risk:     dec.Reasoning[decision.RoleRisk],
			Market:   dec.Reasoning[decision.RoleMarket],
		},
		Indicators: indicators,
	}, r.cfg.SignalExpiry)
	if err != nil {
		return true, nil, fmt.Errorf("create signal: %w", err)
	}

	if r.Executor != nil {
		if _, err = r.Executor.Execute(ctx, acc, sig, dec.Confidence); err != nil {
			if execution.IsSkip(err) {
				logger.Debug().Err(err).Str("signal_id", sig.ID).Msg("auto trade skipped")
			} else {
				monitor.IncPositionError("execute")
				logger.Error().Err(err).Str("signal_id", sig.ID).Msg("auto trade failed")
			}
		}
	}
	return true, sig, nil
}

// levels 决策未给出或方向不合法的止损止盈按默认百分比推导
func (r *Runner) levels(direction string, entry float64, sl, tp *float64) (float64, float64) {
	e := decimal.NewFromFloat(entry)
	slPct := decimal.NewFromFloat(r.cfg.DefaultStopLossPct).Div(decimal.NewFromInt(100))
	tpPct := decimal.NewFromFloat(r.cfg.DefaultTakeProfitPct).Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)

	long := direction == models.DirectionLong
	var defSL, defTP decimal.Decimal
	if long {
		defSL, defTP = e.Mul(one.Sub(slPct)), e.Mul(one.Add(tpPct))
	} else {
		defSL, defTP = e.Mul(one.Add(slPct)), e.Mul(one.Sub(tpPct))
	}

	stop := defSL.InexactFloat64()
	if sl != nil && *sl > 0 && (long && *sl < entry || !long && *sl > entry) {
		stop = *sl
	}
	take := defTP.InexactFloat64()
	if tp != nil && *tp > 0 && (long && *tp > entry || !long && *tp < entry) {
		take = *tp
	}
	return stop, take
}

func (r *Runner) Stats() map[string]any {
	return map[string]any{
		"inflight_accounts": r.inflight.Len(),
		"pool_busy":         r.pool.Running(),
		"cron_entries":      len(r.cron.Entries()),
	}
}

// Stop 停止调度并等待进行中的分析，ctx 到期后放弃等待
func (r *Runner) Stop(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		cronCtx := r.cron.Stop()

		done := make(chan struct{})
		go func() {
			<-cronCtx.Done()
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(errors.New("engine runner stop timeout"), ctx.Err())
		}
		r.pool.Release()
		logger.Info().Msg("engine runner stopped")
	})
	return err
}
