package trigger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/utrading/utrading-signal-engine/internal/indicator"
	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/concurrent"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Decision 是否需要调用决策源
type Decision struct {
	Run      bool
	Reason   string
	Priority Priority
}

// Snapshot 一次判定所需的市场观测
type Snapshot struct {
	Price           float64
	RSI             float64
	RSIValid        bool
	HasOpenPosition bool
	Now             time.Time
}

type Config struct {
	RefreshInterval    time.Duration
	PriceChangePercent float64
	RSIOversold        float64
	RSIOverbought      float64
	RSIExtremeLow      float64
	RSIExtremeHigh     float64
	ExtremeCooldown    time.Duration
	PositionCadence    time.Duration
	RSIInterval        string
	RSIPeriod          int
	KlineLimit         int
	CallTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval:    4 * time.Hour,
		PriceChangePercent: 0.5,
		RSIOversold:        30,
		RSIOverbought:      70,
		RSIExtremeLow:      20,
		RSIExtremeHigh:     80,
		ExtremeCooldown:    time.Hour,
		PositionCadence:    time.Hour,
		RSIInterval:        "15m",
		RSIPeriod:          indicator.DefaultRSIPeriod,
		KlineLimit:         100,
		CallTimeout:        8 * time.Second,
	}
}

// PositionChecker 账户是否在交易对上持仓
type PositionChecker interface {
	HasOpenPosition(accountID, symbol string) bool
}

// Gate 按价格、RSI、持仓和时间间隔决定是否发起一次分析
type Gate struct {
	cfg       Config
	store     StateStore
	locks     *concurrent.KeyedMutex
	feed      market.Feed
	positions PositionChecker
	nowFn     func() time.Time
}

func NewGate(cfg Config, store StateStore, feed market.Feed, positions PositionChecker) *Gate {
	return &Gate{
		cfg:       cfg,
		store:     store,
		locks:     concurrent.NewKeyedMutex(),
		feed:      feed,
		positions: positions,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// ShouldTrigger 拉取最新价和 K 线后判定；行情失败时返回错误，调用方跳过该交易对
func (g *Gate) ShouldTrigger(ctx context.Context, accountID, symbol string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	price, err := g.feed.GetPrice(ctx, symbol)
	if err != nil {
		return Decision{}, fmt.Errorf("get price: %w", err)
	}

	rsi, valid := indicator.NeutralRSI, false
	candles, err := g.feed.GetKlines(ctx, symbol, g.cfg.RSIInterval, g.cfg.KlineLimit)
	if err != nil {
		// 没有 K 线时只按价格和时间判定
		logger.Warn().Err(err).Str("symbol", symbol).Msg("klines unavailable, rsi rules disabled")
	} else {
		rsi, valid = indicator.RSI(market.Closes(candles), g.cfg.RSIPeriod)
	}

	var hasPos bool
	if g.positions != nil {
		hasPos = g.positions.HasOpenPosition(accountID, symbol)
	}

	return g.Evaluate(ctx, accountID, symbol, Snapshot{
		Price:           price,
		RSI:             rsi,
		RSIValid:        valid,
		HasOpenPosition: hasPos,
		Now:             g.nowFn(),
	})
}

// Evaluate 按规则顺序判定，命中即返回；需要运行时先写入新状态
func (g *Gate) Evaluate(ctx context.Context, accountID, symbol string, snap Snapshot) (Decision, error) {
	key := stateKey(accountID, symbol)
	unlock := g.locks.Lock(key)
	defer unlock()

	prev, ok, err := g.store.Load(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	d := g.decide(prev, ok, snap)
	monitor.IncTriggerDecision(string(d.Priority), d.Run)
	if !d.Run {
		return d, nil
	}

	next := State{
		LastPrice:      snap.Price,
		LastObservedAt: snap.Now,
		LastRSI:        snap.RSI,
		RSIValid:       snap.RSIValid,
	}
	if err = g.store.Store(ctx, key, next); err != nil {
		return Decision{}, fmt.Errorf("store trigger state: %w", err)
	}
	return d, nil
}

func (g *Gate) decide(prev State, ok bool, snap Snapshot) Decision {
	if !ok {
		return Decision{Run: true, Reason: "first analysis", Priority: PriorityHigh}
	}

	elapsed := snap.Now.Sub(prev.LastObservedAt)
	if elapsed >= g.cfg.RefreshInterval {
		return Decision{Run: true, Reason: fmt.Sprintf("scheduled refresh after %s", elapsed.Truncate(time.Minute)), Priority: PriorityMedium}
	}

	if prev.LastPrice > 0 {
		change := (snap.Price - prev.LastPrice) / prev.LastPrice * 100
		if math.Abs(change) > g.cfg.PriceChangePercent {
			return Decision{Run: true, Reason: fmt.Sprintf("price moved %.2f%%", change), Priority: PriorityHigh}
		}
	}

	rsiComparable := prev.RSIValid && snap.RSIValid
	if rsiComparable && crosses(prev.LastRSI, snap.RSI, g.cfg.RSIOversold) {
		return Decision{Run: true, Reason: fmt.Sprintf("rsi crossed %.0f (%.1f -> %.1f)", g.cfg.RSIOversold, prev.LastRSI, snap.RSI), Priority: PriorityHigh}
	}
	if rsiComparable && crosses(prev.LastRSI, snap.RSI, g.cfg.RSIOverbought) {
		return Decision{Run: true, Reason: fmt.Sprintf("rsi crossed %.0f (%.1f -> %.1f)", g.cfg.RSIOverbought, prev.LastRSI, snap.RSI), Priority: PriorityHigh}
	}

	if snap.RSIValid && (snap.RSI < g.cfg.RSIExtremeLow || snap.RSI > g.cfg.RSIExtremeHigh) && elapsed > g.cfg.ExtremeCooldown {
		return Decision{Run: true, Reason: fmt.Sprintf("rsi extreme %.1f", snap.RSI), Priority: PriorityCritical}
	}

	if snap.HasOpenPosition && elapsed >= g.cfg.PositionCadence {
		return Decision{Run: true, Reason: "open position review", Priority: PriorityHigh}
	}

	return Decision{Run: false, Reason: "no significant change", Priority: PriorityLow}
}

// crosses 前后两值是否位于 level 两侧
func crosses(prev, cur, level float64) bool {
	return (prev < level) != (cur < level)
}
