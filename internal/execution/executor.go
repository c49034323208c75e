package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-signal-engine/internal/account"
	"github.com/utrading/utrading-signal-engine/internal/cache"
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/internal/position"
	"github.com/utrading/utrading-signal-engine/internal/venue"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

var (
	ErrAutoTradeDisabled = errors.New("execution: auto trade disabled")
	ErrLowConfidence     = errors.New("execution: confidence below threshold")
	ErrPositionExists    = errors.New("execution: position already open")
	ErrNoBalance         = errors.New("execution: no available balance")
)

// IsSkip 不需要告警的跳过原因
func IsSkip(err error) bool {
	return errors.Is(err, ErrAutoTradeDisabled) ||
		errors.Is(err, ErrLowConfidence) ||
		errors.Is(err, ErrPositionExists)
}

// PositionOpener 由 position.Manager 实现
type PositionOpener interface {
	HasOpenPosition(accountID, symbol string) bool
	Open(ctx context.Context, p position.OpenParams) (*models.Position, error)
}

// SignalMarker 由 signal.Manager 实现
type SignalMarker interface {
	MarkExecuted(ctx context.Context, id, venueOrderID string, executionPrice float64) error
}

type Config struct {
	MinConfidence float64
	QuoteAsset    string
	CallTimeout   time.Duration
}

type Executor struct {
	cfg       Config
	creds     venue.CredentialResolver
	venues    venue.Factory
	symbols   *cache.SymbolCache
	positions PositionOpener
	signals   SignalMarker
}

func NewExecutor(cfg Config, creds venue.CredentialResolver, venues venue.Factory, symbols *cache.SymbolCache, positions PositionOpener, signals SignalMarker) *Executor {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	return &Executor{
		cfg:       cfg,
		creds:     creds,
		venues:    venues,
		symbols:   symbols,
		positions: positions,
		signals:   signals,
	}
}

// Size 保证金 = 余额 × risk%，名义价值再乘杠杆，按步长向下取整
func (e *Executor) Size(symbol string, balance, riskPercent float64, leverage int, entry float64) decimal.Decimal {
	if balance <= 0 || riskPercent <= 0 || entry <= 0 {
		return decimal.Zero
	}
	if leverage <= 0 {
		leverage = 1
	}
	qty := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(riskPercent)).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(leverage))).
		Div(decimal.NewFromFloat(entry))
	if e.symbols == nil {
		return qty.Truncate(3)
	}
	return e.symbols.RoundQuantity(symbol, qty)
}

// Execute 为自动交易账户按信号开仓
func (e *Executor) Execute(ctx context.Context, acc account.Account, sig *models.TrackedSignal, confidence float64) (*models.Position, error) {
	cfg := acc.Account
	if !cfg.AutoTrade {
		return nil, ErrAutoTradeDisabled
	}
	if confidence < e.cfg.MinConfidence {
		return nil, fmt.Errorf("%w: %.2f < %.2f", ErrLowConfidence, confidence, e.cfg.MinConfidence)
	}
	if e.positions.HasOpenPosition(cfg.ID, sig.Symbol) {
		return nil, ErrPositionExists
	}

	creds, err := e.creds.Resolve(cfg.ID)
	if err != nil {
		return nil, err
	}
	v := e.venues.New(creds)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	balance, err := v.GetBalance(callCtx, e.cfg.QuoteAsset)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if balance <= 0 {
		return nil, ErrNoBalance
	}

	qty := e.Size(sig.Symbol, balance, cfg.RiskPercent, cfg.Leverage, sig.EntryPrice)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s balance=%.2f", venue.ErrInvalidQuantity, sig.Symbol, balance)
	}

	if cfg.Leverage > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		err = v.SetLeverage(callCtx, sig.Symbol, cfg.Leverage)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("set leverage: %w", err)
		}
	}

	callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
	res, err := v.PlaceOrder(callCtx, venue.OrderParams{
		Symbol:   sig.Symbol,
		Side:     venue.OpenSide(sig.Direction),
		Quantity: qty,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("place entry order: %w", err)
	}

	entry := sig.EntryPrice
	if res.AvgPrice > 0 {
		entry = res.AvgPrice
	}
	size := qty.InexactFloat64()
	if res.ExecutedQty > 0 {
		size = res.ExecutedQty
	}

	sl, tp := sig.StopLoss, sig.TakeProfit
	params := position.OpenParams{
		AccountID:    cfg.ID,
		SignalID:     &sig.ID,
		Symbol:       sig.Symbol,
		Side:         sig.Direction,
		EntryPrice:   entry,
		Size:         size,
		Leverage:     cfg.Leverage,
		StopLoss:     &sl,
		TakeProfit:   &tp,
		VenueOrderID: res.OrderID,
		StrategyTag:  acc.StrategyTag(),
	}
	// 跟踪止损距离按百分比保存
	if cfg.TrailingStopPercent > 0 {
		d := cfg.TrailingStopPercent
		params.TrailingStopDistance = &d
	}

	// 订单已成交，后续写库失败只记录，不回滚
	pos, err := e.positions.Open(ctx, params)
	if err != nil {
		logger.Error().Err(err).
			Str("account", cfg.ID).
			Str("symbol", sig.Symbol).
			Str("order_id", res.OrderID).
			Msg("entry filled but open position failed")
		return nil, err
	}

	if err = e.signals.MarkExecuted(ctx, sig.ID, res.OrderID, entry); err != nil {
		logger.Warn().Err(err).Str("signal_id", sig.ID).Msg("mark signal executed failed")
	}

	logger.Info().
		Str("account", cfg.ID).
		Str("symbol", sig.Symbol).
		Str("side", sig.Direction).
		Str("qty", qty.String()).
		Float64("entry", entry).
		Str("position_id", pos.ID).
		Msg("signal executed")
	return pos, nil
}
