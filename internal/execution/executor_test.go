package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-signal-engine/internal/account"
	"github.com/utrading/utrading-signal-engine/internal/cache"
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/internal/position"
	"github.com/utrading/utrading-signal-engine/internal/venue"
)

type stubVenue struct {
	balance  float64
	avgPrice float64
	leverage int
	orders   []venue.OrderParams
	orderErr error
}

func (v *stubVenue) New(venue.Credentials) venue.Venue { return v }

func (v *stubVenue) PlaceOrder(_ context.Context, p venue.OrderParams) (*venue.OrderResult, error) {
	if v.orderErr != nil {
		return nil, v.orderErr
	}
	v.orders = append(v.orders, p)
	avg := v.avgPrice
	if avg == 0 {
		avg = 100.2
	}
	return &venue.OrderResult{OrderID: "ord-1", AvgPrice: avg, ExecutedQty: p.Quantity.InexactFloat64(), Status: "FILLED"}, nil
}

func (v *stubVenue) CancelOrder(context.Context, string, string) error { return nil }

func (v *stubVenue) GetBalance(context.Context, string) (float64, error) { return v.balance, nil }

func (v *stubVenue) SetLeverage(_ context.Context, _ string, leverage int) error {
	v.leverage = leverage
	return nil
}

type stubResolver struct{ missing bool }

func (r stubResolver) Resolve(string) (venue.Credentials, error) {
	if r.missing {
		return venue.Credentials{}, venue.ErrCredentialsNotFound
	}
	return venue.Credentials{APIKey: "k", SecretKey: "s"}, nil
}

type stubPositions struct {
	open   bool
	opened []position.OpenParams
}

func (p *stubPositions) HasOpenPosition(string, string) bool { return p.open }

func (p *stubPositions) Open(_ context.Context, params position.OpenParams) (*models.Position, error) {
	p.opened = append(p.opened, params)
	return &models.Position{ID: "pos-1", Symbol: params.Symbol, Side: params.Side}, nil
}

type stubSignals struct{ executed map[string]string }

func (s *stubSignals) MarkExecuted(_ context.Context, id, orderID string, _ float64) error {
	s.executed[id] = orderID
	return nil
}

func newSymbols() *cache.SymbolCache {
	c := cache.NewSymbolCache()
	c.Set(cache.SymbolMeta{
		Symbol:   "BTCUSDT",
		Status:   "TRADING",
		StepSize: decimal.RequireFromString("0.001"),
		MinQty:   decimal.RequireFromString("0.001"),
	})
	return c
}

func autoAccount() account.Account {
	return account.Account{
		Account: &models.AnalysisAccount{
			ID:                  "acc-1",
			AutoTrade:           true,
			RiskPercent:         1,
			Leverage:            5,
			TrailingStopPercent: 2,
		},
		Strategy: &models.StrategyVersion{ID: "sv-1", Tag: "smc-v3"},
	}
}

func longSignal() *models.TrackedSignal {
	return &models.TrackedSignal{
		ID:         "sig-1",
		AccountID:  "acc-1",
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionLong,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		Status:     models.SignalStatusPending,
	}
}

func TestSize(t *testing.T) {
	e := NewExecutor(Config{}, stubResolver{}, &stubVenue{}, newSymbols(), &stubPositions{}, &stubSignals{})

	assert.Equal(t, "0.5", e.Size("BTCUSDT", 1000, 1, 5, 100).String())
	// 1000 * 1% * 3 / 70000 = 0.000428... 低于步长
	assert.True(t, e.Size("BTCUSDT", 1000, 1, 3, 70000).IsZero())
	assert.True(t, e.Size("BTCUSDT", 0, 1, 3, 100).IsZero())
}

func TestExecuteOpensPosition(t *testing.T) {
	v := &stubVenue{balance: 1000}
	positions := &stubPositions{}
	signals := &stubSignals{executed: map[string]string{}}
	e := NewExecutor(Config{MinConfidence: 0.6}, stubResolver{}, v, newSymbols(), positions, signals)

	pos, err := e.Execute(context.Background(), autoAccount(), longSignal(), 0.8)
	require.NoError(t, err)
	assert.Equal(t, "pos-1", pos.ID)

	assert.Equal(t, 5, v.leverage)
	require.Len(t, v.orders, 1)
	assert.Equal(t, venue.SideBuy, v.orders[0].Side)
	assert.False(t, v.orders[0].ReduceOnly)
	assert.Equal(t, "0.5", v.orders[0].Quantity.String())

	require.Len(t, positions.opened, 1)
	op := positions.opened[0]
	assert.Equal(t, 100.2, op.EntryPrice)
	assert.Equal(t, 0.5, op.Size)
	assert.Equal(t, "smc-v3", op.StrategyTag)
	require.NotNil(t, op.TrailingStopDistance)
	assert.Equal(t, 2.0, *op.TrailingStopDistance)
	assert.Equal(t, 95.0, *op.StopLoss)

	assert.Equal(t, "ord-1", signals.executed["sig-1"])
}

func TestTrailingDistanceDrivesRatchet(t *testing.T) {
	v := &stubVenue{balance: 1000, avgPrice: 50000}
	positions := &stubPositions{}
	e := NewExecutor(Config{}, stubResolver{}, v, newSymbols(), positions, &stubSignals{executed: map[string]string{}})

	sig := longSignal()
	sig.EntryPrice, sig.StopLoss, sig.TakeProfit = 50000, 49000, 55000
	_, err := e.Execute(context.Background(), autoAccount(), sig, 0.9)
	require.NoError(t, err)
	require.Len(t, positions.opened, 1)
	op := positions.opened[0]
	require.NotNil(t, op.TrailingStopDistance)

	// 入场价附近 2% 跟踪止损正好等于原止损，不移动
	stop := 49000.0
	_, moved := position.RatchetStop(models.DirectionLong, &stop, 50000, *op.TrailingStopDistance)
	assert.False(t, moved)

	next, moved := position.RatchetStop(models.DirectionLong, &stop, 52000, *op.TrailingStopDistance)
	assert.True(t, moved)
	assert.InDelta(t, 50960.0, next, 1e-6)
}

func TestExecuteSkips(t *testing.T) {
	ctx := context.Background()
	signals := &stubSignals{executed: map[string]string{}}

	manual := autoAccount()
	manual.Account.AutoTrade = false
	e := NewExecutor(Config{MinConfidence: 0.6}, stubResolver{}, &stubVenue{balance: 1000}, newSymbols(), &stubPositions{}, signals)
	_, err := e.Execute(ctx, manual, longSignal(), 0.9)
	assert.ErrorIs(t, err, ErrAutoTradeDisabled)
	assert.True(t, IsSkip(err))

	_, err = e.Execute(ctx, autoAccount(), longSignal(), 0.5)
	assert.ErrorIs(t, err, ErrLowConfidence)
	assert.True(t, IsSkip(err))

	e = NewExecutor(Config{}, stubResolver{}, &stubVenue{balance: 1000}, newSymbols(), &stubPositions{open: true}, signals)
	_, err = e.Execute(ctx, autoAccount(), longSignal(), 0.9)
	assert.ErrorIs(t, err, ErrPositionExists)

	assert.Empty(t, signals.executed)
}

func TestExecuteFailures(t *testing.T) {
	ctx := context.Background()
	positions := &stubPositions{}
	signals := &stubSignals{executed: map[string]string{}}

	e := NewExecutor(Config{}, stubResolver{missing: true}, &stubVenue{balance: 1000}, newSymbols(), positions, signals)
	_, err := e.Execute(ctx, autoAccount(), longSignal(), 0.9)
	assert.ErrorIs(t, err, venue.ErrCredentialsNotFound)
	assert.False(t, IsSkip(err))

	e = NewExecutor(Config{}, stubResolver{}, &stubVenue{balance: 0}, newSymbols(), positions, signals)
	_, err = e.Execute(ctx, autoAccount(), longSignal(), 0.9)
	assert.ErrorIs(t, err, ErrNoBalance)

	e = NewExecutor(Config{}, stubResolver{}, &stubVenue{balance: 1000, orderErr: errors.New("margin insufficient")}, newSymbols(), positions, signals)
	_, err = e.Execute(ctx, autoAccount(), longSignal(), 0.9)
	assert.Error(t, err)

	assert.Empty(t, positions.opened)
	assert.Empty(t, signals.executed)
}
