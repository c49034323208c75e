package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-signal-engine/internal/account"
	"github.com/utrading/utrading-signal-engine/internal/decision"
	"github.com/utrading/utrading-signal-engine/internal/execution"
	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/internal/signal"
	"github.com/utrading/utrading-signal-engine/internal/trigger"
)

var closeAt = time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)

type staticAccounts []account.Account

func (s staticAccounts) Eligible() []account.Account { return s }

type stubGate struct {
	mu    sync.Mutex
	skip  map[string]bool
	calls []string
}

func (g *stubGate) ShouldTrigger(_ context.Context, _, symbol string) (trigger.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, symbol)
	if g.skip[symbol] {
		return trigger.Decision{Run: false, Priority: trigger.PriorityLow}, nil
	}
	return trigger.Decision{Run: true, Reason: "price moved", Priority: trigger.PriorityHigh}, nil
}

type stubFeed struct {
	price     float64
	intervals []string
	mu        sync.Mutex
}

func (f *stubFeed) GetPrice(context.Context, string) (float64, error) {
	if f.price <= 0 {
		return 0, market.ErrNoPrice
	}
	return f.price, nil
}

func (f *stubFeed) GetKlines(_ context.Context, _, interval string, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	f.intervals = append(f.intervals, interval)
	f.mu.Unlock()
	out := make([]market.Candle, limit)
	for i := range out {
		c := 100 + float64(i%5)
		out[i] = market.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return out, nil
}

type stubDecision struct {
	mu       sync.Mutex
	decision *decision.Decision
	err      error
	block    chan struct{}
	requests []decision.Context
}

func (d *stubDecision) Decide(_ context.Context, c decision.Context) (*decision.Decision, error) {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, c)
	if d.err != nil {
		return nil, d.err
	}
	cp := *d.decision
	return &cp, nil
}

type stubSignals struct {
	mu      sync.Mutex
	created []signal.CreateParams
}

func (s *stubSignals) Create(_ context.Context, accountID string, _ *string, p signal.CreateParams, _ time.Duration) (*models.TrackedSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, p)
	return &models.TrackedSignal{
		ID:         "sig-" + p.Symbol,
		AccountID:  accountID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Status:     models.SignalStatusPending,
	}, nil
}

type stubExecutor struct {
	mu          sync.Mutex
	confidences []float64
	err         error
}

func (e *stubExecutor) Execute(_ context.Context, _ account.Account, _ *models.TrackedSignal, confidence float64) (*models.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confidences = append(e.confidences, confidence)
	return nil, e.err
}

type fixture struct {
	runner   *Runner
	gate     *stubGate
	feed     *stubFeed
	decision *stubDecision
	signals  *stubSignals
	executor *stubExecutor
}

func newAccount(id string, timeframes, watch []string) account.Account {
	return account.Account{Account: &models.AnalysisAccount{
		ID:         id,
		Enabled:    true,
		Timeframes: timeframes,
		WatchList:  watch,
	}}
}

func setup(t *testing.T, accounts ...account.Account) *fixture {
	t.Helper()
	f := &fixture{
		gate:     &stubGate{skip: map[string]bool{}},
		feed:     &stubFeed{price: 100},
		decision: &stubDecision{decision: &decision.Decision{Action: decision.ActionLong, Confidence: 0.75}},
		signals:  &stubSignals{},
		executor: &stubExecutor{},
	}
	r, err := NewRunner(DefaultConfig(), Deps{
		Accounts: staticAccounts(accounts),
		Gate:     f.gate,
		Feed:     f.feed,
		Decision: f.decision,
		Signals:  f.signals,
		Executor: f.executor,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	f.runner = r
	return f
}

func TestTickCreatesSignalWithDerivedLevels(t *testing.T) {
	f := setup(t, newAccount("acc-1", []string{"1h", "15m"}, []string{"BTCUSDT"}))

	assert.Equal(t, 1, f.runner.Tick(closeAt))
	f.runner.Wait()

	require.Len(t, f.decision.requests, 1)
	req := f.decision.requests[0]
	assert.Equal(t, "15m", req.Interval)
	assert.Equal(t, []string{"1h", "15m"}, req.Timeframes)
	assert.Equal(t, 100.0, req.CurrentPrice)
	assert.Equal(t, "SMC", req.Methodology)
	assert.Len(t, req.Features, 7)

	require.Len(t, f.signals.created, 1)
	p := f.signals.created[0]
	assert.Equal(t, models.DirectionLong, p.Direction)
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.InDelta(t, 98.0, p.StopLoss, 1e-9)
	assert.InDelta(t, 104.0, p.TakeProfit, 1e-9)
	assert.Equal(t, "price moved", p.Indicators["trigger_reason"])

	assert.Equal(t, []float64{0.75}, f.executor.confidences)
}

func TestTickSkipsAccountsWithoutClosure(t *testing.T) {
	f := setup(t, newAccount("acc-1", []string{"15m", "1h"}, []string{"BTCUSDT"}))

	assert.Equal(t, 0, f.runner.Tick(closeAt.Add(time.Minute)))
	f.runner.Wait()
	assert.Empty(t, f.gate.calls)
}

func TestGateAndHoldSkipSignal(t *testing.T) {
	f := setup(t, newAccount("acc-1", []string{"1m"}, []string{"BTCUSDT", "ETHUSDT"}))
	f.gate.skip["ETHUSDT"] = true
	f.decision.decision = &decision.Decision{Action: decision.ActionHold}

	f.runner.Tick(closeAt)
	f.runner.Wait()

	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, f.gate.calls)
	// ETHUSDT 未触发，不调用决策
	require.Len(t, f.decision.requests, 1)
	assert.Equal(t, "BTCUSDT", f.decision.requests[0].Symbol)
	assert.Empty(t, f.signals.created)
	assert.Empty(t, f.executor.confidences)
}

func TestMissingPriceSkips(t *testing.T) {
	f := setup(t, newAccount("acc-1", []string{"1m"}, []string{"BTCUSDT"}))
	f.feed.price = 0

	f.runner.Tick(closeAt)
	f.runner.Wait()
	assert.Empty(t, f.decision.requests)
	assert.Empty(t, f.signals.created)
}

func TestDecisionErrorDoesNotStopOtherSymbols(t *testing.T) {
	f := setup(t, newAccount("acc-1", []string{"1m"}, []string{"BTCUSDT", "ETHUSDT"}))
	f.decision.err = errors.New("model offline")

	f.runner.Tick(closeAt)
	f.runner.Wait()
	assert.Len(t, f.decision.requests, 2)
	assert.Empty(t, f.signals.created)
}

func TestStrategyPairLock(t *testing.T) {
	acc := newAccount("acc-1", []string{"1m"}, []string{"BTCUSDT", "ETHUSDT"})
	acc.Strategy = &models.StrategyVersion{ID: "sv-1", Tag: "eth-only", Symbol: "ETHUSDT", Methodology: "ICT", Active: true}
	f := setup(t, acc)

	f.runner.Tick(closeAt)
	f.runner.Wait()

	assert.Equal(t, []string{"ETHUSDT"}, f.gate.calls)
	require.Len(t, f.decision.requests, 1)
	assert.Equal(t, "ICT", f.decision.requests[0].Methodology)
	require.NotNil(t, f.decision.requests[0].StrategyVersionID)
	assert.Equal(t, "sv-1", *f.decision.requests[0].StrategyVersionID)
}

func TestInflightAccountSkipped(t *testing.T) {
	f := setup(t, newAccount("acc-1", []string{"1m"}, []string{"BTCUSDT"}))
	f.decision.block = make(chan struct{})

	assert.Equal(t, 1, f.runner.Tick(closeAt))
	assert.Eventually(t, func() bool {
		return f.runner.inflight.Len() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, f.runner.Tick(closeAt.Add(time.Minute)))

	close(f.decision.block)
	f.runner.Wait()
	assert.Equal(t, int64(0), f.runner.inflight.Len())
	assert.Equal(t, 1, f.runner.Tick(closeAt.Add(2*time.Minute)))
	f.runner.Wait()
	assert.Len(t, f.signals.created, 2)
}

func TestExecutorSkipIsNotFatal(t *testing.T) {
	f := setup(t, newAccount("acc-1", []string{"1m"}, []string{"BTCUSDT"}))
	f.executor.err = execution.ErrAutoTradeDisabled

	f.runner.Tick(closeAt)
	f.runner.Wait()
	assert.Len(t, f.signals.created, 1)
}

func TestLevels(t *testing.T) {
	r := &Runner{cfg: DefaultConfig()}
	f := func(v float64) *float64 { return &v }

	sl, tp := r.levels(models.DirectionShort, 100, nil, nil)
	assert.InDelta(t, 102.0, sl, 1e-9)
	assert.InDelta(t, 96.0, tp, 1e-9)

	sl, tp = r.levels(models.DirectionShort, 100, f(103), f(90))
	assert.Equal(t, 103.0, sl)
	assert.Equal(t, 90.0, tp)

	// 方向错误的价位回落到默认值
	sl, tp = r.levels(models.DirectionLong, 100, f(101), f(99))
	assert.InDelta(t, 98.0, sl, 1e-9)
	assert.InDelta(t, 104.0, tp, 1e-9)
}

func TestInvalidCron(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClosureCron = "every minute"
	_, err := NewRunner(cfg, Deps{Accounts: staticAccounts(nil)})
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	f := setup(t)
	f.runner.Start()
	require.NoError(t, f.runner.Stop(context.Background()))
	require.NoError(t, f.runner.Stop(context.Background()))
}
