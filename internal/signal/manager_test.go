package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-signal-engine/internal/dal"
	"github.com/utrading/utrading-signal-engine/internal/dao"
	"github.com/utrading/utrading-signal-engine/internal/models"
)

var t0 = time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)

type stubFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  map[string]int
}

func newStubFeed(prices map[string]float64) *stubFeed {
	return &stubFeed{prices: prices, calls: make(map[string]int)}
}

func (f *stubFeed) GetPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("feed unavailable")
	}
	return p, nil
}

func setupManager(t *testing.T, feed *stubFeed) (*Manager, *dao.SignalDAO, *time.Time) {
	t.Helper()
	db, err := dal.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, dal.Migrate(db))

	store := dao.NewSignalDAO(db)
	m := NewManager(store, feed, DefaultOptions())
	now := t0
	m.nowFn = func() time.Time { return now }
	return m, store, &now
}

func longParams() CreateParams {
	return CreateParams{
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionLong,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		Confidence: 0.72,
		Reasoning:  Reasoning{Decision: "trend up", Risk: "2R", Market: "bullish structure"},
		Indicators: map[string]any{"rsi": 41.2},
	}
}

func TestCreateWritesPending(t *testing.T) {
	m, store, _ := setupManager(t, newStubFeed(nil))
	ref := "sv-1"

	s, err := m.Create(context.Background(), "acc-1", &ref, longParams(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, t0.Add(24*time.Hour), s.ExpiresAt)

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignalStatusPending, got.Status)
	assert.Equal(t, "sv-1", *got.StrategyVersionID)
	assert.Equal(t, "bullish structure", got.MarketReasoning)
	assert.Nil(t, got.Outcome)
	assert.False(t, got.Executed)
}

func TestCreateRejectsInvalid(t *testing.T) {
	m, _, _ := setupManager(t, newStubFeed(nil))
	p := longParams()
	p.Direction = "HOLD"
	_, err := m.Create(context.Background(), "acc-1", nil, p, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestEvaluateLongTakeProfit(t *testing.T) {
	m, _, _ := setupManager(t, newStubFeed(nil))
	ctx := context.Background()
	s, err := m.Create(ctx, "acc-1", nil, longParams(), 0)
	require.NoError(t, err)

	got, changed, err := m.Evaluate(ctx, s.ID, 111)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.SignalStatusHitTP, got.Status)
	assert.Equal(t, models.OutcomeWin, *got.Outcome)
	assert.InDelta(t, 10.0, *got.PnlPercent, 1e-9)
	assert.Equal(t, 111.0, *got.PriceAtClose)

	// 终态后不再变化
	got, changed, err = m.Evaluate(ctx, s.ID, 90)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.SignalStatusHitTP, got.Status)
}

func TestEvaluateLongStopLoss(t *testing.T) {
	m, _, _ := setupManager(t, newStubFeed(nil))
	ctx := context.Background()
	s, _ := m.Create(ctx, "acc-1", nil, longParams(), 0)

	got, changed, err := m.Evaluate(ctx, s.ID, 94)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.SignalStatusHitSL, got.Status)
	assert.Equal(t, models.OutcomeLoss, *got.Outcome)
	assert.InDelta(t, -5.0, *got.PnlPercent, 1e-9)
}

func TestEvaluateBetweenLevelsNoChange(t *testing.T) {
	m, _, _ := setupManager(t, newStubFeed(nil))
	ctx := context.Background()
	s, _ := m.Create(ctx, "acc-1", nil, longParams(), 0)

	got, changed, err := m.Evaluate(ctx, s.ID, 103)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.SignalStatusPending, got.Status)
}

func TestEvaluateShortSymmetry(t *testing.T) {
	m, _, _ := setupManager(t, newStubFeed(nil))
	ctx := context.Background()
	p := longParams()
	p.Direction = models.DirectionShort
	p.StopLoss, p.TakeProfit = 105, 90

	tp, _ := m.Create(ctx, "acc-1", nil, p, 0)
	got, _, err := m.Evaluate(ctx, tp.ID, 89)
	require.NoError(t, err)
	assert.Equal(t, models.SignalStatusHitTP, got.Status)
	assert.InDelta(t, 10.0, *got.PnlPercent, 1e-9)

	sl, _ := m.Create(ctx, "acc-1", nil, p, 0)
	got, _, err = m.Evaluate(ctx, sl.ID, 106)
	require.NoError(t, err)
	assert.Equal(t, models.SignalStatusHitSL, got.Status)
	assert.InDelta(t, -5.0, *got.PnlPercent, 1e-9)
}

func TestExpiryTakesPrecedence(t *testing.T) {
	m, store, now := setupManager(t, newStubFeed(nil))
	ctx := context.Background()
	s, _ := m.Create(ctx, "acc-1", nil, longParams(), time.Hour)

	*now = t0.Add(2 * time.Hour)
	got, changed, err := m.Evaluate(ctx, s.ID, 120)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.SignalStatusExpired, got.Status)
	assert.Nil(t, got.Outcome)
	assert.Nil(t, got.PnlPercent)

	stored, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignalStatusExpired, stored.Status)
	assert.Equal(t, 120.0, *stored.PriceAtClose)
	require.NotNil(t, stored.ClosedAt)
}

func TestEvaluateUnknownSignal(t *testing.T) {
	m, _, _ := setupManager(t, newStubFeed(nil))
	_, _, err := m.Evaluate(context.Background(), "missing", 100)
	assert.ErrorIs(t, err, ErrSignalNotFound)
}

func TestBreakevenWhenLevelEqualsEntry(t *testing.T) {
	s := &models.TrackedSignal{
		ID: "s", Direction: models.DirectionLong, Status: models.SignalStatusPending,
		EntryPrice: 100, StopLoss: 100, TakeProfit: 110, ExpiresAt: t0.Add(time.Hour),
	}
	r := Resolve(s, 99, t0)
	require.NotNil(t, r)
	assert.Equal(t, models.SignalStatusHitSL, r.Status)
	assert.Equal(t, models.OutcomeBreakeven, *r.Outcome)
	assert.Equal(t, 0.0, *r.PnlPercent)
}

func TestMarkExecuted(t *testing.T) {
	m, store, _ := setupManager(t, newStubFeed(nil))
	ctx := context.Background()
	s, _ := m.Create(ctx, "acc-1", nil, longParams(), 0)

	require.NoError(t, m.MarkExecuted(ctx, s.ID, "ord-1", 100.1))
	got, _ := store.Get(ctx, s.ID)
	assert.True(t, got.Executed)
	assert.Equal(t, "ord-1", *got.VenueOrderID)

	assert.ErrorIs(t, m.MarkExecuted(ctx, "missing", "ord-2", 1), ErrSignalNotFound)
}

func TestCancelOnlyPending(t *testing.T) {
	m, _, _ := setupManager(t, newStubFeed(nil))
	ctx := context.Background()
	s, _ := m.Create(ctx, "acc-1", nil, longParams(), 0)

	ok, err := m.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, changed, err := m.Evaluate(ctx, s.ID, 200)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestEvaluateAllPendingSkipsFailedSymbols(t *testing.T) {
	feed := newStubFeed(map[string]float64{"BTCUSDT": 111})
	m, store, now := setupManager(t, feed)
	ctx := context.Background()

	a, _ := m.Create(ctx, "acc-1", nil, longParams(), 0)
	b, _ := m.Create(ctx, "acc-2", nil, longParams(), 0)

	eth := longParams()
	eth.Symbol = "ETHUSDT"
	c, _ := m.Create(ctx, "acc-1", nil, eth, 0)
	d, _ := m.Create(ctx, "acc-1", nil, eth, time.Minute)

	*now = t0.Add(2 * time.Minute)
	res, err := m.EvaluateAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Pending)
	assert.Equal(t, 3, res.Resolved)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Skipped)

	// 每个交易对只取一次价格
	assert.Equal(t, 1, feed.calls["BTCUSDT"])
	assert.Equal(t, 1, feed.calls["ETHUSDT"])

	for _, id := range []string{a.ID, b.ID} {
		got, _ := store.Get(ctx, id)
		assert.Equal(t, models.SignalStatusHitTP, got.Status)
	}
	got, _ := store.Get(ctx, c.ID)
	assert.Equal(t, models.SignalStatusPending, got.Status)

	// 行情失败也要让过期信号离开 PENDING
	got, _ = store.Get(ctx, d.ID)
	assert.Equal(t, models.SignalStatusExpired, got.Status)
	assert.Nil(t, got.PriceAtClose)
}

func TestAggregate(t *testing.T) {
	win, loss := models.OutcomeWin, models.OutcomeLoss
	pct := func(v float64) *float64 { return &v }
	list := []*models.TrackedSignal{
		{Status: models.SignalStatusHitTP, Outcome: &win, PnlPercent: pct(2)},
		{Status: models.SignalStatusHitTP, Outcome: &win, PnlPercent: pct(2)},
		{Status: models.SignalStatusHitTP, Outcome: &win, PnlPercent: pct(2)},
		{Status: models.SignalStatusHitSL, Outcome: &loss, PnlPercent: pct(-1)},
		{Status: models.SignalStatusHitSL, Outcome: &loss, PnlPercent: pct(-2)},
		{Status: models.SignalStatusExpired},
		{Status: models.SignalStatusPending},
	}

	st := Aggregate(list)
	assert.Equal(t, 7, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 6, st.Terminal)
	assert.InDelta(t, 60.0, st.WinRate, 1e-9)
	assert.InDelta(t, 2.0, st.AvgWinPercent, 1e-9)
	assert.InDelta(t, -1.5, st.AvgLossPercent, 1e-9)
	assert.InDelta(t, 3.0, st.TotalPnlPercent, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	st := Aggregate(nil)
	assert.Zero(t, st.WinRate)
	assert.Zero(t, st.Total)
}

func TestStatsWindow(t *testing.T) {
	m, _, now := setupManager(t, newStubFeed(nil))
	ctx := context.Background()

	s, _ := m.Create(ctx, "acc-1", nil, longParams(), 0)
	_, _, _ = m.Evaluate(ctx, s.ID, 111)
	_, _ = m.Create(ctx, "acc-2", nil, longParams(), 0)

	*now = t0.Add(time.Hour)
	st, err := m.Stats(ctx, "acc-1", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Wins)
	assert.InDelta(t, 100.0, st.WinRate, 1e-9)

	all, err := m.Stats(ctx, "", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)
}
