package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/utrading/utrading-signal-engine/internal/dao"
	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

var (
	ErrSignalNotFound = errors.New("signal: not found")
	ErrInvalidSignal  = errors.New("signal: invalid parameters")
)

// Store 信号持久化，终态写入必须以 status=PENDING 为条件
type Store interface {
	Create(ctx context.Context, s *models.TrackedSignal) error
	Get(ctx context.Context, id string) (*models.TrackedSignal, error)
	MarkExecuted(ctx context.Context, id, venueOrderID string, executionPrice float64) (bool, error)
	Resolve(ctx context.Context, id string, r dao.SignalResolution) (bool, error)
	ListPending(ctx context.Context) ([]*models.TrackedSignal, error)
	ListByAccountSince(ctx context.Context, accountID string, since time.Time) ([]*models.TrackedSignal, error)
}

// Reasoning 三个角色的理由
type Reasoning struct {
	Decision string
	Risk     string
	Market   string
}

type CreateParams struct {
	Symbol     string
	Direction  string
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
	Reasoning  Reasoning
	Indicators map[string]any
}

func (p CreateParams) validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}
	if p.Direction != models.DirectionLong && p.Direction != models.DirectionShort {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, p.Direction)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %v", ErrInvalidSignal, p.EntryPrice)
	}
	return nil
}

type Options struct {
	DefaultExpiry    time.Duration
	PriceConcurrency int
	CallTimeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultExpiry:    24 * time.Hour,
		PriceConcurrency: 8,
		CallTimeout:      8 * time.Second,
	}
}

// Manager 信号创建与状态推进
type Manager struct {
	store Store
	feed  market.PriceFeed
	opts  Options
	nowFn func() time.Time
}

func NewManager(store Store, feed market.PriceFeed, opts Options) *Manager {
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = 24 * time.Hour
	}
	if opts.PriceConcurrency <= 0 {
		opts.PriceConcurrency = 8
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 8 * time.Second
	}
	return &Manager{
		store: store,
		feed:  feed,
		opts:  opts,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Create 写入一条 PENDING 信号；expiresIn<=0 时使用默认有效期
func (m *Manager) Create(ctx context.Context, accountID string, strategyRef *string, p CreateParams, expiresIn time.Duration) (*models.TrackedSignal, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if expiresIn <= 0 {
		expiresIn = m.opts.DefaultExpiry
	}

	now := m.nowFn()
	s := &models.TrackedSignal{
		ID:                uuid.NewString(),
		AccountID:         accountID,
		StrategyVersionID: strategyRef,
		Symbol:            p.Symbol,
		Direction:         p.Direction,
		EntryPrice:        p.EntryPrice,
		StopLoss:          p.StopLoss,
		TakeProfit:        p.TakeProfit,
		Confidence:        p.Confidence,
		DecisionReasoning: p.Reasoning.Decision,
		RiskReasoning:     p.Reasoning.Risk,
		MarketReasoning:   p.Reasoning.Market,
		Indicators:        p.Indicators,
		Status:            models.SignalStatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(expiresIn),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create signal: %w", err)
	}

	monitor.IncSignalCreated(p.Direction)
	logger.Info().
		Str("signal_id", s.ID).
		Str("account", accountID).
		Str("symbol", s.Symbol).
		Str("direction", s.Direction).
		Float64("entry", s.EntryPrice).
		Float64("sl", s.StopLoss).
		Float64("tp", s.TakeProfit).
		Float64("confidence", s.Confidence).
		Time("expires_at", s.ExpiresAt).
		Msg("signal created")
	return s, nil
}

// MarkExecuted 记录下单结果，重复调用覆盖旧值
func (m *Manager) MarkExecuted(ctx context.Context, id, venueOrderID string, executionPrice float64) error {
	ok, err := m.store.MarkExecuted(ctx, id, venueOrderID, executionPrice)
	if err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}
	if !ok {
		return ErrSignalNotFound
	}
	return nil
}

// Cancel 人工撤销，仅对 PENDING 生效
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	return m.store.Resolve(ctx, id, dao.SignalResolution{
		Status:   models.SignalStatusCancelled,
		ClosedAt: m.nowFn(),
	})
}

// Evaluate 按当前价推进单个信号，返回最新记录和本次是否发生了状态变化
func (m *Manager) Evaluate(ctx context.Context, id string, price float64) (*models.TrackedSignal, bool, error) {
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, dao.ErrNotFound) {
		return nil, false, ErrSignalNotFound
	}
	if err != nil {
		return nil, false, err
	}
	changed, err := m.apply(ctx, s, &price)
	return s, changed, err
}

// apply 对已加载的信号判定并写入；price 为 nil 时只检查过期
func (m *Manager) apply(ctx context.Context, s *models.TrackedSignal, price *float64) (bool, error) {
	if s.IsTerminal() {
		return false, nil
	}

	now := m.nowFn()
	var r *dao.SignalResolution
	if price == nil {
		if now.After(s.ExpiresAt) {
			r = &dao.SignalResolution{Status: models.SignalStatusExpired, ClosedAt: now}
		}
	} else {
		r = Resolve(s, *price, now)
	}
	if r == nil {
		return false, nil
	}

	ok, err := m.store.Resolve(ctx, s.ID, *r)
	if err != nil {
		return false, fmt.Errorf("resolve signal %s: %w", s.ID, err)
	}
	if !ok {
		// 其他实例已先写入终态
		return false, nil
	}

	s.Status = r.Status
	s.Outcome = r.Outcome
	s.PnlPercent = r.PnlPercent
	s.PriceAtClose = r.PriceAtClose
	closedAt := r.ClosedAt
	s.ClosedAt = &closedAt

	monitor.IncSignalResolved(r.Status)
	ev := logger.Info().
		Str("signal_id", s.ID).
		Str("symbol", s.Symbol).
		Str("status", r.Status)
	if r.PnlPercent != nil {
		ev = ev.Float64("pnl_percent", *r.PnlPercent)
	}
	ev.Msg("signal resolved")
	return true, nil
}

// Resolve 纯判定：过期优先且直接返回，其次止盈、止损；未命中返回 nil
func Resolve(s *models.TrackedSignal, price float64, now time.Time) *dao.SignalResolution {
	if s.IsTerminal() {
		return nil
	}

	if now.After(s.ExpiresAt) {
		r := &dao.SignalResolution{Status: models.SignalStatusExpired, ClosedAt: now}
		if price > 0 {
			r.PriceAtClose = &price
		}
		return r
	}

	long := s.Direction == models.DirectionLong
	switch {
	case s.TakeProfit > 0 && ((long && price >= s.TakeProfit) || (!long && price <= s.TakeProfit)):
		return terminal(s, models.SignalStatusHitTP, s.TakeProfit, price, now)
	case s.StopLoss > 0 && ((long && price <= s.StopLoss) || (!long && price >= s.StopLoss)):
		return terminal(s, models.SignalStatusHitSL, s.StopLoss, price, now)
	}
	return nil
}

// terminal 按触发价位计算收益率，空单取反
func terminal(s *models.TrackedSignal, status string, level, price float64, now time.Time) *dao.SignalResolution {
	entry := decimal.NewFromFloat(s.EntryPrice)
	pnl := decimal.NewFromFloat(level).Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
	if s.Direction == models.DirectionShort {
		pnl = pnl.Neg()
	}
	pct, _ := pnl.Round(6).Float64()

	outcome := models.OutcomeBreakeven
	switch {
	case pct > 0:
		outcome = models.OutcomeWin
	case pct < 0:
		outcome = models.OutcomeLoss
	}

	return &dao.SignalResolution{
		Status:       status,
		Outcome:      &outcome,
		PnlPercent:   &pct,
		PriceAtClose: &price,
		ClosedAt:     now,
	}
}

// BatchResult 一轮批量评估的统计
type BatchResult struct {
	Pending   int
	Evaluated int
	Resolved  int
	Expired   int
	Skipped   int // 行情或写入失败，留待下一轮
}

// EvaluateAllPending 每个交易对取一次价格后逐条评估，单条失败不影响其他信号
func (m *Manager) EvaluateAllPending(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	pending, err := m.store.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending signals: %w", err)
	}
	res.Pending = len(pending)
	if len(pending) == 0 {
		return res, nil
	}

	prices := m.fetchPrices(ctx, pending)

	for _, s := range pending {
		if ctx.Err() != nil {
			res.Skipped += res.Pending - res.Evaluated - res.Skipped
			break
		}

		var pricePtr *float64
		if p, ok := prices[s.Symbol]; ok {
			pricePtr = &p
		} else if !m.nowFn().After(s.ExpiresAt) {
			res.Skipped++
			continue
		}

		changed, err := m.apply(ctx, s, pricePtr)
		if err != nil {
			logger.Warn().Err(err).Str("signal_id", s.ID).Msg("evaluate signal failed")
			res.Skipped++
			continue
		}
		res.Evaluated++
		if changed {
			res.Resolved++
			if s.Status == models.SignalStatusExpired {
				res.Expired++
			}
		}
	}

	if res.Resolved > 0 || res.Skipped > 0 {
		logger.Info().
			Int("pending", res.Pending).
			Int("evaluated", res.Evaluated).
			Int("resolved", res.Resolved).
			Int("expired", res.Expired).
			Int("skipped", res.Skipped).
			Msg("pending signals evaluated")
	}
	return res, nil
}

// fetchPrices 并发拉取去重后的交易对价格，失败的交易对不出现在结果中
func (m *Manager) fetchPrices(ctx context.Context, pending []*models.TrackedSignal) map[string]float64 {
	symbols := make([]string, 0)
	seen := make(map[string]struct{})
	for _, s := range pending {
		if _, ok := seen[s.Symbol]; ok {
			continue
		}
		seen[s.Symbol] = struct{}{}
		symbols = append(symbols, s.Symbol)
	}

	results := make([]float64, len(symbols))
	okFlags := make([]bool, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.PriceConcurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, m.opts.CallTimeout)
			defer cancel()
			p, err := m.feed.GetPrice(cctx, sym)
			if err != nil {
				logger.Warn().Err(err).Str("symbol", sym).Msg("price unavailable, signals skipped")
				return nil
			}
			results[i] = p
			okFlags[i] = true
			return nil
		})
	}
	_ = g.Wait()

	prices := make(map[string]float64, len(symbols))
	for i, sym := range symbols {
		if okFlags[i] {
			prices[sym] = results[i]
		}
	}
	return prices
}
