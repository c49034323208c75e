package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/utrading/utrading-signal-engine/internal/cache"
	"github.com/utrading/utrading-signal-engine/internal/dao"
	"github.com/utrading/utrading-signal-engine/internal/feedback"
	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/internal/venue"
	"github.com/utrading/utrading-signal-engine/pkg/goplus"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

var (
	ErrPositionNotOpen = errors.New("position: not open")
	ErrInvalidPosition = errors.New("position: invalid parameters")
)

// Store 持仓持久化
type Store interface {
	Create(ctx context.Context, p *models.Position) error
	Get(ctx context.Context, id string) (*models.Position, error)
	ListOpen(ctx context.Context) ([]*models.Position, error)
	RatchetStop(ctx context.Context, id, side string, stop float64) (bool, error)
	Close(ctx context.Context, id string, c dao.PositionClose) (bool, error)
}

// TradeStore 成交记录
type TradeStore interface {
	Create(ctx context.Context, t *models.Trade) error
	Close(ctx context.Context, id string, c dao.TradeClose) (bool, error)
}

// SnapshotWriter 异步写入实时字段
type SnapshotWriter interface {
	Add(s dao.PositionSnapshot) error
}

type Deps struct {
	Positions Store
	Trades    TradeStore
	Prices    market.PriceFeed // 带短 TTL 缓存
	Snapshots SnapshotWriter
	Index     *cache.OpenPositionIndex
	Creds     venue.CredentialResolver
	Venues    venue.Factory
	Feedback  feedback.Emitter
}

type Options struct {
	PoolSize    int
	CallTimeout time.Duration
}

// Manager 监控 OPEN 持仓：刷新盈亏、止盈止损、跟踪止损与平仓
type Manager struct {
	Deps
	opts  Options
	pool  *ants.Pool
	nowFn func() time.Time
}

func NewManager(deps Deps, opts Options) (*Manager, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 16
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 8 * time.Second
	}
	if deps.Index == nil {
		deps.Index = cache.NewOpenPositionIndex()
	}
	pool, err := ants.NewPool(opts.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create position pool: %w", err)
	}
	return &Manager{
		Deps:  deps,
		opts:  opts,
		pool:  pool,
		nowFn: func() time.Time { return time.Now().UTC() },
	}, nil
}

// HasOpenPosition 供触发器判断持仓节奏
func (m *Manager) HasOpenPosition(accountID, symbol string) bool {
	return m.Index.HasOpenPosition(accountID, symbol)
}

type OpenParams struct {
	AccountID            string
	SignalID             *string
	Symbol               string
	Side                 string
	EntryPrice           float64
	Size                 float64
	Leverage             int
	StopLoss             *float64
	TakeProfit           *float64
	TrailingStopDistance *float64
	VenueOrderID         string
	StrategyTag          string
}

// Open 记录已成交的入场：先写 Trade 再写 Position
func (m *Manager) Open(ctx context.Context, p OpenParams) (*models.Position, error) {
	if p.Symbol == "" || p.EntryPrice <= 0 || p.Size <= 0 {
		return nil, fmt.Errorf("%w: %s entry=%v size=%v", ErrInvalidPosition, p.Symbol, p.EntryPrice, p.Size)
	}
	if p.Side != models.DirectionLong && p.Side != models.DirectionShort {
		return nil, fmt.Errorf("%w: side %q", ErrInvalidPosition, p.Side)
	}
	if p.Leverage <= 0 {
		p.Leverage = 1
	}

	now := m.nowFn()
	pos := &models.Position{
		ID:                   uuid.NewString(),
		AccountID:            p.AccountID,
		Symbol:               p.Symbol,
		Side:                 p.Side,
		EntryPrice:           p.EntryPrice,
		Size:                 p.Size,
		Leverage:             p.Leverage,
		StopLoss:             p.StopLoss,
		TakeProfit:           p.TakeProfit,
		TrailingStopDistance: p.TrailingStopDistance,
		CurrentPrice:         p.EntryPrice,
		Status:               models.PositionStatusOpen,
		StrategyTag:          p.StrategyTag,
		OpenedAt:             now,
	}

	if m.Trades != nil {
		trade := &models.Trade{
			ID:           uuid.NewString(),
			AccountID:    p.AccountID,
			SignalID:     p.SignalID,
			Symbol:       p.Symbol,
			Side:         p.Side,
			EntryPrice:   p.EntryPrice,
			Size:         p.Size,
			VenueOrderID: p.VenueOrderID,
			StrategyTag:  p.StrategyTag,
			Status:       models.TradeStatusOpen,
			OpenedAt:     now,
		}
		if err := m.Trades.Create(ctx, trade); err != nil {
			return nil, fmt.Errorf("create trade: %w", err)
		}
		pos.TradeID = &trade.ID
	}

	if err := m.Positions.Create(ctx, pos); err != nil {
		return nil, fmt.Errorf("create position: %w", err)
	}
	m.Index.Add(pos.AccountID, pos.Symbol)

	logger.Info().
		Str("position_id", pos.ID).
		Str("account", pos.AccountID).
		Str("symbol", pos.Symbol).
		Str("side", pos.Side).
		Float64("entry", pos.EntryPrice).
		Float64("size", pos.Size).
		Msg("position opened")
	return pos, nil
}

// TickResult 一轮监控的统计
type TickResult struct {
	Open      int
	Updated   int
	Closed    int
	Ratcheted int
	Failed    int
}

// MonitorTick 处理所有 OPEN 持仓，单个持仓失败不影响其他持仓
func (m *Manager) MonitorTick(ctx context.Context) (TickResult, error) {
	var res TickResult

	open, err := m.Positions.ListOpen(ctx)
	if err != nil {
		return res, fmt.Errorf("list open positions: %w", err)
	}
	res.Open = len(open)
	m.Index.Rebuild(open)
	monitor.SetPositionsOpen(len(open))
	if len(open) == 0 {
		return res, nil
	}

	quotes := m.prefetch(ctx, open)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case o.err != nil:
			res.Failed++
			return
		case o.closed:
			res.Closed++
		}
		if o.updated {
			res.Updated++
		}
		if o.ratcheted {
			res.Ratcheted++
		}
	}

	for _, p := range open {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			var o outcome
			o.err = goplus.SafeRun(func() error {
				var err error
				o, err = m.process(ctx, p, quotes[p.Symbol])
				return err
			})
			if o.err != nil {
				logger.Error().Err(o.err).
					Str("position_id", p.ID).
					Str("symbol", p.Symbol).
					Msg("process position failed")
			}
			record(o)
		}
		if err := m.pool.Submit(task); err != nil {
			// 池已满或已释放，同步执行
			task()
		}
	}
	wg.Wait()

	if res.Closed > 0 || res.Failed > 0 {
		logger.Info().
			Int("open", res.Open).
			Int("closed", res.Closed).
			Int("ratcheted", res.Ratcheted).
			Int("failed", res.Failed).
			Msg("position monitor tick")
	}
	return res, nil
}

type quote struct {
	price float64
	err   error
}

// prefetch 每个交易对只取一次价格，同一 tick 内的持仓共用
func (m *Manager) prefetch(ctx context.Context, open []*models.Position) map[string]quote {
	symbols := make([]string, 0, len(open))
	seen := make(map[string]struct{}, len(open))
	for _, p := range open {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		symbols = append(symbols, p.Symbol)
	}

	// 每个 goroutine 只写自己的下标
	quotes := make([]quote, len(symbols))
	var g errgroup.Group
	g.SetLimit(m.opts.PoolSize)
	for i, symbol := range symbols {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
			defer cancel()
			quotes[i].price, quotes[i].err = m.Prices.GetPrice(cctx, symbol)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]quote, len(symbols))
	for i, symbol := range symbols {
		out[symbol] = quotes[i]
	}
	return out
}

type outcome struct {
	updated   bool
	closed    bool
	ratcheted bool
	err       error
}

// process 快照 -> 止盈 -> 止损 -> 跟踪止损；命中即平仓并结束本轮
func (m *Manager) process(ctx context.Context, p *models.Position, q quote) (outcome, error) {
	var o outcome

	if q.err != nil {
		monitor.IncPositionError("price")
		return o, fmt.Errorf("get price %s: %w", p.Symbol, q.err)
	}
	price := q.price

	pnl := Compute(p.Side, p.EntryPrice, p.Size, price)
	p.CurrentPrice = price
	p.UnrealizedPnl = pnl.Amount
	p.UnrealizedPnlPercent = pnl.Percent
	if m.Snapshots != nil {
		err := m.Snapshots.Add(dao.PositionSnapshot{
			ID:                   p.ID,
			CurrentPrice:         price,
			UnrealizedPnl:        pnl.Amount,
			UnrealizedPnlPercent: pnl.Percent,
		})
		if err != nil {
			monitor.IncPositionError("snapshot")
			logger.Warn().Err(err).Str("position_id", p.ID).Msg("queue position snapshot failed")
		} else {
			o.updated = true
		}
	}

	switch {
	case TakeProfitHit(p.Side, p.TakeProfit, price):
		err := m.Close(ctx, p, models.CloseReasonHitTP, price)
		o.closed = err == nil
		return o, err
	case StopLossHit(p.Side, p.StopLoss, price):
		err := m.Close(ctx, p, models.CloseReasonHitSL, price)
		o.closed = err == nil
		return o, err
	}

	if p.TrailingStopDistance != nil {
		if stop, ok := RatchetStop(p.Side, p.StopLoss, price, *p.TrailingStopDistance); ok {
			moved, err := m.Positions.RatchetStop(ctx, p.ID, p.Side, stop)
			if err != nil {
				monitor.IncPositionError("ratchet")
				return o, fmt.Errorf("ratchet stop: %w", err)
			}
			if moved {
				prev := p.StopLoss
				p.StopLoss = &stop
				o.ratcheted = true
				ev := logger.Info().Str("position_id", p.ID).Float64("stop", stop).Float64("price", price)
				if prev != nil {
					ev = ev.Float64("prev_stop", *prev)
				}
				ev.Msg("trailing stop tightened")
			}
		}
	}
	return o, nil
}

// Close 平仓：校验凭证 -> 反向 reduce-only 市价单 -> 条件更新 -> 回填成交记录 -> 投递反馈
// 强平路径交易所已平仓，不再下单
func (m *Manager) Close(ctx context.Context, p *models.Position, reason string, exitPrice float64) error {
	if p.Status != models.PositionStatusOpen {
		return ErrPositionNotOpen
	}
	liquidated := reason == models.CloseReasonLiquidated

	if !liquidated {
		creds, err := m.Creds.Resolve(p.AccountID)
		if err != nil {
			monitor.IncPositionError("credentials")
			logger.Error().Err(err).
				Str("position_id", p.ID).
				Str("account", p.AccountID).
				Msg("credentials unavailable, close aborted")
			return err
		}

		cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		order, err := m.Venues.New(creds).PlaceOrder(cctx, venue.OrderParams{
			Symbol:     p.Symbol,
			Side:       venue.CloseSide(p.Side),
			Quantity:   decimal.NewFromFloat(p.Size),
			ReduceOnly: true,
		})
		cancel()
		if err != nil {
			monitor.IncPositionError("order")
			return fmt.Errorf("place close order: %w", err)
		}
		logger.Info().Str("position_id", p.ID).Str("order_id", order.OrderID).Msg("close order placed")
	}

	now := m.nowFn()
	pnl := Compute(p.Side, p.EntryPrice, p.Size, exitPrice)
	status := models.PositionStatusClosed
	if liquidated {
		status = models.PositionStatusLiquidated
	}

	ok, err := m.Positions.Close(ctx, p.ID, dao.PositionClose{
		Status:             status,
		CloseReason:        reason,
		ExitPrice:          exitPrice,
		RealizedPnl:        pnl.Amount,
		RealizedPnlPercent: pnl.Percent,
		ClosedAt:           now,
	})
	if err != nil {
		monitor.IncPositionError("persist")
		return fmt.Errorf("persist close: %w", err)
	}
	if !ok {
		return ErrPositionNotOpen
	}

	p.Status = status
	p.CloseReason = &reason
	p.ExitPrice = &exitPrice
	p.RealizedPnl = &pnl.Amount
	p.RealizedPnlPercent = &pnl.Percent
	p.ClosedAt = &now
	m.Index.Remove(p.AccountID, p.Symbol)
	monitor.IncPositionClosed(reason)

	if p.TradeID != nil && m.Trades != nil {
		_, err = m.Trades.Close(ctx, *p.TradeID, dao.TradeClose{
			ExitPrice:   exitPrice,
			Pnl:         pnl.Amount,
			PnlPercent:  pnl.Percent,
			CloseReason: reason,
			ClosedAt:    now,
		})
		if err != nil {
			// 持仓已是终态，成交记录失败只记录
			logger.Error().Err(err).Str("trade_id", *p.TradeID).Msg("update linked trade failed")
		}
	}

	m.emitFeedback(p, reason, pnl, now)

	logger.Info().
		Str("position_id", p.ID).
		Str("symbol", p.Symbol).
		Str("reason", reason).
		Float64("exit", exitPrice).
		Float64("pnl", pnl.Amount).
		Float64("pnl_percent", pnl.Percent).
		Msg("position closed")
	return nil
}

// emitFeedback 投递失败或 panic 都不影响平仓结果
func (m *Manager) emitFeedback(p *models.Position, reason string, pnl PnL, closedAt time.Time) {
	if m.Feedback == nil {
		return
	}
	err := goplus.SafeRun(func() error {
		ok := m.Feedback.Emit(feedback.Event{
			PositionID:      p.ID,
			AccountID:       p.AccountID,
			Symbol:          p.Symbol,
			Action:          p.Side,
			Pnl:             pnl.Amount,
			PnlPercent:      pnl.Percent,
			DurationSeconds: int64(closedAt.Sub(p.OpenedAt).Seconds()),
			Strategy:        p.StrategyTag,
			CloseReason:     reason,
			ClosedAt:        closedAt,
		})
		if !ok {
			return errors.New("feedback not queued")
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("position_id", p.ID).Msg("emit trade feedback failed")
	}
}

// ClosePosition 人工平仓，按当前价结算
func (m *Manager) ClosePosition(ctx context.Context, id string) error {
	p, err := m.Positions.Get(ctx, id)
	if errors.Is(err, dao.ErrNotFound) {
		return ErrPositionNotOpen
	}
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	price, err := m.Prices.GetPrice(cctx, p.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("get price %s: %w", p.Symbol, err)
	}
	return m.Close(ctx, p, models.CloseReasonManual, price)
}

// Liquidate 交易所已强平，只记录结果
func (m *Manager) Liquidate(ctx context.Context, id string, price float64) error {
	p, err := m.Positions.Get(ctx, id)
	if errors.Is(err, dao.ErrNotFound) {
		return ErrPositionNotOpen
	}
	if err != nil {
		return err
	}
	return m.Close(ctx, p, models.CloseReasonLiquidated, price)
}

func (m *Manager) Release() {
	m.pool.Release()
}

func (m *Manager) Stats() map[string]any {
	return map[string]any{
		"open_index": m.Index.Len(),
		"pool_busy":  m.pool.Running(),
	}
}
