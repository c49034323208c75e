package signal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-signal-engine/internal/models"
)

// Stats 一段时间内的信号表现
type Stats struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Terminal        int     `json:"terminal"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	Breakeven       int     `json:"breakeven"`
	WinRate         float64 `json:"win_rate"` // 百分比，无胜负时为 0
	AvgWinPercent   float64 `json:"avg_win_percent"`
	AvgLossPercent  float64 `json:"avg_loss_percent"`
	TotalPnlPercent float64 `json:"total_pnl_percent"` // 简单求和
}

// Aggregate 汇总信号列表
func Aggregate(list []*models.TrackedSignal) Stats {
	var st Stats
	sumWin, sumLoss, total := decimal.Zero, decimal.Zero, decimal.Zero

	for _, s := range list {
		st.Total++
		if !s.IsTerminal() {
			st.Pending++
			continue
		}
		st.Terminal++

		if s.PnlPercent != nil {
			total = total.Add(decimal.NewFromFloat(*s.PnlPercent))
		}
		if s.Outcome == nil {
			continue
		}
		switch *s.Outcome {
		case models.OutcomeWin:
			st.Wins++
			if s.PnlPercent != nil {
				sumWin = sumWin.Add(decimal.NewFromFloat(*s.PnlPercent))
			}
		case models.OutcomeLoss:
			st.Losses++
			if s.PnlPercent != nil {
				sumLoss = sumLoss.Add(decimal.NewFromFloat(*s.PnlPercent))
			}
		case models.OutcomeBreakeven:
			st.Breakeven++
		}
	}

	if decided := st.Wins + st.Losses; decided > 0 {
		st.WinRate, _ = decimal.NewFromInt(int64(st.Wins)).
			Div(decimal.NewFromInt(int64(decided))).
			Mul(decimal.NewFromInt(100)).Round(4).Float64()
	}
	if st.Wins > 0 {
		st.AvgWinPercent, _ = sumWin.Div(decimal.NewFromInt(int64(st.Wins))).Round(6).Float64()
	}
	if st.Losses > 0 {
		st.AvgLossPercent, _ = sumLoss.Div(decimal.NewFromInt(int64(st.Losses))).Round(6).Float64()
	}
	st.TotalPnlPercent, _ = total.Round(6).Float64()
	return st
}

// Stats 账户在 window 时间窗内的信号表现，accountID 为空时统计全部
func (m *Manager) Stats(ctx context.Context, accountID string, window time.Duration) (Stats, error) {
	list, err := m.store.ListByAccountSince(ctx, accountID, m.nowFn().Add(-window))
	if err != nil {
		return Stats{}, err
	}
	return Aggregate(list), nil
}
