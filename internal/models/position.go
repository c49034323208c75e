package models

import "time"

const (
	PositionStatusOpen       = "OPEN"
	PositionStatusClosed     = "CLOSED"
	PositionStatusLiquidated = "LIQUIDATED"
)

const (
	CloseReasonHitTP      = "HIT_TP"
	CloseReasonHitSL      = "HIT_SL"
	CloseReasonManual     = "MANUAL"
	CloseReasonLiquidated = "LIQUIDATED"
)

// Position 已成交信号对应的持仓
type Position struct {
	ID        string `gorm:"type:varchar(36);primaryKey" json:"id"`
	AccountID string `gorm:"type:varchar(64);not null;index:idx_account_symbol,priority:1" json:"account_id"`
	Symbol    string `gorm:"type:varchar(24);not null;index:idx_account_symbol,priority:2" json:"symbol"`
	Side      string `gorm:"type:varchar(8);not null;comment:LONG/SHORT" json:"side"`

	EntryPrice           float64  `gorm:"type:decimal(28,12);not null" json:"entry_price"`
	Size                 float64  `gorm:"type:decimal(28,12);not null;comment:数量" json:"size"`
	Leverage             int      `gorm:"not null;default:1" json:"leverage"`
	StopLoss             *float64 `gorm:"type:decimal(28,12);comment:止损价，跟踪止损只会收紧" json:"stop_loss,omitempty"`
	TakeProfit           *float64 `gorm:"type:decimal(28,12)" json:"take_profit,omitempty"`
	TrailingStopDistance *float64 `gorm:"type:decimal(10,4);comment:跟踪止损距离(%)" json:"trailing_stop_distance,omitempty"`

	// 持仓期间每个监控周期刷新
	CurrentPrice         float64 `gorm:"type:decimal(28,12);not null;default:0" json:"current_price"`
	UnrealizedPnl        float64 `gorm:"type:decimal(28,12);not null;default:0" json:"unrealized_pnl"`
	UnrealizedPnlPercent float64 `gorm:"type:decimal(18,6);not null;default:0" json:"unrealized_pnl_percent"`

	Status             string     `gorm:"type:varchar(16);not null;index;comment:OPEN/CLOSED/LIQUIDATED" json:"status"`
	CloseReason        *string    `gorm:"type:varchar(16)" json:"close_reason,omitempty"`
	RealizedPnl        *float64   `gorm:"type:decimal(28,12)" json:"realized_pnl,omitempty"`
	RealizedPnlPercent *float64   `gorm:"type:decimal(18,6)" json:"realized_pnl_percent,omitempty"`
	ExitPrice          *float64   `gorm:"type:decimal(28,12)" json:"exit_price,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`

	TradeID     *string   `gorm:"type:varchar(36);index;comment:关联成交记录" json:"trade_id,omitempty"`
	StrategyTag string    `gorm:"type:varchar(64);not null;default:''" json:"strategy_tag"`
	OpenedAt    time.Time `gorm:"not null" json:"opened_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
