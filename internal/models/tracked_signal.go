package models

import "time"

const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

const (
	SignalStatusPending   = "PENDING"
	SignalStatusHitTP     = "HIT_TP"
	SignalStatusHitSL     = "HIT_SL"
	SignalStatusExpired   = "EXPIRED"
	SignalStatusCancelled = "CANCELLED"
)

const (
	OutcomeWin       = "WIN"
	OutcomeLoss      = "LOSS"
	OutcomeBreakeven = "BREAKEVEN"
)

// TrackedSignal 决策源给出的交易信号，PENDING 之外的状态均为终态
type TrackedSignal struct {
	ID                string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	AccountID         string  `gorm:"type:varchar(64);not null;index:idx_account_status,priority:1;comment:账户" json:"account_id"`
	StrategyVersionID *string `gorm:"type:varchar(64);comment:策略版本" json:"strategy_version_id,omitempty"`

	Symbol     string  `gorm:"type:varchar(24);not null;index;comment:交易对" json:"symbol"`
	Direction  string  `gorm:"type:varchar(8);not null;comment:LONG/SHORT" json:"direction"`
	EntryPrice float64 `gorm:"type:decimal(28,12);not null;comment:入场价" json:"entry_price"`
	StopLoss   float64 `gorm:"type:decimal(28,12);not null;default:0;comment:止损价" json:"stop_loss"`
	TakeProfit float64 `gorm:"type:decimal(28,12);not null;default:0;comment:止盈价" json:"take_profit"`
	Confidence float64 `gorm:"type:decimal(6,4);not null;default:0;comment:置信度 0~1" json:"confidence"`

	// 各角色给出的理由，写入后不再修改
	DecisionReasoning string         `gorm:"type:text" json:"decision_reasoning"`
	RiskReasoning     string         `gorm:"type:text" json:"risk_reasoning"`
	MarketReasoning   string         `gorm:"type:text" json:"market_reasoning"`
	Indicators        map[string]any `gorm:"type:json;serializer:json;comment:创建时的指标快照" json:"indicators"`

	Status       string   `gorm:"type:varchar(16);not null;index:idx_account_status,priority:2;index:idx_status_expires,priority:1;comment:信号状态" json:"status"`
	Outcome      *string  `gorm:"type:varchar(16);comment:WIN/LOSS/BREAKEVEN" json:"outcome,omitempty"`
	PnlPercent   *float64 `gorm:"type:decimal(18,6);comment:结果收益率(%)" json:"pnl_percent,omitempty"`
	PriceAtClose *float64 `gorm:"type:decimal(28,12);comment:终态时价格" json:"price_at_close,omitempty"`

	Executed       bool     `gorm:"not null;default:false;comment:是否已下单" json:"executed"`
	VenueOrderID   *string  `gorm:"type:varchar(64);comment:交易所订单号" json:"venue_order_id,omitempty"`
	ExecutionPrice *float64 `gorm:"type:decimal(28,12);comment:成交价" json:"execution_price,omitempty"`

	CreatedAt time.Time  `gorm:"not null;index;comment:创建时间" json:"created_at"`
	ExpiresAt time.Time  `gorm:"not null;index:idx_status_expires,priority:2;comment:过期时间" json:"expires_at"`
	ClosedAt  *time.Time `gorm:"comment:终态时间" json:"closed_at,omitempty"`
}

func (TrackedSignal) TableName() string {
	return "tracked_signals"
}

// IsTerminal 是否已离开 PENDING
func (s *TrackedSignal) IsTerminal() bool {
	return s.Status != SignalStatusPending
}
