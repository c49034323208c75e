package models

import "time"

const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Trade 入场成交记录，平仓时回填终态字段
type Trade struct {
	ID           string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	AccountID    string  `gorm:"type:varchar(64);not null;index" json:"account_id"`
	SignalID     *string `gorm:"type:varchar(36);index" json:"signal_id,omitempty"`
	Symbol       string  `gorm:"type:varchar(24);not null" json:"symbol"`
	Side         string  `gorm:"type:varchar(8);not null" json:"side"`
	EntryPrice   float64 `gorm:"type:decimal(28,12);not null" json:"entry_price"`
	Size         float64 `gorm:"type:decimal(28,12);not null" json:"size"`
	VenueOrderID string  `gorm:"type:varchar(64);not null;default:''" json:"venue_order_id"`
	StrategyTag  string  `gorm:"type:varchar(64);not null;default:''" json:"strategy_tag"`

	Status      string     `gorm:"type:varchar(16);not null;index" json:"status"`
	ExitPrice   *float64   `gorm:"type:decimal(28,12)" json:"exit_price,omitempty"`
	Pnl         *float64   `gorm:"type:decimal(28,12)" json:"pnl,omitempty"`
	PnlPercent  *float64   `gorm:"type:decimal(18,6)" json:"pnl_percent,omitempty"`
	CloseReason *string    `gorm:"type:varchar(16)" json:"close_reason,omitempty"`
	OpenedAt    time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

func (Trade) TableName() string {
	return "trades"
}
