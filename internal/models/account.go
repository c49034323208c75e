package models

import "time"

// AnalysisAccount 参与定时分析的账户配置
type AnalysisAccount struct {
	ID                      string   `gorm:"type:varchar(64);primaryKey" json:"id"`
	Enabled                 bool     `gorm:"not null;index" json:"enabled"`
	Timeframes              []string `gorm:"type:json;serializer:json;comment:关注的周期，如 [\"15m\",\"1h\"]" json:"timeframes"`
	WatchList               []string `gorm:"type:json;serializer:json;comment:关注的交易对" json:"watch_list"`
	ActiveStrategyVersionID *string  `gorm:"type:varchar(64)" json:"active_strategy_version_id,omitempty"`

	// 自动下单
	AutoTrade           bool    `gorm:"not null;default:false" json:"auto_trade"`
	RiskPercent         float64 `gorm:"type:decimal(6,3);not null;default:1;comment:单笔保证金占可用余额(%)" json:"risk_percent"`
	Leverage            int     `gorm:"not null;default:1" json:"leverage"`
	TrailingStopPercent float64 `gorm:"type:decimal(10,4);not null;default:0;comment:0 表示不跟踪" json:"trailing_stop_percent"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AnalysisAccount) TableName() string {
	return "analysis_accounts"
}

// StrategyVersion 账户的策略版本；Symbol 非空时锁定该交易对
type StrategyVersion struct {
	ID          string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	AccountID   string    `gorm:"type:varchar(64);not null;index" json:"account_id"`
	Tag         string    `gorm:"type:varchar(64);not null;comment:策略标识" json:"tag"`
	Symbol      string    `gorm:"type:varchar(24);not null;default:'';comment:校准交易对" json:"symbol"`
	Methodology string    `gorm:"type:varchar(32);not null;default:''" json:"methodology"`
	Active      bool      `gorm:"not null;default:false" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (StrategyVersion) TableName() string {
	return "strategy_versions"
}
