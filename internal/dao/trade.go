package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-signal-engine/internal/models"
)

// TradeClose 成交记录的终态字段
type TradeClose struct {
	ExitPrice   float64
	Pnl         float64
	PnlPercent  float64
	CloseReason string
	ClosedAt    time.Time
}

type TradeDAO struct {
	db *gorm.DB
}

var _trade *TradeDAO

func NewTradeDAO(db *gorm.DB) *TradeDAO {
	return &TradeDAO{db: db}
}

// Trade 获取 TradeDAO 单例
func Trade() *TradeDAO {
	return _trade
}

func (d *TradeDAO) Create(ctx context.Context, t *models.Trade) error {
	return d.db.WithContext(ctx).Create(t).Error
}

func (d *TradeDAO) Get(ctx context.Context, id string) (*models.Trade, error) {
	var t models.Trade
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Close 仅当成交记录仍为 OPEN 时写入
func (d *TradeDAO) Close(ctx context.Context, id string, c TradeClose) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.TradeStatusOpen).
		Updates(map[string]any{
			"status":       models.TradeStatusClosed,
			"exit_price":   c.ExitPrice,
			"pnl":          c.Pnl,
			"pnl_percent":  c.PnlPercent,
			"close_reason": c.CloseReason,
			"closed_at":    c.ClosedAt,
		})
	return res.RowsAffected > 0, res.Error
}
