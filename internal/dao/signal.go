package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-signal-engine/internal/models"
)

// SignalResolution 信号终态字段，一次写入
type SignalResolution struct {
	Status       string
	Outcome      *string
	PnlPercent   *float64
	PriceAtClose *float64
	ClosedAt     time.Time
}

type SignalDAO struct {
	db *gorm.DB
}

var _signal *SignalDAO

func NewSignalDAO(db *gorm.DB) *SignalDAO {
	return &SignalDAO{db: db}
}

// Signal 获取 SignalDAO 单例
func Signal() *SignalDAO {
	return _signal
}

func (d *SignalDAO) Create(ctx context.Context, s *models.TrackedSignal) error {
	return d.db.WithContext(ctx).Create(s).Error
}

func (d *SignalDAO) Get(ctx context.Context, id string) (*models.TrackedSignal, error) {
	var s models.TrackedSignal
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// MarkExecuted 记录下单信息，executed 只会被置为 true
func (d *SignalDAO) MarkExecuted(ctx context.Context, id, venueOrderID string, executionPrice float64) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.TrackedSignal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"executed":        true,
			"venue_order_id":  venueOrderID,
			"execution_price": executionPrice,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// MySQL 默认只统计值发生变化的行，重复写入相同值时需再确认记录是否存在
	var n int64
	if err := d.db.WithContext(ctx).Model(&models.TrackedSignal{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Resolve 仅当信号仍为 PENDING 时写入终态，返回是否由本次写入
func (d *SignalDAO) Resolve(ctx context.Context, id string, r SignalResolution) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.TrackedSignal{}).
		Where("id = ? AND status = ?", id, models.SignalStatusPending).
		Updates(map[string]any{
			"status":         r.Status,
			"outcome":        r.Outcome,
			"pnl_percent":    r.PnlPercent,
			"price_at_close": r.PriceAtClose,
			"closed_at":      r.ClosedAt,
		})
	return res.RowsAffected > 0, res.Error
}

// ListPending 所有 PENDING 信号，包括已过期待处理的
func (d *SignalDAO) ListPending(ctx context.Context) ([]*models.TrackedSignal, error) {
	var list []*models.TrackedSignal
	err := d.db.WithContext(ctx).
		Where("status = ?", models.SignalStatusPending).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

// ListOverdue PENDING 且 expires_at 早于 now
func (d *SignalDAO) ListOverdue(ctx context.Context, now time.Time) ([]*models.TrackedSignal, error) {
	var list []*models.TrackedSignal
	err := d.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.SignalStatusPending, now).
		Find(&list).Error
	return list, err
}

// ListByAccountSince 账户在 since 之后创建的信号，accountID 为空时不按账户过滤
func (d *SignalDAO) ListByAccountSince(ctx context.Context, accountID string, since time.Time) ([]*models.TrackedSignal, error) {
	q := d.db.WithContext(ctx).Where("created_at >= ?", since)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var list []*models.TrackedSignal
	err := q.Order("created_at ASC").Find(&list).Error
	return list, err
}

// DeleteClosedBefore 清理指定终态且 closed_at 早于 before 的信号
func (d *SignalDAO) DeleteClosedBefore(ctx context.Context, statuses []string, before time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("status IN ? AND closed_at < ?", statuses, before).
		Delete(&models.TrackedSignal{})
	return res.RowsAffected, res.Error
}
