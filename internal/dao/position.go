package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-signal-engine/internal/models"
)

// PositionSnapshot 监控周期刷新的实时字段
type PositionSnapshot struct {
	ID                   string
	CurrentPrice         float64
	UnrealizedPnl        float64
	UnrealizedPnlPercent float64
}

// PositionClose 平仓终态字段
type PositionClose struct {
	Status             string
	CloseReason        string
	ExitPrice          float64
	RealizedPnl        float64
	RealizedPnlPercent float64
	ClosedAt           time.Time
}

type PositionDAO struct {
	db *gorm.DB
}

var _position *PositionDAO

func NewPositionDAO(db *gorm.DB) *PositionDAO {
	return &PositionDAO{db: db}
}

// Position 获取 PositionDAO 单例
func Position() *PositionDAO {
	return _position
}

func (d *PositionDAO) Create(ctx context.Context, p *models.Position) error {
	return d.db.WithContext(ctx).Create(p).Error
}

func (d *PositionDAO) Get(ctx context.Context, id string) (*models.Position, error) {
	var p models.Position
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (d *PositionDAO) ListOpen(ctx context.Context) ([]*models.Position, error) {
	var list []*models.Position
	err := d.db.WithContext(ctx).
		Where("status = ?", models.PositionStatusOpen).
		Order("opened_at ASC").
		Find(&list).Error
	return list, err
}

// UpdateSnapshots 批量刷新实时字段，已平仓的记录不会被覆盖
func (d *PositionDAO) UpdateSnapshots(ctx context.Context, snaps []PositionSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range snaps {
			err := tx.Model(&models.Position{}).
				Where("id = ? AND status = ?", s.ID, models.PositionStatusOpen).
				Updates(map[string]any{
					"current_price":          s.CurrentPrice,
					"unrealized_pnl":         s.UnrealizedPnl,
					"unrealized_pnl_percent": s.UnrealizedPnlPercent,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RatchetStop 只在新止损更有利时写入：LONG 只升，SHORT 只降
func (d *PositionDAO) RatchetStop(ctx context.Context, id, side string, stop float64) (bool, error) {
	q := d.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", id, models.PositionStatusOpen)
	if side == models.DirectionShort {
		q = q.Where("stop_loss IS NULL OR stop_loss > ?", stop)
	} else {
		q = q.Where("stop_loss IS NULL OR stop_loss < ?", stop)
	}
	res := q.Update("stop_loss", stop)
	return res.RowsAffected > 0, res.Error
}

// Close 仅当仍为 OPEN 时写入终态
func (d *PositionDAO) Close(ctx context.Context, id string, c PositionClose) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", id, models.PositionStatusOpen).
		Updates(map[string]any{
			"status":                 c.Status,
			"close_reason":           c.CloseReason,
			"exit_price":             c.ExitPrice,
			"current_price":          c.ExitPrice,
			"realized_pnl":           c.RealizedPnl,
			"realized_pnl_percent":   c.RealizedPnlPercent,
			"unrealized_pnl":         0,
			"unrealized_pnl_percent": 0,
			"closed_at":              c.ClosedAt,
		})
	return res.RowsAffected > 0, res.Error
}
