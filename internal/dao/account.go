package dao

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/utrading/utrading-signal-engine/internal/models"
)

type AccountDAO struct {
	db *gorm.DB
}

var _account *AccountDAO

func NewAccountDAO(db *gorm.DB) *AccountDAO {
	return &AccountDAO{db: db}
}

// Account 获取 AccountDAO 单例
func Account() *AccountDAO {
	return _account
}

// Upsert 按主键写入账户配置
func (d *AccountDAO) Upsert(ctx context.Context, a *models.AnalysisAccount) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "timeframes", "watch_list", "active_strategy_version_id",
			"auto_trade", "risk_percent", "leverage", "trailing_stop_percent", "updated_at",
		}),
	}).Create(a).Error
}

func (d *AccountDAO) UpsertStrategy(ctx context.Context, s *models.StrategyVersion) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tag", "symbol", "methodology", "active"}),
	}).Create(s).Error
}

func (d *AccountDAO) ListEnabled(ctx context.Context) ([]*models.AnalysisAccount, error) {
	var list []*models.AnalysisAccount
	err := d.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&list).Error
	return list, err
}

// ActiveStrategies 按 id 取启用中的策略版本
func (d *AccountDAO) ActiveStrategies(ctx context.Context, ids []string) (map[string]*models.StrategyVersion, error) {
	out := make(map[string]*models.StrategyVersion, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []*models.StrategyVersion
	if err := d.db.WithContext(ctx).Where("id IN ? AND active = ?", ids, true).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, s := range list {
		out[s.ID] = s
	}
	return out, nil
}
