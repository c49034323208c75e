package account

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
	"github.com/utrading/utrading-signal-engine/pkg/goplus"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// Source 账户配置来源，由 dao.AccountDAO 实现
type Source interface {
	ListEnabled(ctx context.Context) ([]*models.AnalysisAccount, error)
	ActiveStrategies(ctx context.Context, ids []string) (map[string]*models.StrategyVersion, error)
}

// Account 一个参与分析的账户及其启用中的策略版本
type Account struct {
	Account  *models.AnalysisAccount
	Strategy *models.StrategyVersion // 可能为 nil
}

func (a Account) ID() string {
	return a.Account.ID
}

// Symbols 策略锁定交易对时只分析该交易对
func (a Account) Symbols() []string {
	if a.Strategy != nil && a.Strategy.Symbol != "" {
		return []string{a.Strategy.Symbol}
	}
	return a.Account.WatchList
}

func (a Account) StrategyTag() string {
	if a.Strategy == nil {
		return ""
	}
	return a.Strategy.Tag
}

func (a Account) StrategyID() *string {
	if a.Strategy == nil {
		return nil
	}
	id := a.Strategy.ID
	return &id
}

// Methodology 策略未指定时使用 fallback
func (a Account) Methodology(fallback string) string {
	if a.Strategy != nil && a.Strategy.Methodology != "" {
		return a.Strategy.Methodology
	}
	return fallback
}

// Loader 账户加载器，定期从 analysis_accounts 表重建快照
type Loader struct {
	source    Source
	interval  time.Duration
	timeout   time.Duration
	snapshot  atomic.Pointer[[]Account]
	lastIDs   map[string]bool
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewLoader(source Source, interval time.Duration) *Loader {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		source:   source,
		interval: interval,
		timeout:  10 * time.Second,
		lastIDs:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	empty := make([]Account, 0)
	l.snapshot.Store(&empty)
	return l
}

// Start 首次加载失败返回错误
func (l *Loader) Start() error {
	if err := l.Reload(l.ctx); err != nil {
		return err
	}

	goplus.Go(func() {
		l.periodicReload()
	})
	return nil
}

func (l *Loader) periodicReload() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.Reload(l.ctx); err != nil {
				logger.Error().Err(err).Msg("account reload failed")
			}
		}
	}
}

// Reload 读取启用账户并整体替换快照；失败时保留旧快照
func (l *Loader) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	list, err := l.source.ListEnabled(ctx)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	ids := make([]string, 0, len(list))
	for _, a := range list {
		if a.ActiveStrategyVersionID != nil && *a.ActiveStrategyVersionID != "" {
			ids = append(ids, *a.ActiveStrategyVersionID)
		}
	}
	strategies, err := l.source.ActiveStrategies(ctx, ids)
	if err != nil {
		return err
	}

	accounts := make([]Account, 0, len(list))
	current := make(map[string]bool, len(list))
	for _, a := range list {
		acc := Account{Account: a}
		if a.ActiveStrategyVersionID != nil {
			// 已停用的策略版本视为未配置
			acc.Strategy = strategies[*a.ActiveStrategyVersionID]
		}
		accounts = append(accounts, acc)
		current[a.ID] = true
	}

	l.mu.Lock()
	var added, removed int
	for id := range current {
		if !l.lastIDs[id] {
			added++
		}
	}
	for id := range l.lastIDs {
		if !current[id] {
			removed++
		}
	}
	l.lastIDs = current
	l.mu.Unlock()

	l.snapshot.Store(&accounts)
	monitor.SetAccountsLoaded(len(accounts))

	if added > 0 || removed > 0 {
		logger.Info().
			Int("total", len(accounts)).
			Int("added", added).
			Int("removed", removed).
			Msg("account sync completed")
	}
	return nil
}

// Eligible 当前快照，调用方不应修改
func (l *Loader) Eligible() []Account {
	return *l.snapshot.Load()
}

func (l *Loader) Get(id string) (Account, bool) {
	for _, a := range l.Eligible() {
		if a.Account.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

func (l *Loader) Stop() {
	l.closeOnce.Do(l.cancel)
}
