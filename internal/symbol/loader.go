package symbol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-signal-engine/internal/cache"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// ExchangeInfoSource 合约交易规则来源
type ExchangeInfoSource interface {
	ExchangeInfo(ctx context.Context) (*futures.ExchangeInfo, error)
}

// BinanceSource 公共接口，无需凭证
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceSource{client: client}
}

func (s *BinanceSource) ExchangeInfo(ctx context.Context) (*futures.ExchangeInfo, error) {
	return s.client.NewExchangeInfoService().Do(ctx)
}

// Loader Symbol 元数据加载器
type Loader struct {
	cache          *cache.SymbolCache
	source         ExchangeInfoSource
	reloadInterval time.Duration
	done           chan struct{}
	closeOnce      sync.Once
}

// NewLoader 创建 Loader，首次加载失败会返回错误
func NewLoader(symbolCache *cache.SymbolCache, source ExchangeInfoSource, reloadInterval time.Duration) (*Loader, error) {
	if reloadInterval <= 0 {
		reloadInterval = 2 * time.Hour
	}
	sl := &Loader{
		cache:          symbolCache,
		source:         source,
		reloadInterval: reloadInterval,
		done:           make(chan struct{}),
	}

	if err := sl.loadMeta(); err != nil {
		return nil, err
	}

	logger.Info().Int64("symbol_count", symbolCache.Len()).Msg("symbol loader initialized")
	return sl, nil
}

// Start 启动后台重载
func (sl *Loader) Start() {
	ticker := time.NewTicker(sl.reloadInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sl.loadMeta(); err != nil {
					logger.Error().Err(err).Msg("reload symbol meta failed")
				}
			case <-sl.done:
				return
			}
		}
	}()
}

// Close 停止重载
func (sl *Loader) Close() {
	sl.closeOnce.Do(func() { close(sl.done) })
}

// loadMeta 拉取 exchangeInfo 并覆盖缓存，失败时保留旧数据
func (sl *Loader) loadMeta() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := sl.source.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}

	n := 0
	for i := range info.Symbols {
		meta, ok := buildMeta(&info.Symbols[i])
		if !ok {
			continue
		}
		sl.cache.Set(meta)
		n++
	}

	logger.Info().Int("symbol_count", n).Msg("symbol meta reloaded")
	return nil
}

// buildMeta 只保留 U 本位永续
func buildMeta(s *futures.Symbol) (cache.SymbolMeta, bool) {
	if s.Symbol == "" || (s.ContractType != "" && s.ContractType != futures.ContractTypePerpetual) {
		return cache.SymbolMeta{}, false
	}
	meta := cache.SymbolMeta{
		Symbol:            s.Symbol,
		Status:            s.Status,
		QuantityPrecision: s.QuantityPrecision,
		PricePrecision:    s.PricePrecision,
	}
	if lot := s.LotSizeFilter(); lot != nil {
		meta.StepSize, _ = decimal.NewFromString(lot.StepSize)
		meta.MinQty, _ = decimal.NewFromString(lot.MinQuantity)
	}
	return meta, true
}
