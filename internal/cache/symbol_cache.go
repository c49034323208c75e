package cache

import (
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-signal-engine/pkg/concurrent"
)

// SymbolMeta 合约交易规则
type SymbolMeta struct {
	Symbol            string
	Status            string
	StepSize          decimal.Decimal
	MinQty            decimal.Decimal
	QuantityPrecision int
	PricePrecision    int
}

// SymbolCache 交易对 -> 交易规则
type SymbolCache struct {
	metas concurrent.Map[string, SymbolMeta]
}

func NewSymbolCache() *SymbolCache {
	return &SymbolCache{}
}

func (c *SymbolCache) Get(symbol string) (SymbolMeta, bool) {
	return c.metas.Load(symbol)
}

func (c *SymbolCache) Set(meta SymbolMeta) {
	c.metas.Store(meta.Symbol, meta)
}

// IsTradable 已加载且状态为 TRADING
func (c *SymbolCache) IsTradable(symbol string) bool {
	m, ok := c.metas.Load(symbol)
	return ok && m.Status == "TRADING"
}

// RoundQuantity 按步长向下取整，未知交易对按数量精度截断
func (c *SymbolCache) RoundQuantity(symbol string, qty decimal.Decimal) decimal.Decimal {
	m, ok := c.metas.Load(symbol)
	if !ok {
		return qty.Truncate(3)
	}
	if m.StepSize.IsPositive() {
		return qty.Div(m.StepSize).Floor().Mul(m.StepSize)
	}
	return qty.Truncate(int32(m.QuantityPrecision))
}

func (c *SymbolCache) Len() int64 {
	return c.metas.Len()
}

func (c *SymbolCache) Stats() map[string]any {
	return map[string]any{"symbol_count": c.metas.Len()}
}
