package position

import (
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-signal-engine/internal/models"
)

var hundred = decimal.NewFromInt(100)

// PnL 盈亏金额与百分比
type PnL struct {
	Amount  float64
	Percent float64
}

// Compute 多单 current-entry，空单 entry-current，百分比相对入场价值
func Compute(side string, entry, size, price float64) PnL {
	entryValue := decimal.NewFromFloat(entry).Mul(decimal.NewFromFloat(size))
	currentValue := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(size))

	amount := currentValue.Sub(entryValue)
	if side == models.DirectionShort {
		amount = entryValue.Sub(currentValue)
	}

	var pct decimal.Decimal
	if !entryValue.IsZero() {
		pct = amount.Div(entryValue).Mul(hundred)
	}
	a, _ := amount.Round(8).Float64()
	p, _ := pct.Round(6).Float64()
	return PnL{Amount: a, Percent: p}
}

// TakeProfitHit 多单价格 >= 止盈，空单 <=
func TakeProfitHit(side string, takeProfit *float64, price float64) bool {
	if takeProfit == nil || *takeProfit <= 0 {
		return false
	}
	if side == models.DirectionShort {
		return price <= *takeProfit
	}
	return price >= *takeProfit
}

// StopLossHit 多单价格 <= 止损，空单 >=
func StopLossHit(side string, stopLoss *float64, price float64) bool {
	if stopLoss == nil || *stopLoss <= 0 {
		return false
	}
	if side == models.DirectionShort {
		return price >= *stopLoss
	}
	return price <= *stopLoss
}

// TrailingCandidate 多单 price*(1-d/100)，空单 price*(1+d/100)
func TrailingCandidate(side string, price, distance float64) float64 {
	ratio := decimal.NewFromFloat(distance).Div(hundred)
	p := decimal.NewFromFloat(price)
	var c decimal.Decimal
	if side == models.DirectionShort {
		c = p.Mul(decimal.NewFromInt(1).Add(ratio))
	} else {
		c = p.Mul(decimal.NewFromInt(1).Sub(ratio))
	}
	v, _ := c.Round(8).Float64()
	return v
}

// RatchetStop 候选止损更有利或尚无止损时返回新值；永不放松
func RatchetStop(side string, current *float64, price, distance float64) (float64, bool) {
	if distance <= 0 || price <= 0 {
		return 0, false
	}
	candidate := TrailingCandidate(side, price, distance)
	if current == nil || *current <= 0 {
		return candidate, true
	}
	if side == models.DirectionShort {
		return candidate, candidate < *current
	}
	return candidate, candidate > *current
}
