package cache

import (
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/pkg/concurrent"
)

// OpenPositionIndex 账户在各交易对上是否持仓，由持仓监控每轮重建
type OpenPositionIndex struct {
	data concurrent.Map[string, int]
}

func NewOpenPositionIndex() *OpenPositionIndex {
	return &OpenPositionIndex{}
}

func indexKey(accountID, symbol string) string {
	return accountID + "|" + symbol
}

func (x *OpenPositionIndex) HasOpenPosition(accountID, symbol string) bool {
	n, ok := x.data.Load(indexKey(accountID, symbol))
	return ok && n > 0
}

func (x *OpenPositionIndex) Add(accountID, symbol string) {
	key := indexKey(accountID, symbol)
	n, _ := x.data.Load(key)
	x.data.Store(key, n+1)
}

func (x *OpenPositionIndex) Remove(accountID, symbol string) {
	key := indexKey(accountID, symbol)
	n, ok := x.data.Load(key)
	if !ok {
		return
	}
	if n <= 1 {
		x.data.Delete(key)
		return
	}
	x.data.Store(key, n-1)
}

// Rebuild 用当前 OPEN 持仓整体替换
func (x *OpenPositionIndex) Rebuild(positions []*models.Position) {
	counts := make(map[string]int, len(positions))
	for _, p := range positions {
		counts[indexKey(p.AccountID, p.Symbol)]++
	}
	x.data.Range(func(k string, _ int) bool {
		if _, ok := counts[k]; !ok {
			x.data.Delete(k)
		}
		return true
	})
	for k, n := range counts {
		x.data.Store(k, n)
	}
}

func (x *OpenPositionIndex) Len() int64 {
	return x.data.Len()
}
