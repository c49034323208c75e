package market

import (
	"context"
	"errors"
)

// ErrNoPrice 行情源没有该交易对的价格
var ErrNoPrice = errors.New("market: no price for symbol")

// Candle 已收盘 K 线
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PriceFeed 最新价
type PriceFeed interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Feed 价格 + K 线
type Feed interface {
	PriceFeed
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// Closes 提取收盘价序列
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
