package market

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/spf13/cast"
)

const maxKlineLimit = 1500

// BinanceFeed 基于 go-binance 合约 REST 接口
type BinanceFeed struct {
	client *futures.Client
	nowFn  func() time.Time
}

func NewBinanceFeed(baseURL string, timeout time.Duration) *BinanceFeed {
	client := futures.NewClient("", "")
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		client.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceFeed{client: client, nowFn: time.Now}
}

func (f *BinanceFeed) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := f.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("list prices %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p == nil || p.Symbol != symbol {
			continue
		}
		v, err := cast.ToFloat64E(p.Price)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid price %q for %s", p.Price, symbol)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
}

// GetKlines 返回已收盘的 K 线，未收盘的最后一根被丢弃
func (f *BinanceFeed) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	kls, err := f.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	nowMs := f.nowFn().UnixMilli()
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil || kl.CloseTime > nowMs {
			continue
		}
		out = append(out, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      cast.ToFloat64(kl.Open),
			High:      cast.ToFloat64(kl.High),
			Low:       cast.ToFloat64(kl.Low),
			Close:     cast.ToFloat64(kl.Close),
			Volume:    cast.ToFloat64(kl.Volume),
		})
	}
	return out, nil
}
