package market

import (
	"context"
	"time"

	"github.com/utrading/utrading-signal-engine/pkg/concurrent"
)

// Tick 推送的最新价
type Tick struct {
	Price float64
	At    time.Time
}

// StreamPrices 保存 websocket 推送的标记价格
type StreamPrices struct {
	ticks concurrent.Map[string, Tick]
}

func NewStreamPrices() *StreamPrices {
	return &StreamPrices{}
}

func (s *StreamPrices) Update(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	s.ticks.Store(symbol, Tick{Price: price, At: at})
}

func (s *StreamPrices) Get(symbol string) (Tick, bool) {
	return s.ticks.Load(symbol)
}

func (s *StreamPrices) Len() int64 {
	return s.ticks.Len()
}

// StreamFeed 优先使用足够新的推送价格，否则回落到 REST
type StreamFeed struct {
	Feed
	prices *StreamPrices
	maxAge time.Duration
	nowFn  func() time.Time
}

func NewStreamFeed(fallback Feed, prices *StreamPrices, maxAge time.Duration) *StreamFeed {
	return &StreamFeed{Feed: fallback, prices: prices, maxAge: maxAge, nowFn: time.Now}
}

func (f *StreamFeed) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if t, ok := f.prices.Get(symbol); ok && f.nowFn().Sub(t.At) <= f.maxAge {
		return t.Price, nil
	}
	return f.Feed.GetPrice(ctx, symbol)
}
