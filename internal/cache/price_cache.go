package cache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/utrading/utrading-signal-engine/internal/market"
	"github.com/utrading/utrading-signal-engine/internal/monitor"
)

// fetchTimeout 合并请求不跟随任一调用方的 ctx，单独限时
const fetchTimeout = 5 * time.Second

// PriceCache 按交易对缓存最新价，短 TTL，同一交易对的并发未命中只请求一次
type PriceCache struct {
	feed  market.PriceFeed
	cache *cache.Cache
	group singleflight.Group
	ttl   time.Duration
}

// NewPriceCache 清理间隔为 2×TTL
func NewPriceCache(feed market.PriceFeed, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &PriceCache{
		feed:  feed,
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// Peek 只读缓存
func (c *PriceCache) Peek(symbol string) (float64, bool) {
	v, ok := c.cache.Get(symbol)
	if !ok {
		return 0, false
	}
	return v.(float64), true
}

func (c *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if v, ok := c.Peek(symbol); ok {
		monitor.IncPriceCache(true)
		return v, nil
	}
	monitor.IncPriceCache(false)

	ch := c.group.DoChan(symbol, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		price, err := c.feed.GetPrice(fctx, symbol)
		if err != nil {
			return 0.0, err
		}
		c.cache.Set(symbol, price, cache.DefaultExpiration)
		return price, nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return 0, r.Err
		}
		return r.Val.(float64), nil
	}
}

func (c *PriceCache) Set(symbol string, price float64) {
	c.cache.Set(symbol, price, cache.DefaultExpiration)
}

func (c *PriceCache) Stats() map[string]any {
	return map[string]any{
		"item_count": c.cache.ItemCount(),
		"ttl_ms":     c.ttl.Milliseconds(),
	}
}
