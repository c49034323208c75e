package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-signal-engine/internal/models"
)

type countingFeed struct {
	calls atomic.Int32
	price float64
	err   error
	delay time.Duration
}

func (f *countingFeed) GetPrice(_ context.Context, _ string) (float64, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.price, f.err
}

func TestPriceCacheTTL(t *testing.T) {
	feed := &countingFeed{price: 100}
	c := NewPriceCache(feed, 50*time.Millisecond)

	v, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	_, err = c.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), feed.calls.Load())

	time.Sleep(80 * time.Millisecond)
	_, err = c.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(2), feed.calls.Load())
}

func TestPriceCacheCollapsesConcurrentMisses(t *testing.T) {
	feed := &countingFeed{price: 42, delay: 30 * time.Millisecond}
	c := NewPriceCache(feed, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetPrice(context.Background(), "ETHUSDT")
			assert.NoError(t, err)
			assert.Equal(t, 42.0, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), feed.calls.Load())
}

type gatedFeed struct {
	release chan struct{}
	price   float64
}

func (f *gatedFeed) GetPrice(ctx context.Context, _ string) (float64, error) {
	select {
	case <-f.release:
		return f.price, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestPriceCacheSharedFetchOutlivesCanceledCaller(t *testing.T) {
	feed := &gatedFeed{release: make(chan struct{}), price: 42}
	c := NewPriceCache(feed, time.Second)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetPrice(first, "BTCUSDT")
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		price float64
		err   error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.GetPrice(context.Background(), "BTCUSDT")
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// 先到的调用方取消只影响自己
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(feed.release)
	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, 42.0, r.price)
	v, ok := c.Peek("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestPriceCacheErrorNotCached(t *testing.T) {
	feed := &countingFeed{err: errors.New("feed down")}
	c := NewPriceCache(feed, time.Second)

	_, err := c.GetPrice(context.Background(), "SOLUSDT")
	assert.Error(t, err)
	_, ok := c.Peek("SOLUSDT")
	assert.False(t, ok)
}

func TestOpenPositionIndex(t *testing.T) {
	x := NewOpenPositionIndex()
	x.Rebuild([]*models.Position{
		{AccountID: "a", Symbol: "BTCUSDT"},
		{AccountID: "a", Symbol: "BTCUSDT"},
		{AccountID: "b", Symbol: "ETHUSDT"},
	})
	assert.True(t, x.HasOpenPosition("a", "BTCUSDT"))
	assert.False(t, x.HasOpenPosition("a", "ETHUSDT"))

	x.Remove("a", "BTCUSDT")
	assert.True(t, x.HasOpenPosition("a", "BTCUSDT"))
	x.Remove("a", "BTCUSDT")
	assert.False(t, x.HasOpenPosition("a", "BTCUSDT"))

	x.Add("c", "SOLUSDT")
	x.Rebuild([]*models.Position{{AccountID: "b", Symbol: "ETHUSDT"}})
	assert.False(t, x.HasOpenPosition("c", "SOLUSDT"))
	assert.Equal(t, int64(1), x.Len())
}

func TestSymbolCacheRoundQuantity(t *testing.T) {
	c := NewSymbolCache()
	c.Set(SymbolMeta{Symbol: "BTCUSDT", Status: "TRADING", StepSize: decimal.RequireFromString("0.001"), QuantityPrecision: 3})

	q := c.RoundQuantity("BTCUSDT", decimal.RequireFromString("0.123456"))
	assert.Equal(t, "0.123", q.String())
	assert.True(t, c.IsTradable("BTCUSDT"))
	assert.False(t, c.IsTradable("XYZUSDT"))

	q = c.RoundQuantity("XYZUSDT", decimal.RequireFromString("1.23456"))
	assert.Equal(t, "1.234", q.String())
}
