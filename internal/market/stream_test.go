package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	price float64
	err   error
	calls int
}

func (s *stubFeed) GetPrice(_ context.Context, _ string) (float64, error) {
	s.calls++
	return s.price, s.err
}

func (s *stubFeed) GetKlines(_ context.Context, _, _ string, _ int) ([]Candle, error) {
	return nil, nil
}

func TestStreamFeedPrefersFreshTick(t *testing.T) {
	rest := &stubFeed{price: 99}
	prices := NewStreamPrices()
	now := time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)
	f := NewStreamFeed(rest, prices, 3*time.Second)
	f.nowFn = func() time.Time { return now }

	prices.Update("BTCUSDT", 101.5, now.Add(-time.Second))
	v, err := f.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.5, v)
	assert.Equal(t, 0, rest.calls)

	// 过期回落到 REST
	now = now.Add(10 * time.Second)
	v, err = f.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 99.0, v)
	assert.Equal(t, 1, rest.calls)
}

func TestStreamFeedFallbackError(t *testing.T) {
	rest := &stubFeed{err: errors.New("timeout")}
	f := NewStreamFeed(rest, NewStreamPrices(), time.Second)
	_, err := f.GetPrice(context.Background(), "ETHUSDT")
	assert.Error(t, err)
}

func TestStreamPricesIgnoresNonPositive(t *testing.T) {
	p := NewStreamPrices()
	p.Update("BTCUSDT", 0, time.Now())
	_, ok := p.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, int64(0), p.Len())
}

func TestCloses(t *testing.T) {
	assert.Equal(t, []float64{1, 2}, Closes([]Candle{{Close: 1}, {Close: 2}}))
}
