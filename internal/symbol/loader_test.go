package symbol

import (
	"context"
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-signal-engine/internal/cache"
)

type stubSource struct {
	info *futures.ExchangeInfo
	err  error
}

func (s *stubSource) ExchangeInfo(context.Context) (*futures.ExchangeInfo, error) {
	return s.info, s.err
}

func exchangeInfo() *futures.ExchangeInfo {
	return &futures.ExchangeInfo{
		Symbols: []futures.Symbol{
			{
				Symbol:            "BTCUSDT",
				Status:            "TRADING",
				ContractType:      futures.ContractTypePerpetual,
				QuantityPrecision: 3,
				PricePrecision:    1,
				Filters: []map[string]interface{}{
					{"filterType": "LOT_SIZE", "stepSize": "0.001", "minQty": "0.001", "maxQty": "1000"},
				},
			},
			{
				Symbol:       "BTCUSDT_250328",
				Status:       "TRADING",
				ContractType: "CURRENT_QUARTER",
			},
			{
				Symbol:       "XYZUSDT",
				Status:       "SETTLING",
				ContractType: futures.ContractTypePerpetual,
			},
		},
	}
}

func TestLoaderBuildsCache(t *testing.T) {
	c := cache.NewSymbolCache()
	l, err := NewLoader(c, &stubSource{info: exchangeInfo()}, 0)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, int64(2), c.Len())
	assert.True(t, c.IsTradable("BTCUSDT"))
	assert.False(t, c.IsTradable("XYZUSDT"))
	_, ok := c.Get("BTCUSDT_250328")
	assert.False(t, ok)

	meta, _ := c.Get("BTCUSDT")
	assert.True(t, meta.StepSize.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, "0.123", c.RoundQuantity("BTCUSDT", decimal.RequireFromString("0.12345")).String())
}

func TestLoaderInitialFailure(t *testing.T) {
	_, err := NewLoader(cache.NewSymbolCache(), &stubSource{err: errors.New("timeout")}, 0)
	assert.Error(t, err)
}

func TestLoaderReloadKeepsOldOnError(t *testing.T) {
	c := cache.NewSymbolCache()
	src := &stubSource{info: exchangeInfo()}
	l, err := NewLoader(c, src, 0)
	require.NoError(t, err)
	l.Close()
	l.Close()

	src.err = errors.New("503")
	assert.Error(t, l.loadMeta())
	assert.True(t, c.IsTradable("BTCUSDT"))
}
