package decision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceDecide(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"action": "LONG", "confidence": 0.72, "expectedReturn": 0.03, "modelVersion": "ppo-3",
			"reasoning": "bullish bias", "smcAnalysis": "bullish OB", "volumeAnalysis": "volume spike",
			"entry": 100.5, "stopLoss": 98, "takeProfit": 105, "riskRewardRatio": 1.8
		}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL+"/", "", time.Second)
	d, err := s.Decide(context.Background(), Context{
		Symbol:       "BTCUSDT",
		CurrentPrice: 100.4,
		Features:     []float64{55, 0.1, 0.05},
	})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, "SMC", got.Methodology)
	assert.Equal(t, []float64{55, 0.1, 0.05}, got.Features)

	assert.Equal(t, ActionLong, d.Action)
	assert.False(t, d.IsHold())
	assert.Equal(t, 0.72, d.Confidence)
	assert.Equal(t, 100.5, *d.EntryPrice)
	assert.Equal(t, 98.0, *d.StopLoss)
	assert.Equal(t, 105.0, *d.TakeProfit)
	assert.Equal(t, "bullish OB", d.Reasoning[RoleMarket])
	assert.Equal(t, "volume spike RR 1.80", d.Reasoning[RoleRisk])
}

func TestHTTPSourceHoldWithoutLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"action":"HOLD","confidence":0.55,"expectedReturn":0,"modelVersion":"ppo-3","entry":null}`))
	}))
	defer srv.Close()

	d, err := NewHTTPSource(srv.URL, "ICT", time.Second).Decide(context.Background(), Context{Symbol: "ETHUSDT"})
	require.NoError(t, err)
	assert.True(t, d.IsHold())
	assert.Nil(t, d.EntryPrice)
	assert.Nil(t, d.StopLoss)
}

func TestHTTPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, "", time.Second).Decide(context.Background(), Context{Symbol: "BTCUSDT"})
	assert.ErrorContains(t, err, "503")
}

func TestParsePrediction(t *testing.T) {
	_, err := parsePrediction([]byte(`not json`))
	assert.ErrorIs(t, err, ErrBadResponse)

	_, err = parsePrediction([]byte(`{"action":"BUY","confidence":0.5}`))
	assert.ErrorIs(t, err, ErrBadResponse)

	_, err = parsePrediction([]byte(`{"action":"LONG","confidence":1.5}`))
	assert.ErrorIs(t, err, ErrBadResponse)

	d, err := parsePrediction([]byte(`{"action":"short","confidence":0.8,"stopLoss":0}`))
	require.NoError(t, err)
	assert.Equal(t, ActionShort, d.Action)
	assert.Nil(t, d.StopLoss)
}
