package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/utrading/utrading-signal-engine/internal/market"
)

const (
	DefaultRSIPeriod = 14
	// NeutralRSI 数据不足或价格无波动时的 RSI
	NeutralRSI = 50.0
)

// RSI 取最后一根的 Wilder RSI；收盘价少于 period+1 个时返回 (50, false)
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 1 {
		period = DefaultRSIPeriod
	}
	if len(closes) < period+1 {
		return NeutralRSI, false
	}
	if flat(closes) {
		return NeutralRSI, true
	}
	series := talib.Rsi(closes, period)
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NeutralRSI, false
	}
	return v, true
}

func flat(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// Snapshot 信号创建时保存的指标快照
type Snapshot struct {
	Interval    string
	Close       float64
	RSI         float64
	RSIValid    bool
	EMAFast     float64
	EMASlow     float64
	MACD        float64
	MACDSignal  float64
	ATR         float64
	VolumeRatio float64
	ChangePct   float64
}

type Options struct {
	RSIPeriod int
	EMAFast   int
	EMASlow   int
	ATRPeriod int
}

func DefaultOptions() Options {
	return Options{RSIPeriod: 14, EMAFast: 20, EMASlow: 50, ATRPeriod: 14}
}

// Compute 按可用长度计算，数据不足的指标保持 0
func Compute(interval string, candles []market.Candle, opts Options) Snapshot {
	snap := Snapshot{Interval: interval, RSI: NeutralRSI}
	n := len(candles)
	if n == 0 {
		return snap
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i], highs[i], lows[i], volumes[i] = c.Close, c.High, c.Low, c.Volume
	}
	snap.Close = closes[n-1]
	if n > 1 && closes[n-2] != 0 {
		snap.ChangePct = (closes[n-1] - closes[n-2]) / closes[n-2] * 100
	}

	snap.RSI, snap.RSIValid = RSI(closes, opts.RSIPeriod)
	if n >= opts.EMAFast && opts.EMAFast > 1 {
		snap.EMAFast = last(talib.Ema(closes, opts.EMAFast))
	}
	if n >= opts.EMASlow && opts.EMASlow > 1 {
		snap.EMASlow = last(talib.Ema(closes, opts.EMASlow))
	}
	// MACD(12,26,9) 需要 slow+signal-1 根
	if n >= 26+9 {
		macd, signal, _ := talib.Macd(closes, 12, 26, 9)
		snap.MACD, snap.MACDSignal = last(macd), last(signal)
	}
	if n > opts.ATRPeriod && opts.ATRPeriod > 0 {
		snap.ATR = last(talib.Atr(highs, lows, closes, opts.ATRPeriod))
	}
	if n >= 21 {
		var sum float64
		for _, v := range volumes[n-21 : n-1] {
			sum += v
		}
		if avg := sum / 20; avg > 0 {
			snap.VolumeRatio = volumes[n-1] / avg
		}
	}
	return snap
}

// Features 决策服务的特征向量，顺序固定：rsi, macd, macd_signal, ema_fast, ema_slow, volume_ratio, atr
func (s Snapshot) Features() []float64 {
	return []float64{s.RSI, s.MACD, s.MACDSignal, s.EMAFast, s.EMASlow, s.VolumeRatio, s.ATR}
}

// Map 写入信号的指标快照
func (s Snapshot) Map() map[string]any {
	return map[string]any{
		"interval":     s.Interval,
		"close":        s.Close,
		"rsi":          s.RSI,
		"rsi_valid":    s.RSIValid,
		"ema_fast":     s.EMAFast,
		"ema_slow":     s.EMASlow,
		"macd":         s.MACD,
		"macd_signal":  s.MACDSignal,
		"atr":          s.ATR,
		"volume_ratio": s.VolumeRatio,
		"change_pct":   s.ChangePct,
	}
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
