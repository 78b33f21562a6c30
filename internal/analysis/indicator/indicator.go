package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Each helper returns the latest value and whether enough bars existed to
// compute it. TA-Lib seeds its warm-up region with zeros, so the length
// checks below are what decides "not computable", not the output values.

func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	return lastFinite(talib.Sma(closes, period))
}

func EMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	return lastFinite(talib.Ema(closes, period))
}

func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	return lastFinite(talib.Rsi(closes, period))
}

// RSISeries returns the full series; the caller picks lags from the tail.
func RSISeries(closes []float64, period int) ([]float64, bool) {
	if period <= 0 || len(closes) < period+2 {
		return nil, false
	}
	return talib.Rsi(closes, period), true
}

type MACDValue struct {
	Line     float64
	Signal   float64
	Hist     float64
	PrevHist float64
}

func MACD(closes []float64) (MACDValue, bool) {
	const fast, slow, signal = 12, 26, 9
	if len(closes) < slow+signal+1 {
		return MACDValue{}, false
	}
	line, sig, hist := talib.Macd(closes, fast, slow, signal)
	n := len(hist)
	out := MACDValue{Line: line[n-1], Signal: sig[n-1], Hist: hist[n-1], PrevHist: hist[n-2]}
	if !finite(out.Line, out.Signal, out.Hist, out.PrevHist) {
		return MACDValue{}, false
	}
	return out, true
}

func ADX(highs, lows, closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < 2*period+1 {
		return 0, false
	}
	return lastFinite(talib.Adx(highs, lows, closes, period))
}

func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	return lastFinite(talib.Atr(highs, lows, closes, period))
}

type StochValue struct {
	K float64
	D float64
}

func Stoch(highs, lows, closes []float64) (StochValue, bool) {
	if len(closes) < 14+3+3 {
		return StochValue{}, false
	}
	k, d := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	kv, okK := lastFinite(k)
	dv, okD := lastFinite(d)
	if !okK || !okD {
		return StochValue{}, false
	}
	return StochValue{K: kv, D: dv}, true
}

func ROC(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	return lastFinite(talib.Roc(closes, period))
}

type BandsValue struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Width is (upper-lower)/middle.
func (b BandsValue) Width() float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle
}

// Position is where price sits inside the band, 0 at lower and 1 at upper.
func (b BandsValue) Position(price float64) float64 {
	span := b.Upper - b.Lower
	if span == 0 {
		return 0.5
	}
	return (price - b.Lower) / span
}

func Bollinger(closes []float64, period int, dev float64) (BandsValue, bool) {
	if period <= 0 || len(closes) < period {
		return BandsValue{}, false
	}
	up, mid, low := talib.BBands(closes, period, dev, dev, talib.SMA)
	n := len(mid)
	out := BandsValue{Upper: up[n-1], Middle: mid[n-1], Lower: low[n-1]}
	if !finite(out.Upper, out.Middle, out.Lower) || out.Middle == 0 {
		return BandsValue{}, false
	}
	return out, true
}

// Returns are simple one-bar returns; len(out) == len(closes)-1.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		out[i-1] = closes[i]/prev - 1
	}
	return out
}

// ReturnOver is the return between the bar lookback ago and the latest bar.
func ReturnOver(closes []float64, lookback int) (float64, bool) {
	if lookback <= 0 || len(closes) <= lookback {
		return 0, false
	}
	prev := closes[len(closes)-1-lookback]
	if prev == 0 {
		return 0, false
	}
	return closes[len(closes)-1]/prev - 1, true
}

// Volatility is the sample standard deviation of the last window returns.
func Volatility(closes []float64, window int) (float64, bool) {
	rets := Returns(closes)
	if window < 2 || len(rets) < window {
		return 0, false
	}
	tail := rets[len(rets)-window:]
	return stddev(tail), true
}

// VolumeRatio is the latest volume over the mean of the prior window bars.
func VolumeRatio(volumes []float64, window int) (float64, bool) {
	if window <= 0 || len(volumes) < window+1 {
		return 0, false
	}
	avg := mean(volumes[len(volumes)-1-window : len(volumes)-1])
	if avg <= 0 {
		return 0, false
	}
	return volumes[len(volumes)-1] / avg, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Mean is exported for callers that average indicator windows.
func Mean(xs []float64) float64 { return mean(xs) }

func lastFinite(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if !finite(v) {
		return 0, false
	}
	return v, true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clamp01 bounds v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
