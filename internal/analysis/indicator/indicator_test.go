package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestInsufficientBarsAreNotComputable(t *testing.T) {
	short := ramp(10, 100, 1)
	_, ok := SMA(short, 20)
	assert.False(t, ok)
	_, ok = RSI(short, 14)
	assert.False(t, ok)
	_, ok = MACD(short)
	assert.False(t, ok)
	_, ok = ADX(short, short, short, 14)
	assert.False(t, ok)
}

func TestTrendingSeries(t *testing.T) {
	closes := ramp(120, 100, 0.5)
	highs := ramp(120, 100.5, 0.5)
	lows := ramp(120, 99.5, 0.5)

	sma, ok := SMA(closes, 20)
	assert.True(t, ok)
	assert.InDelta(t, closes[len(closes)-1]-9.5*0.5, sma, 1e-6)

	ema20, _ := EMA(closes, 20)
	ema50, _ := EMA(closes, 50)
	assert.Greater(t, ema20, ema50)

	rsi, ok := RSI(closes, 14)
	assert.True(t, ok)
	assert.Greater(t, rsi, 70.0)

	adx, ok := ADX(highs, lows, closes, 14)
	assert.True(t, ok)
	assert.Greater(t, adx, 25.0)

	roc, ok := ROC(closes, 10)
	assert.True(t, ok)
	assert.Greater(t, roc, 0.0)
}

func TestReturnsAndVolatility(t *testing.T) {
	closes := []float64{100, 110, 99, 108.9}
	r, ok := ReturnOver(closes, 1)
	assert.True(t, ok)
	assert.InDelta(t, 0.1, r, 1e-9)
	_, ok = ReturnOver(closes, 4)
	assert.False(t, ok)

	vol, ok := Volatility(closes, 3)
	assert.True(t, ok)
	assert.Greater(t, vol, 0.05)

	flat, ok := Volatility(ramp(30, 5, 0), 20)
	assert.True(t, ok)
	assert.Zero(t, flat)
}

func TestVolumeRatioAndBands(t *testing.T) {
	vols := append(ramp(20, 100, 0), 300)
	vr, ok := VolumeRatio(vols, 20)
	assert.True(t, ok)
	assert.InDelta(t, 3.0, vr, 1e-9)

	b := BandsValue{Upper: 110, Middle: 100, Lower: 90}
	assert.InDelta(t, 0.2, b.Width(), 1e-9)
	assert.InDelta(t, 0.75, b.Position(105), 1e-9)
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
	assert.Equal(t, 1.0, Clamp01(3))
}
