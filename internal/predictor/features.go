package predictor

import (
	"errors"
	"fmt"

	"tradeloop/internal/analysis/indicator"
	"tradeloop/internal/market"
)

// FeatureNames fixes the order of the feature vector.
var FeatureNames = []string{
	"ret_1", "ret_5", "ret_10", "ret_20",
	"vol_10", "vol_20",
	"px_sma10", "px_sma20", "px_sma50",
	"sma10_sma20", "sma20_sma50",
	"rsi_14", "rsi_7",
	"macd", "macd_signal", "macd_hist",
	"bb_position", "bb_width",
	"stoch_k", "stoch_d",
	"adx",
	"volume_ratio",
	"body_ratio", "upper_shadow", "lower_shadow",
	"ret_1_lag1", "rsi_14_lag1", "macd_hist_lag1",
}

// FeatureCount is the fixed width of every vector.
var FeatureCount = len(FeatureNames)

// MinBars is the shortest history Extract accepts.
const MinBars = 60

// ErrFeatures means the vector could not be computed from the series.
var ErrFeatures = errors.New("predictor: features unavailable")

// Extract computes the feature vector for the latest bar of s.
func Extract(s market.Series) ([]float64, error) {
	if s.Len() < MinBars {
		return nil, fmt.Errorf("%w: %d bars < %d", ErrFeatures, s.Len(), MinBars)
	}
	return extract(s.Opens(), s.Highs(), s.Lows(), s.Closes(), s.Volumes())
}

func extract(opens, highs, lows, closes, vols []float64) ([]float64, error) {
	n := len(closes)
	price := closes[n-1]
	if price <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", ErrFeatures)
	}
	out := make([]float64, 0, FeatureCount)
	var missing []string
	get := func(name string, v float64, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
		out = append(out, v)
	}

	for _, lb := range []int{1, 5, 10, 20} {
		v, ok := indicator.ReturnOver(closes, lb)
		get(fmt.Sprintf("ret_%d", lb), v, ok)
	}
	for _, w := range []int{10, 20} {
		v, ok := indicator.Volatility(closes, w)
		get(fmt.Sprintf("vol_%d", w), v, ok)
	}
	sma10, ok10 := indicator.SMA(closes, 10)
	sma20, ok20 := indicator.SMA(closes, 20)
	sma50, ok50 := indicator.SMA(closes, 50)
	get("px_sma10", ratio(price, sma10), ok10)
	get("px_sma20", ratio(price, sma20), ok20)
	get("px_sma50", ratio(price, sma50), ok50)
	get("sma10_sma20", ratio(sma10, sma20), ok10 && ok20)
	get("sma20_sma50", ratio(sma20, sma50), ok20 && ok50)

	rsiSeries, okRSI := indicator.RSISeries(closes, 14)
	rsi14, rsi14Lag := 0.0, 0.0
	if okRSI {
		rsi14 = rsiSeries[len(rsiSeries)-1] / 100
		rsi14Lag = rsiSeries[len(rsiSeries)-2] / 100
	}
	get("rsi_14", rsi14, okRSI)
	rsi7, ok7 := indicator.RSI(closes, 7)
	get("rsi_7", rsi7/100, ok7)

	macd, okMACD := indicator.MACD(closes)
	get("macd", macd.Line/price, okMACD)
	get("macd_signal", macd.Signal/price, okMACD)
	get("macd_hist", macd.Hist/price, okMACD)

	bands, okBB := indicator.Bollinger(closes, 20, 2)
	get("bb_position", bands.Position(price), okBB)
	get("bb_width", bands.Width(), okBB)

	stoch, okStoch := indicator.Stoch(highs, lows, closes)
	get("stoch_k", stoch.K/100, okStoch)
	get("stoch_d", stoch.D/100, okStoch)

	adx, okADX := indicator.ADX(highs, lows, closes, 14)
	get("adx", adx/100, okADX)

	vr, okVR := indicator.VolumeRatio(vols, 20)
	get("volume_ratio", vr, okVR)

	rng := highs[n-1] - lows[n-1]
	body, upper, lower := 0.0, 0.0, 0.0
	if rng > 0 {
		o, c := opens[n-1], closes[n-1]
		hi, lo := o, c
		if c > o {
			hi, lo = c, o
		}
		body = (hi - lo) / rng
		upper = (highs[n-1] - hi) / rng
		lower = (lo - lows[n-1]) / rng
	}
	get("body_ratio", body, true)
	get("upper_shadow", upper, true)
	get("lower_shadow", lower, true)

	prevRet, okPrev := indicator.ReturnOver(closes[:n-1], 1)
	get("ret_1_lag1", prevRet, okPrev)
	get("rsi_14_lag1", rsi14Lag, okRSI)
	get("macd_hist_lag1", macd.PrevHist/price, okMACD)

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrFeatures, missing)
	}
	return out, nil
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 1
	}
	return a / b
}

// Dataset builds one row per bar whose next-bar move is known. Label 1 means
// the next close is higher.
func Dataset(s market.Series) ([][]float64, []int) {
	opens, highs, lows, closes, vols := s.Opens(), s.Highs(), s.Lows(), s.Closes(), s.Volumes()
	var X [][]float64
	var y []int
	for end := MinBars; end < len(closes); end++ {
		row, err := extract(opens[:end], highs[:end], lows[:end], closes[:end], vols[:end])
		if err != nil {
			continue
		}
		label := 0
		if closes[end] > closes[end-1] {
			label = 1
		}
		X = append(X, row)
		y = append(y, label)
	}
	return X, y
}
