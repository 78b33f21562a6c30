package validator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tradeloop/internal/market"
	"tradeloop/internal/pipeline"
	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	series market.Series
	err    error
}

func (s stubFetcher) Fetch(ctx context.Context, req market.Request) (market.Series, error) {
	if s.err != nil {
		return market.Series{}, s.err
	}
	return s.series.Clone(), nil
}

func trendingSeries(n int, drift float64) market.Series {
	candles := make([]market.Candle, n)
	price := 100.0
	for i := range candles {
		price *= 1 + drift + 0.004*math.Sin(float64(i)/3)
		vol := 200_000 + float64(i)*1_000
		candles[i] = market.Candle{
			Open: price * (1 - drift/2), High: price * 1.01, Low: price * 0.99, Close: price, Volume: vol,
		}
	}
	candles[n-1].Volume *= 2
	return market.Series{Candles: candles}
}

func candidate(t *testing.T, side types.Side) types.RawCandidate {
	spec := types.CandidateSpec{
		Symbol: "NVDA", AssetClass: types.AssetEquity, Side: side,
		Entry: 100, Stop: 95, Target: 115, Confidence: 0.7, Strategy: "momentum",
	}
	if side == types.SideShort {
		spec.Stop, spec.Target = 105, 85
	}
	c, err := types.NewRawCandidate(spec, time.Now())
	require.NoError(t, err)
	return c
}

func TestValidateDegradesToNeutral(t *testing.T) {
	cases := map[string]stubFetcher{
		"fetch error":       {err: errors.New("feed down")},
		"insufficient bars": {series: trendingSeries(30, 0.003)},
		"empty series":      {},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			v := New(f, DefaultConfig())
			out, passed, err := v.Validate(context.Background(), candidate(t, types.SideLong))
			require.NoError(t, err)
			assert.False(t, passed)
			assert.Equal(t, 0.5, out.Validation.Trend)
			assert.Equal(t, 0.5, out.Validation.Momentum)
			assert.Equal(t, 0.5, out.Validation.Volume)
			assert.Equal(t, 0.5, out.Validation.VolatilityRisk)
			assert.InDelta(t, 0.5, out.Validation.Composite, 1e-12)
			assert.InDelta(t, 0.6, out.BlendedConfidence, 1e-12)
			assert.NotEmpty(t, out.Warnings)
		})
	}
}

func TestValidateUptrendPassesLong(t *testing.T) {
	v := New(stubFetcher{series: trendingSeries(260, 0.003)}, DefaultConfig())
	c := candidate(t, types.SideLong)
	out, passed, err := v.Validate(context.Background(), c)
	require.NoError(t, err)

	s := out.Validation
	assert.Greater(t, s.Trend, 0.7)
	for _, sub := range []float64{s.Trend, s.Momentum, s.Volume, s.VolatilityRisk, s.Composite} {
		assert.GreaterOrEqual(t, sub, 0.0)
		assert.LessOrEqual(t, sub, 1.0)
	}
	want := 0.30*s.Trend + 0.30*s.Momentum + 0.20*s.Volume + 0.20*(1-s.VolatilityRisk)
	assert.InDelta(t, want, s.Composite, 1e-12)
	assert.Equal(t, s.Composite > 0.5 && s.Trend > 0.4, passed)
	assert.InDelta(t, (c.Confidence+s.Composite)/2, out.BlendedConfidence, 1e-12)
	assert.Equal(t, c, out.RawCandidate, "raw candidate is not modified")
	assert.NotZero(t, out.Levels.Pivot)

	keys := make([]string, 0, len(out.Readings))
	for _, r := range out.Readings {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"momentum", "trend", "volatility", "volume"}, keys)
	assert.Contains(t, out.Readings[1].Inputs, "ema20")
}

func TestValidateShortAgainstUptrendFails(t *testing.T) {
	v := New(stubFetcher{series: trendingSeries(260, 0.003)}, DefaultConfig())
	out, passed, err := v.Validate(context.Background(), candidate(t, types.SideShort))
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Less(t, out.Validation.Trend, 0.4)
}

type panicky struct{}

func (panicky) Meta() pipeline.MiddlewareMeta { return pipeline.MiddlewareMeta{Name: "panicky"} }
func (panicky) Handle(context.Context, *pipeline.AnalysisContext) error {
	panic("indicator blew up")
}

func TestValidateSurvivesMiddlewarePanic(t *testing.T) {
	v := New(stubFetcher{series: trendingSeries(260, 0.003)}, DefaultConfig(), panicky{})
	out, _, err := v.Validate(context.Background(), candidate(t, types.SideLong))
	require.NoError(t, err)
	assert.Contains(t, out.Warnings, "stage 0 panicky: panic: indicator blew up")
}

func TestGate(t *testing.T) {
	v := New(stubFetcher{}, DefaultConfig())
	assert.True(t, v.Passes(types.ValidationScores{Composite: 0.51, Trend: 0.41}))
	assert.False(t, v.Passes(types.ValidationScores{Composite: 0.50, Trend: 0.9}))
	assert.False(t, v.Passes(types.ValidationScores{Composite: 0.9, Trend: 0.40}))
}
