package predictor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"tradeloop/internal/market"
	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	series market.Series
	err    error
	calls  int
}

func (s *stubFetcher) Fetch(ctx context.Context, req market.Request) (market.Series, error) {
	s.calls++
	if s.err != nil {
		return market.Series{}, s.err
	}
	return s.series.Clone(), nil
}

func walk(n int, seed int64) market.Series {
	rng := rand.New(rand.NewSource(seed))
	candles := make([]market.Candle, n)
	price := 100.0
	for i := range candles {
		open := price
		price *= 1 + 0.01*rng.NormFloat64() + 0.002*math.Sin(float64(i)/5)
		hi := math.Max(open, price) * (1 + 0.004*rng.Float64())
		lo := math.Min(open, price) * (1 - 0.004*rng.Float64())
		candles[i] = market.Candle{Open: open, High: hi, Low: lo, Close: price, Volume: 1e5 * (1 + rng.Float64())}
	}
	return market.Series{Candles: candles}
}

func validated(blended float64) types.ValidatedCandidate {
	raw, _ := types.NewRawCandidate(types.CandidateSpec{
		Symbol: "AAPL", AssetClass: types.AssetEquity, Side: types.SideLong,
		Entry: 100, Stop: 95, Target: 115, Confidence: 0.7,
	}, time.Now())
	return types.ValidatedCandidate{RawCandidate: raw, BlendedConfidence: blended}
}

func TestExtractWidthAndShortHistory(t *testing.T) {
	x, err := Extract(walk(200, 1))
	require.NoError(t, err)
	assert.Len(t, x, FeatureCount)
	for i, v := range x {
		assert.False(t, math.IsNaN(v), FeatureNames[i])
	}

	_, err = Extract(walk(MinBars-1, 1))
	assert.ErrorIs(t, err, ErrFeatures)
}

func TestDatasetLabelsNextClose(t *testing.T) {
	s := walk(150, 2)
	X, y := Dataset(s)
	require.NotEmpty(t, X)
	require.Len(t, y, len(X))
	closes := s.Closes()
	// the last row is built from bars [:n-1] and labelled by bar n-1
	n := len(closes)
	want := 0
	if closes[n-1] > closes[n-2] {
		want = 1
	}
	assert.Equal(t, want, y[len(y)-1])
}

func TestFitLogisticSeparable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var X [][]float64
	var y []int
	for i := 0; i < 400; i++ {
		a, b := rng.NormFloat64(), rng.NormFloat64()
		X = append(X, []float64{a, b})
		if a+0.5*b > 0 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	m, err := FitLogistic(X, y, TrainOptions{L2: 0.001, LearningRate: 0.5, Epochs: 500})
	require.NoError(t, err)
	p, err := m.Prob([]float64{2, 1})
	require.NoError(t, err)
	assert.Greater(t, p, 0.9)
	p, err = m.Prob([]float64{-2, -1})
	require.NoError(t, err)
	assert.Less(t, p, 0.1)

	_, err = m.Prob([]float64{1})
	assert.Error(t, err)
}

func TestTrainPairRequiresSamples(t *testing.T) {
	_, err := TrainPair([][]float64{{1}}, []int{1}, 0.2)
	assert.Error(t, err)
}

func TestScorerUntrainedIsNeutralAndRequestsTraining(t *testing.T) {
	reqs := make(chan TrainRequest, 1)
	f := &stubFetcher{series: walk(200, 3)}
	s := NewScorer(f, &Slot{}, reqs, Config{})

	out, err := s.Score(context.Background(), validated(0.8))
	require.NoError(t, err)
	assert.True(t, out.Prediction.Neutral)
	assert.Equal(t, types.DirectionUnknown, out.Prediction.Direction)
	assert.InDelta(t, 0.65, out.FinalConfidence, 1e-12)

	select {
	case r := <-reqs:
		assert.Equal(t, "AAPL", r.Symbols[0].Symbol)
	default:
		t.Fatal("expected a train request")
	}

	// only one outstanding request until training settles
	_, _ = s.Score(context.Background(), validated(0.8))
	assert.Len(t, reqs, 0)
	s.TrainingSettled()
	_, _ = s.Score(context.Background(), validated(0.8))
	assert.Len(t, reqs, 1)
}

func TestNeutralPredictionKeepsFeatures(t *testing.T) {
	f := &stubFetcher{series: walk(200, 5)}
	s := NewScorer(f, &Slot{}, nil, Config{})
	out, err := s.Score(context.Background(), validated(0.7))
	require.NoError(t, err)
	assert.True(t, out.Prediction.Neutral)
	want, err := Extract(walk(200, 5))
	require.NoError(t, err)
	assert.Equal(t, want, out.Prediction.Features, "trades opened without a model still reach pattern memory")

	short := NewScorer(&stubFetcher{series: walk(10, 5)}, &Slot{}, nil, Config{})
	out, err = short.Score(context.Background(), validated(0.7))
	require.NoError(t, err)
	assert.True(t, out.Prediction.Neutral)
	assert.Empty(t, out.Prediction.Features)
}

func TestScorerDoesNotBlockOnFullQueue(t *testing.T) {
	reqs := make(chan TrainRequest)
	s := NewScorer(&stubFetcher{}, &Slot{}, reqs, Config{})
	done := make(chan struct{})
	go func() {
		_, _ = s.Score(context.Background(), validated(0.6))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scorer blocked on training queue")
	}
}

func TestScorerWithTrainedModel(t *testing.T) {
	f := &stubFetcher{series: walk(400, 4)}
	tr := NewTrainer(f, []market.Request{{Symbol: "AAPL", AssetClass: types.AssetEquity, Period: "2y", Granularity: "1d"}}, nil)
	res := tr.Train(context.Background(), TrainRequest{Reason: "test"})
	require.NoError(t, res.Err)
	res.Model.ModelVersion = 1

	slot := &Slot{}
	slot.Publish(res.Model)
	s := NewScorer(f, slot, nil, Config{})
	out, err := s.Score(context.Background(), validated(0.7))
	require.NoError(t, err)

	p := out.Prediction
	assert.False(t, p.Neutral)
	assert.Equal(t, 1, p.ModelVersion)
	assert.Contains(t, []types.Direction{types.DirectionUp, types.DirectionDown}, p.Direction)
	assert.GreaterOrEqual(t, p.Confidence, 0.5)
	assert.LessOrEqual(t, p.Confidence, 1.0)
	assert.Len(t, p.Features, FeatureCount)
	assert.InDelta(t, (0.7+p.Confidence)/2, out.FinalConfidence, 1e-12)
}

func TestScorerFetchFailureFallsBack(t *testing.T) {
	slot := &Slot{}
	slot.Publish(&Pair{ModelVersion: 1, Direction: &Logistic{}, Probability: &Logistic{}})
	s := NewScorer(&stubFetcher{err: errors.New("down")}, slot, nil, Config{})
	out, err := s.Score(context.Background(), validated(0.6))
	require.NoError(t, err)
	assert.True(t, out.Prediction.Neutral)
	assert.InDelta(t, 0.55, out.FinalConfidence, 1e-12)
}

func TestScorerCancelledContext(t *testing.T) {
	slot := &Slot{}
	slot.Publish(&Pair{ModelVersion: 1, Direction: &Logistic{}, Probability: &Logistic{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewScorer(&stubFetcher{err: context.Canceled}, slot, nil, Config{})
	_, err := s.Score(ctx, validated(0.6))
	assert.ErrorIs(t, err, context.Canceled)
}
