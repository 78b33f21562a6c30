package lifecycle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"tradeloop/internal/predictor"
	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func model(acc float64) predictor.TrainResult {
	return predictor.TrainResult{
		Reason: "test",
		Model:  &predictor.Pair{Direction: &predictor.Logistic{}, Probability: &predictor.Logistic{}, Accuracy: acc, Samples: 100, TrainedAt: t0},
	}
}

func predict(m *Manager, n int, version int, correct bool) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("op-%d-%d", version, len(m.predictions))
		m.RecordPrediction(id, fmt.Sprintf("S%d", i), types.Prediction{Direction: types.DirectionUp, Confidence: 0.7, ModelVersion: version}, t0)
		actual := types.DirectionUp
		if !correct {
			actual = types.DirectionDown
		}
		m.ResolveOutcome(id, actual)
	}
}

func TestRetrainTriggers(t *testing.T) {
	slot := &predictor.Slot{}
	m := New(DefaultConfig(), slot)
	reason, ok := m.ShouldRetrain(t0)
	require.True(t, ok)
	assert.Equal(t, "no_model", reason)

	m.MarkPending()
	_, ok = m.ShouldRetrain(t0)
	assert.False(t, ok, "round already in flight")

	_, err := m.Install(model(0.6), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveVersion())
	require.NotNil(t, slot.Current())
	assert.Equal(t, 1, slot.Current().Version())

	_, ok = m.ShouldRetrain(t0.Add(24 * time.Hour))
	assert.False(t, ok)
	reason, ok = m.ShouldRetrain(t0.Add(7 * 24 * time.Hour))
	assert.True(t, ok)
	assert.Equal(t, "scheduled", reason)

	predict(m, 12, 1, true)
	predict(m, 12, 1, false)
	acc, known := m.RollingAccuracy()
	require.True(t, known)
	assert.InDelta(t, 0.5, acc, 1e-12)
	reason, ok = m.ShouldRetrain(t0.Add(time.Hour))
	assert.True(t, ok)
	assert.Contains(t, reason, "low_accuracy")
}

func TestRollingAccuracyNeedsMinimum(t *testing.T) {
	m := New(DefaultConfig(), nil)
	predict(m, 19, 1, true)
	_, known := m.RollingAccuracy()
	assert.False(t, known)
	m.RecordPrediction("n", "N", types.NeutralPrediction(), t0)
	assert.False(t, m.ResolveOutcome("n", types.DirectionUp), "neutral predictions are not tracked")
}

func TestRollingWindowUsesLatest(t *testing.T) {
	m := New(DefaultConfig(), nil)
	predict(m, 50, 1, false)
	predict(m, 50, 1, true)
	acc, ok := m.RollingAccuracy()
	require.True(t, ok)
	assert.Equal(t, 1.0, acc)
}

func TestBelowChanceModelIsRejected(t *testing.T) {
	slot := &predictor.Slot{}
	m := New(DefaultConfig(), slot)
	_, err := m.Install(model(0.58), t0)
	require.NoError(t, err)
	a, err := m.Install(model(0.45), t0)
	require.NoError(t, err)
	assert.Contains(t, a.Reason, "rollback")
	assert.Equal(t, 1, m.ActiveVersion())
	assert.Equal(t, 1, slot.Current().Version())
	assert.Len(t, m.Versions(), 1)
}

func TestInstallError(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.MarkPending()
	_, err := m.Install(predictor.TrainResult{Err: errors.New("no data")}, t0)
	assert.Error(t, err)
	_, ok := m.ShouldRetrain(t0)
	assert.True(t, ok, "pending cleared after a failed round")
}

func TestKeepsThreeVersionsAndRollsBackOnLiveAccuracy(t *testing.T) {
	slot := &predictor.Slot{}
	m := New(DefaultConfig(), slot)
	for i := 0; i < 4; i++ {
		_, err := m.Install(model(0.6), t0)
		require.NoError(t, err)
	}
	vs := m.Versions()
	require.Len(t, vs, 3)
	assert.Equal(t, 2, vs[0].Version)
	assert.Equal(t, 4, m.ActiveVersion())

	predict(m, 30, 4, false)
	a, ok := m.Adapt(t0)
	require.True(t, ok)
	assert.Equal(t, 3, m.ActiveVersion())
	assert.Equal(t, 3, slot.Current().Version())
	assert.Equal(t, 4.0, a.Changes[0].From)
}

func TestTradeResolvesPrediction(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RecordPrediction("op1", "AAPL", types.Prediction{Direction: types.DirectionDown, Confidence: 0.7, ModelVersion: 1}, t0)
	exit := t0.Add(time.Hour)
	m.Record(types.Trade{Symbol: "AAPL", Side: types.SideShort, EntryPrice: 100, ExitPrice: 95, ExitTime: &exit,
		Entry: types.EntryContext{OpportunityID: "op1"}})
	s := m.State()
	require.Len(t, s.Predictions, 1)
	assert.True(t, s.Predictions[0].Correct())
}

func TestTradeResolvesItsOwnPredictionAfterRescan(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RecordPrediction("entry", "AAPL", types.Prediction{Direction: types.DirectionUp, Confidence: 0.7, ModelVersion: 1}, t0)
	// a later opportunity on the same symbol with the opposite call
	m.RecordPrediction("rescan", "AAPL", types.Prediction{Direction: types.DirectionDown, Confidence: 0.6, ModelVersion: 2}, t0.Add(time.Minute))

	exit := t0.Add(time.Hour)
	m.Record(types.Trade{Symbol: "AAPL", Side: types.SideLong, EntryPrice: 100, ExitPrice: 110, ExitTime: &exit,
		Entry: types.EntryContext{OpportunityID: "entry"}})

	s := m.State()
	require.Len(t, s.Predictions, 2)
	assert.Equal(t, "entry", s.Predictions[0].ID)
	assert.True(t, s.Predictions[0].Correct())
	assert.Equal(t, 1, s.Predictions[0].Version)
	assert.False(t, s.Predictions[1].Resolved(), "the rescan's prediction is not scored by this close")
}

func TestTradeWithoutRecordScoresEntryPrediction(t *testing.T) {
	m := New(DefaultConfig(), nil)
	exit := t0.Add(time.Hour)
	m.Record(types.Trade{Symbol: "MSFT", Side: types.SideLong, EntryPrice: 100, ExitPrice: 90, EntryTime: t0, ExitTime: &exit,
		Entry: types.EntryContext{OpportunityID: "lost", Prediction: types.Prediction{Direction: types.DirectionUp, ModelVersion: 3}}})
	m.Record(types.Trade{Symbol: "MSFT", Side: types.SideLong, EntryPrice: 100, ExitPrice: 90, EntryTime: t0, ExitTime: &exit,
		Entry: types.EntryContext{OpportunityID: "neutral", Prediction: types.NeutralPrediction()}})

	s := m.State()
	require.Len(t, s.Predictions, 1)
	assert.Equal(t, 3, s.Predictions[0].Version)
	assert.False(t, s.Predictions[0].Correct())
}

func TestStateRoundTrip(t *testing.T) {
	slot := &predictor.Slot{}
	m := New(DefaultConfig(), slot)
	_, _ = m.Install(model(0.6), t0)
	_, _ = m.Install(model(0.7), t0)
	predict(m, 5, 2, true)

	slot2 := &predictor.Slot{}
	r := New(DefaultConfig(), slot2)
	r.Restore(m.State())
	assert.Equal(t, 2, r.ActiveVersion())
	assert.Equal(t, 2, slot2.Current().Version())
	_, _ = r.Install(model(0.6), t0)
	assert.Equal(t, 3, r.ActiveVersion())
}
