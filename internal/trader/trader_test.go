package trader

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradeloop/internal/broker"
	"tradeloop/internal/store/gormstore"
	"tradeloop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharesReferenceExample(t *testing.T) {
	s := Sizing{MaxRiskFraction: 0.01, MaxPositionFraction: 0.05}
	// risk budget 30 / 2 per share = 15; position budget 150 / 50 = 3
	assert.Equal(t, 3.0, s.Shares(3000, 50, 2))
	assert.Equal(t, 1.0, s.Shares(100, 500, 10), "never fewer than one share")
}

func TestSharesMonotonic(t *testing.T) {
	s := Sizing{MaxRiskFraction: 0.01, MaxPositionFraction: 0.05}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		capital := 1000 + rng.Float64()*100000
		entry := 1 + rng.Float64()*500
		risk := 0.01 + rng.Float64()*20
		base := s.Shares(capital, entry, risk)
		require.GreaterOrEqual(t, base, 1.0)
		assert.LessOrEqual(t, s.Shares(capital, entry, risk*1.5), base, "risk per share %v", risk)
		assert.LessOrEqual(t, s.Shares(capital, entry*1.5, risk), base, "entry %v", entry)
	}
}

func TestQuantityFractionalForCrypto(t *testing.T) {
	s := Sizing{MaxRiskFraction: 0.01, MaxPositionFraction: 0.05}
	q := s.Quantity(types.AssetCrypto, 10000, 60000, 1200)
	// min(500/60000, 100/1200) = 0.008333
	assert.InDelta(t, 0.008333, q, 1e-9)
	assert.Equal(t, 3.0, s.Quantity(types.AssetEquity, 3000, 50, 2))
	// no one-unit floor outside equities and options
	assert.Zero(t, s.Quantity(types.AssetForex, 100, 1e9, 0))
	assert.Equal(t, 1.0, s.Quantity(types.AssetEquity, 100, 1e9, 0))
}

func TestPnLSignInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		entry := 1 + rng.Float64()*1000
		exit := entry
		if i%5 != 0 {
			exit = 1 + rng.Float64()*1000
		}
		qty := float64(1 + rng.Intn(100))
		side := types.SideLong
		if i%2 == 1 {
			side = types.SideShort
		}
		tr := closeTrade(types.Position{TradeID: "x", Side: side, EntryPrice: entry, Quantity: qty},
			exit, time.Now(), "test")
		switch {
		case exit == entry:
			assert.Zero(t, tr.PnL)
		case side == types.SideShort:
			assert.Equal(t, exit < entry, tr.PnL > 0, "short entry=%v exit=%v", entry, exit)
		default:
			assert.Equal(t, exit > entry, tr.PnL > 0, "long entry=%v exit=%v", entry, exit)
		}
	}
}

func TestCompliance(t *testing.T) {
	c := Compliance{Threshold: 25000, MaxRoundTrips: 3}
	full := DayTrades{Day: "2026-03-02", Count: 3}
	assert.False(t, c.Allow(types.AssetEquity, 3000, full, "2026-03-02"))
	assert.True(t, c.Allow(types.AssetEquity, 3000, full, "2026-03-03"), "counter resets on a new day")
	assert.True(t, c.Allow(types.AssetEquity, 30000, full, "2026-03-02"), "unrestricted above threshold")
	assert.True(t, c.Allow(types.AssetCrypto, 3000, full, "2026-03-02"))
}

type harness struct {
	t      *testing.T
	trader *Trader
	paper  *broker.Paper
	store  *gormstore.GormStore
	path   string

	mu     sync.Mutex
	closed []types.TradeClosed
}

func newHarness(t *testing.T, path string, cfg Config) *harness {
	t.Helper()
	st, err := gormstore.NewGormStore(path)
	require.NoError(t, err)
	h := &harness{t: t, paper: broker.NewPaper(), store: st, path: path}
	tr, err := New(cfg, Deps{
		Broker:    h.paper,
		Snapshots: st,
		Journal:   st,
		OnClosed: func(ev types.TradeClosed) {
			h.mu.Lock()
			h.closed = append(h.closed, ev)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, tr.Recover(context.Background()))
	tr.Start()
	h.trader = tr
	return h
}

func (h *harness) stop() {
	h.trader.Stop()
	require.NoError(h.t, h.store.Close())
}

func (h *harness) closedTrades() []types.TradeClosed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.TradeClosed(nil), h.closed...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Capital = 3000
	cfg.RefreshInterval = 0
	cfg.Timezone = "UTC"
	return cfg
}

func opportunity(t *testing.T, symbol string, side types.Side, entry, stop, target float64) types.RankedOpportunity {
	t.Helper()
	raw, err := types.NewRawCandidate(types.CandidateSpec{
		Symbol: symbol, AssetClass: types.AssetEquity, Side: side,
		Entry: entry, Stop: stop, Target: target, Confidence: 0.8, Strategy: "ema_cross",
	}, time.Now())
	require.NoError(t, err)
	return types.RankedOpportunity{
		ScoredCandidate: types.ScoredCandidate{
			ValidatedCandidate: types.ValidatedCandidate{RawCandidate: raw},
			Prediction:         types.NeutralPrediction(),
			FinalConfidence:    0.8,
		},
		Score: 0.8,
	}
}

func waitPositions(t *testing.T, tr *Trader, n int) []types.Position {
	t.Helper()
	require.Eventually(t, func() bool {
		s := tr.Snapshot()
		return len(s.Positions) == n && len(s.Pending) == 0
	}, 3*time.Second, 5*time.Millisecond)
	return tr.Positions()
}

func TestOpenShortPlacesBuyStopAndClosesWithSignedPnL(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "exec.db"), testConfig())
	defer h.stop()
	ctx := context.Background()

	require.NoError(t, h.trader.Open(ctx, opportunity(t, "TSLA", types.SideShort, 50, 52, 44)))
	positions := waitPositions(t, h.trader, 1)
	pos := positions[0]
	assert.Equal(t, types.SideShort, pos.Side)
	assert.Equal(t, 3.0, pos.Quantity)
	require.NotEmpty(t, pos.StopOrder)

	resting := h.paper.Resting()
	require.Contains(t, resting, pos.StopOrder)
	assert.Equal(t, types.OrderBuy, resting[pos.StopOrder].Side, "short stop buys back")
	assert.Equal(t, 52.0, resting[pos.StopOrder].Price)

	err := h.trader.Open(ctx, opportunity(t, "TSLA", types.SideShort, 50, 52, 44))
	assert.ErrorIs(t, err, ErrAlreadyHeld)

	require.NoError(t, h.trader.Close(ctx, pos.TradeID, "manual", 46))
	waitPositions(t, h.trader, 0)

	hist := h.trader.History(10)
	require.Len(t, hist, 1)
	assert.InDelta(t, 12.0, hist[0].PnL, 1e-9)
	assert.InDelta(t, 2.0, hist[0].RRAchieved, 1e-9)
	assert.Empty(t, h.paper.Resting(), "stop cancelled on close")

	closed := h.closedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, pos.TradeID, closed[0].Trade.ID)

	journal, err := h.store.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.False(t, journal[0].Open())
}

func TestStopBreachClosesLong(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "exec.db"), testConfig())
	defer h.stop()
	ctx := context.Background()

	require.NoError(t, h.trader.Open(ctx, opportunity(t, "AAPL", types.SideLong, 100, 95, 115)))
	waitPositions(t, h.trader, 1)

	require.NoError(t, h.trader.SendSync(ctx, EventEnvelope{Type: EvtPrices,
		Payload: PricesPayload{Prices: map[string]float64{"AAPL": 101}}}))
	assert.Equal(t, 101.0, h.trader.Positions()[0].LivePrice)

	require.NoError(t, h.trader.SendSync(ctx, EventEnvelope{Type: EvtPrices,
		Payload: PricesPayload{Prices: map[string]float64{"AAPL": 94.5}}}))
	waitPositions(t, h.trader, 0)
	hist := h.trader.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, "stop", hist[0].CloseReason)
	assert.Less(t, hist[0].PnL, 0.0)
}

func TestRestartReproducesPositionsAndHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec.db")
	ctx := context.Background()

	h := newHarness(t, path, testConfig())
	require.NoError(t, h.trader.Open(ctx, opportunity(t, "AAPL", types.SideLong, 100, 95, 115)))
	require.NoError(t, h.trader.Open(ctx, opportunity(t, "MSFT", types.SideShort, 400, 410, 370)))
	positions := waitPositions(t, h.trader, 2)
	require.NoError(t, h.trader.Close(ctx, positions[0].TradeID, "manual", 110))
	before := waitPositions(t, h.trader, 1)
	history := h.trader.History(0)
	h.stop()

	h2 := newHarness(t, path, testConfig())
	defer h2.stop()
	after := h2.trader.Positions()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].TradeID, after[i].TradeID)
		assert.Equal(t, before[i].Side, after[i].Side)
		assert.Equal(t, before[i].Quantity, after[i].Quantity)
		assert.Equal(t, before[i].EntryPrice, after[i].EntryPrice)
		assert.True(t, before[i].EntryTime.Equal(after[i].EntryTime))
		assert.Equal(t, before[i].Entry.Strategy, after[i].Entry.Strategy)
	}
	gotHistory := h2.trader.History(0)
	require.Len(t, gotHistory, len(history))
	assert.Equal(t, history[0].ID, gotHistory[0].ID)
	assert.InDelta(t, history[0].PnL, gotHistory[0].PnL, 1e-12)

	holdings, err := h2.paper.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1, "paper broker reseeded from the restored state")
	assert.Equal(t, "MSFT", holdings[0].Symbol)
}

func TestDayTradeLimitRefusesFourthEquityRoundTrip(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "exec.db"), testConfig())
	defer h.stop()
	ctx := context.Background()

	for i, sym := range []string{"AAA", "BBB", "CCC"} {
		require.NoError(t, h.trader.Open(ctx, opportunity(t, sym, types.SideLong, 10, 9, 13)))
		pos := waitPositions(t, h.trader, 1)
		require.NoError(t, h.trader.Close(ctx, pos[0].TradeID, "manual", 11))
		waitPositions(t, h.trader, 0)
		assert.Equal(t, i+1, h.trader.Snapshot().DayTrades.Count)
	}
	err := h.trader.Open(ctx, opportunity(t, "DDD", types.SideLong, 10, 9, 13))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComplianceLimit)
	assert.True(t, types.IsKind(err, types.KindCompliance))
}

type failingSnapshots struct{}

func (failingSnapshots) Save(context.Context, string, any) error { return errors.New("disk full") }

func (failingSnapshots) Load(context.Context, string, any) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func TestPersistenceFailureHalts(t *testing.T) {
	tr, err := New(testConfig(), Deps{Broker: broker.NewPaper(), Snapshots: failingSnapshots{}})
	require.NoError(t, err)
	tr.Start()
	defer tr.Stop()
	ctx := context.Background()

	err = tr.Open(ctx, opportunity(t, "AAPL", types.SideLong, 100, 95, 115))
	require.ErrorIs(t, err, ErrPersistence)
	assert.True(t, tr.Halted())
	assert.Empty(t, tr.Snapshot().Pending)

	err = tr.Open(ctx, opportunity(t, "MSFT", types.SideLong, 100, 95, 115))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.True(t, types.IsKind(err, types.KindPersistence))
}

type liveFake struct {
	broker.Paper
	holdings []broker.Holding
}

func (f *liveFake) Mode() broker.Mode { return broker.ModeLive }

func (f *liveFake) GetPositions(context.Context) ([]broker.Holding, error) { return f.holdings, nil }

func TestReconcileAdoptsAndClosesAgainstBroker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec.db")
	ctx := context.Background()

	h := newHarness(t, path, testConfig())
	require.NoError(t, h.trader.Open(ctx, opportunity(t, "AAPL", types.SideLong, 100, 95, 115)))
	waitPositions(t, h.trader, 1)
	h.stop()

	st, err := gormstore.NewGormStore(path)
	require.NoError(t, err)
	defer st.Close()
	live := &liveFake{holdings: []broker.Holding{
		{Symbol: "NVDA", AssetClass: types.AssetEquity, Side: types.SideShort, Quantity: 2, EntryPrice: 900, MarkPrice: 880},
	}}
	var closed []types.TradeClosed
	tr, err := New(testConfig(), Deps{Broker: live, Snapshots: st, Journal: st,
		OnClosed: func(ev types.TradeClosed) { closed = append(closed, ev) }})
	require.NoError(t, err)
	require.NoError(t, tr.Recover(ctx))

	positions := tr.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "NVDA", positions[0].Symbol)
	assert.Equal(t, types.SideShort, positions[0].Side)

	require.Len(t, closed, 1)
	assert.Equal(t, "AAPL", closed[0].Trade.Symbol)
	assert.Equal(t, "reconciled", closed[0].Trade.CloseReason)
	assert.Equal(t, 95.0, closed[0].Trade.ExitPrice)
}

func TestPnLSummary(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "exec.db"), testConfig())
	defer h.stop()
	ctx := context.Background()

	require.NoError(t, h.trader.Open(ctx, opportunity(t, "AAPL", types.SideLong, 100, 95, 115)))
	pos := waitPositions(t, h.trader, 1)
	require.NoError(t, h.trader.Close(ctx, pos[0].TradeID, "manual", 104))
	waitPositions(t, h.trader, 0)

	sum := h.trader.PnL(time.Now())
	assert.Equal(t, 1, sum.ClosedTrades)
	assert.Equal(t, 1, sum.Wins)
	assert.InDelta(t, sum.Realized, sum.RealizedToday, 1e-9)
	assert.InDelta(t, 3000+sum.Realized, sum.Equity, 1e-9)

	daily := h.trader.DailySummary(time.Now())
	assert.Equal(t, 1, daily.Trades)
	assert.InDelta(t, sum.Realized, daily.RealizedPnL, 1e-9)
}
