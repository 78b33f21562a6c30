// Package trader is the trade executor. A single goroutine owns every open
// position, pending order and the trade history; everything else talks to it
// through its mailbox and reads immutable snapshots.
package trader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tradeloop/internal/broker"
	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/circuit"
	"tradeloop/internal/pkg/retry"
	"tradeloop/internal/store"
	"tradeloop/internal/types"

	"github.com/google/uuid"
)

var log = logger.Named("Executor")

type Config struct {
	Capital         float64       `yaml:"capital"`
	Sizing          Sizing        `yaml:"sizing"`
	Compliance      Compliance    `yaml:"compliance"`
	HistoryCap      int           `yaml:"history_cap"`
	OrderTimeout    time.Duration `yaml:"order_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// Timezone decides trading-day boundaries for the round-trip counter.
	Timezone string       `yaml:"timezone"`
	Retry    retry.Policy `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Capital:         10000,
		Sizing:          Sizing{MaxRiskFraction: 0.01, MaxPositionFraction: 0.05},
		Compliance:      Compliance{Threshold: 25000, MaxRoundTrips: 3},
		HistoryCap:      100,
		OrderTimeout:    30 * time.Second,
		RefreshInterval: time.Minute,
		Timezone:        "America/New_York",
		Retry:           retry.DefaultPolicy(),
	}
}

// Deps are the executor's collaborators. Broker is required.
type Deps struct {
	Broker    broker.Broker
	Quoter    broker.Quoter
	Snapshots store.SnapshotStore
	Journal   store.TradeJournal
	Breaker   *circuit.CircuitBreaker
	Notifier  notifier.Sink
	Metrics   *Metrics
	// OnClosed is called from the actor goroutine for every closed trade.
	// It must not block.
	OnClosed func(types.TradeClosed)
}

type Option func(*Trader)

func WithClock(now func() time.Time) Option {
	return func(t *Trader) { t.now = now }
}

// Trader is the executor actor.
type Trader struct {
	cfg       Config
	loc       *time.Location
	broker    broker.Broker
	quoter    broker.Quoter
	snapshots store.SnapshotStore
	journal   store.TradeJournal
	breaker   *circuit.CircuitBreaker
	notify    notifier.Sink
	metrics   *Metrics
	onClosed  func(types.TradeClosed)
	now       func() time.Time
	registry  *HandlerRegistry

	msgCh    chan EventEnvelope
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	dispatchMu sync.Mutex
	draining   bool
	inflight   sync.WaitGroup

	state         *State
	stateSnapshot atomic.Value
}

func New(cfg Config, deps Deps, opts ...Option) (*Trader, error) {
	if deps.Broker == nil {
		return nil, fmt.Errorf("executor: broker is required")
	}
	def := DefaultConfig()
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = def.HistoryCap
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = def.OrderTimeout
	}
	if cfg.Capital <= 0 {
		return nil, fmt.Errorf("executor: capital must be positive")
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("executor: timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	t := &Trader{
		cfg:       cfg,
		loc:       loc,
		broker:    deps.Broker,
		quoter:    deps.Quoter,
		snapshots: deps.Snapshots,
		journal:   deps.Journal,
		breaker:   deps.Breaker,
		notify:    deps.Notifier,
		metrics:   deps.Metrics,
		onClosed:  deps.OnClosed,
		now:       time.Now,
		registry:  NewHandlerRegistry(),
		msgCh:     make(chan EventEnvelope, 100),
		stopCh:    make(chan struct{}),
		state:     NewState(),
	}
	if t.notify == nil {
		t.notify = notifier.Nop{}
	}
	for _, opt := range opts {
		opt(t)
	}
	t.registry.RegisterDefaultHandlers()
	t.refreshSnapshot()
	return t, nil
}

// Recover loads the persisted executor record and reconciles it against the
// broker. It must run before Start. A broker that cannot be reached is an
// error: the caller should not trade on unverified state.
func (t *Trader) Recover(ctx context.Context) error {
	if t.snapshots != nil {
		st, savedAt, found, err := loadSnapshot(ctx, t.snapshots)
		if err != nil {
			return fmt.Errorf("executor: load state: %w", err)
		}
		t.state = st
		if found {
			log.Infof("restored %d positions, %d trades (saved %s)",
				len(st.Positions), len(st.History), savedAt.Format(time.RFC3339))
		}
	}
	if n := len(t.state.Pending); n > 0 {
		log.Warnf("dropping %d orders left pending by the previous run; broker positions decide", n)
		t.state.Pending = make(map[string]*PendingOrder)
	}

	var touched []types.Trade
	if seeder, ok := t.broker.(interface{ Seed(...broker.Holding) }); ok && t.broker.Mode() == broker.ModePaper {
		seeder.Seed(holdingsOf(t.state)...)
	} else {
		var holdings []broker.Holding
		err := t.call(ctx, func(ctx context.Context) error {
			var err error
			holdings, err = t.broker.GetPositions(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("executor: broker positions: %w", err)
		}
		touched = t.reconcile(holdings)
	}
	if err := t.persist(touched...); err != nil {
		return err
	}
	t.refreshSnapshot()
	log.Infof("recovery complete: %d open positions", len(t.state.Positions))
	return nil
}

// reconcile makes the local positions agree with the broker's. Positions the
// broker no longer holds are closed at their stop (or last price); holdings
// with no local record are adopted.
func (t *Trader) reconcile(holdings []broker.Holding) []types.Trade {
	bySymbol := make(map[string]broker.Holding, len(holdings))
	for _, h := range holdings {
		bySymbol[h.Symbol] = h
	}
	now := t.now()
	var touched []types.Trade
	for _, pos := range t.state.PositionList() {
		h, ok := bySymbol[pos.Symbol]
		delete(bySymbol, pos.Symbol)
		if ok && h.Side == pos.Side {
			if h.Quantity != pos.Quantity {
				log.Warnf("reconcile %s: quantity %g -> %g", pos.Symbol, pos.Quantity, h.Quantity)
				t.state.Positions[pos.TradeID].Quantity = h.Quantity
			}
			if h.MarkPrice > 0 {
				t.state.Positions[pos.TradeID].LivePrice = h.MarkPrice
			}
			continue
		}
		exit := pos.LivePrice
		if pos.Stop > 0 {
			exit = pos.Stop
		}
		log.Warnf("reconcile %s: broker no longer holds %s, closing locally at %.4f", pos.Symbol, pos.Side, exit)
		touched = append(touched, t.finishClose(pos.TradeID, exit, now, "reconciled"))
	}
	for _, h := range bySymbol {
		if !h.Side.Valid() || h.Quantity <= 0 {
			continue
		}
		pos := &types.Position{
			TradeID:    uuid.NewString(),
			Symbol:     h.Symbol,
			AssetClass: h.AssetClass,
			Side:       h.Side,
			Quantity:   h.Quantity,
			EntryPrice: h.EntryPrice,
			LivePrice:  h.MarkPrice,
			EntryTime:  now,
			Entry:      types.EntryContext{Strategy: "reconciled"},
		}
		log.Warnf("reconcile %s: adopting untracked %s %g @ %.4f", h.Symbol, h.Side, h.Quantity, h.EntryPrice)
		t.state.Positions[pos.TradeID] = pos
		t.state.BySymbol[pos.Symbol] = pos.TradeID
		touched = append(touched, openTrade(*pos))
	}
	return touched
}

func holdingsOf(s *State) []broker.Holding {
	out := make([]broker.Holding, 0, len(s.Positions))
	for _, p := range s.PositionList() {
		out = append(out, broker.Holding{
			Symbol:     p.Symbol,
			AssetClass: p.AssetClass,
			Side:       p.Side,
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			MarkPrice:  p.LivePrice,
		})
	}
	return out
}

func (t *Trader) Start() {
	t.wg.Add(1)
	go t.runLoop()
}

// Stop waits for in-flight broker calls to answer or time out, applies their
// results, then stops the loop.
func (t *Trader) Stop() {
	t.stopOnce.Do(func() {
		t.dispatchMu.Lock()
		t.draining = true
		t.dispatchMu.Unlock()
		t.inflight.Wait()
		close(t.stopCh)
		t.wg.Wait()
	})
}

// Run starts the loop and a price-refresh ticker and blocks until ctx ends.
func (t *Trader) Run(ctx context.Context) error {
	t.Start()
	defer t.Stop()
	var tick <-chan time.Time
	if t.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(t.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := t.Send(EventEnvelope{Type: EvtRefresh}); err != nil {
				return nil
			}
		}
	}
}

func (t *Trader) Send(evt EventEnvelope) error {
	if evt.ID == "" {
		evt.ID = newEventID(string(evt.Type))
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	select {
	case t.msgCh <- evt:
		return nil
	case <-t.stopCh:
		return ErrStopped
	}
}

func (t *Trader) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := t.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopCh:
		return ErrStopped
	}
}

// Open submits a ranked opportunity for execution. A nil error means the
// entry order was recorded and dispatched, not that it filled.
func (t *Trader) Open(ctx context.Context, op types.RankedOpportunity) error {
	return t.SendSync(ctx, EventEnvelope{Type: EvtOpen, Payload: OpenPayload{Opportunity: op}})
}

// Close submits a close for an open trade at the given reference price.
func (t *Trader) Close(ctx context.Context, tradeID, reason string, price float64) error {
	return t.SendSync(ctx, EventEnvelope{Type: EvtClose, Payload: ClosePayload{TradeID: tradeID, Reason: reason, Price: price}})
}

func (t *Trader) runLoop() {
	defer t.wg.Done()
	log.Infof("actor started")
	for {
		select {
		case evt := <-t.msgCh:
			t.handleEvent(evt)
		case <-t.stopCh:
			for {
				select {
				case evt := <-t.msgCh:
					t.handleEvent(evt)
				default:
					log.Infof("actor stopped")
					return
				}
			}
		}
	}
}

func (t *Trader) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic handling %s: %v\n%s", evt.Type, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			log.Warnf("slow event %s took %v", evt.Type, dur)
		}
	}()

	handler, ok := t.registry.Get(evt.Type)
	if !ok {
		log.Warnf("no handler registered for %s", evt.Type)
		return
	}
	err = handler.Handle(t, evt)
	if err != nil && evt.ReplyCh == nil {
		log.Errorf("%s failed: %v", evt.Type, err)
	}
}

func (t *Trader) handleOpen(p OpenPayload) error {
	op := p.Opportunity
	if t.state.Halted {
		t.metrics.refuse("halted")
		return types.NewError(types.KindPersistence, "executor", op.Symbol, ErrPersistence)
	}
	if t.state.Holds(op.Symbol) {
		t.metrics.refuse("held")
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, op.Symbol)
	}
	if t.breaker != nil && t.breaker.State() == circuit.StateOpen {
		t.metrics.refuse("broker_unavailable")
		return types.NewError(types.KindDependency, "executor", op.Symbol, circuit.ErrOpen)
	}
	now := t.now()
	day := dayKey(now, t.loc)
	t.state.DayTrades = t.state.DayTrades.roll(day)
	equity := t.equity()
	if !t.cfg.Compliance.Allow(op.AssetClass, equity, t.state.DayTrades, day) {
		t.metrics.refuse("compliance")
		detail := fmt.Sprintf("%s entry refused: %d/%d round trips today with equity %.2f below %.2f",
			op.Symbol, t.state.DayTrades.Count, t.cfg.Compliance.MaxRoundTrips, equity, t.cfg.Compliance.Threshold)
		log.Warnf("%s", detail)
		t.notify.Notify(notifier.Alert("Day-trade limit", detail))
		return types.NewError(types.KindCompliance, "executor", op.Symbol, ErrComplianceLimit)
	}
	qty := t.cfg.Sizing.Quantity(op.AssetClass, equity, op.Entry, op.RiskPerUnit())
	if qty <= 0 {
		t.metrics.refuse("size")
		return fmt.Errorf("executor: %s position rounds to zero at %.4f", op.Symbol, op.Entry)
	}
	entry := entryContext(op)
	pending := &PendingOrder{
		RequestID: uuid.NewString(),
		Action:    OrderActionOpen,
		TradeID:   uuid.NewString(),
		Symbol:    op.Symbol,
		Side:      op.Side,
		Quantity:  qty,
		Price:     op.Entry,
		Reason:    op.Strategy,
		SentAt:    now,
		Entry:     &entry,
		Levels:    &ProtectiveLevels{Stop: op.Stop, Target: op.Target},
		Class:     op.AssetClass,
	}
	t.state.Pending[pending.RequestID] = pending
	if err := t.persist(); err != nil {
		delete(t.state.Pending, pending.RequestID)
		return err
	}
	t.refreshSnapshot()
	log.Infof("open %s %s x %g @ %.4f (score %.3f)", op.Side, op.Symbol, qty, op.Entry, op.Score)
	return t.dispatchPending(pending, func() { t.runOpen(*pending) })
}

func entryContext(op types.RankedOpportunity) types.EntryContext {
	var features []float64
	if len(op.Prediction.Features) > 0 {
		features = append(features, op.Prediction.Features...)
	}
	return types.EntryContext{
		OpportunityID: op.ID,
		Strategy:      op.Strategy,
		Score:         op.Score,
		Components:    op.Breakdown.Components,
		Validation:    op.Validation,
		Prediction:    op.Prediction,
		Features:      features,
		ExpectedRR:    op.RiskReward(),
		Extra: map[string]float64{
			"final_confidence": op.FinalConfidence,
			"base_score":       op.Breakdown.Base,
		},
	}
}

func (t *Trader) handleClose(p ClosePayload) error {
	pos, ok := t.state.Positions[p.TradeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrade, p.TradeID)
	}
	if t.state.closing(p.TradeID) {
		return nil
	}
	if t.state.Halted {
		return types.NewError(types.KindPersistence, "executor", pos.Symbol, ErrPersistence)
	}
	price := p.Price
	if price <= 0 {
		price = pos.LivePrice
	}
	if price <= 0 {
		price = pos.EntryPrice
	}
	reason := p.Reason
	if reason == "" {
		reason = "manual"
	}
	pending := &PendingOrder{
		RequestID: uuid.NewString(),
		Action:    OrderActionClose,
		TradeID:   pos.TradeID,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Quantity:  pos.Quantity,
		Price:     price,
		Reason:    reason,
		SentAt:    t.now(),
		Class:     pos.AssetClass,
	}
	t.state.Pending[pending.RequestID] = pending
	if err := t.persist(); err != nil {
		delete(t.state.Pending, pending.RequestID)
		return err
	}
	t.refreshSnapshot()
	log.Infof("close %s %s x %g @ %.4f (%s)", pos.Side, pos.Symbol, pos.Quantity, price, reason)
	stopOrder := pos.StopOrder
	return t.dispatchPending(pending, func() { t.runClose(*pending, stopOrder) })
}

func (t *Trader) handleRefresh() error {
	if t.quoter == nil || len(t.state.Positions) == 0 {
		return nil
	}
	type quoteReq struct {
		symbol string
		class  types.AssetClass
	}
	reqs := make([]quoteReq, 0, len(t.state.Positions))
	for _, p := range t.state.PositionList() {
		reqs = append(reqs, quoteReq{p.Symbol, p.AssetClass})
	}
	return t.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.OrderTimeout)
		defer cancel()
		prices := make(map[string]float64, len(reqs))
		for _, r := range reqs {
			px, err := t.quoter.LastPrice(ctx, r.symbol, r.class)
			if err != nil {
				log.Debugf("quote %s: %v", r.symbol, err)
				continue
			}
			prices[r.symbol] = px
		}
		t.post(EventEnvelope{Type: EvtPrices, Payload: PricesPayload{Prices: prices, At: time.Now()}})
	})
}

// handlePrices marks positions to market and closes any whose stop or
// target was crossed.
func (t *Trader) handlePrices(p PricesPayload) error {
	changed := false
	var exits []ClosePayload
	for _, pos := range t.state.PositionList() {
		px, ok := p.Prices[pos.Symbol]
		if !ok || px <= 0 {
			continue
		}
		if px != pos.LivePrice {
			t.state.Positions[pos.TradeID].LivePrice = px
			changed = true
		}
		switch {
		case pos.StopHit(px):
			exits = append(exits, ClosePayload{TradeID: pos.TradeID, Reason: "stop", Price: px})
		case pos.TargetHit(px):
			exits = append(exits, ClosePayload{TradeID: pos.TradeID, Reason: "target", Price: px})
		}
	}
	if changed {
		if err := t.persist(); err != nil {
			return err
		}
		t.refreshSnapshot()
	}
	var errs []error
	for _, c := range exits {
		if err := t.handleClose(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Trader) handleOrderResult(res OrderResultPayload) error {
	p, ok := t.state.Pending[res.RequestID]
	if !ok {
		log.Warnf("order result %s for unknown request", res.RequestID)
		return nil
	}
	delete(t.state.Pending, res.RequestID)
	t.metrics.order(res.Action, res.Err)

	if res.Err != nil || !res.Fill.Filled {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("order %s not filled", res.Fill.OrderID)
		}
		logger.DeadLetter("Executor", res.Action, p.Symbol, err)
		if perr := t.persist(); perr != nil {
			return perr
		}
		t.refreshSnapshot()
		return nil
	}

	switch res.Action {
	case OrderActionOpen:
		return t.applyOpened(p, res)
	case OrderActionClose:
		return t.applyClosed(p, res)
	}
	return fmt.Errorf("order result with unknown action %q", res.Action)
}

func (t *Trader) applyOpened(p *PendingOrder, res OrderResultPayload) error {
	fill := res.Fill
	pos := &types.Position{
		TradeID:    p.TradeID,
		Symbol:     p.Symbol,
		AssetClass: p.Class,
		Side:       p.Side,
		Quantity:   firstPositive(fill.Quantity, p.Quantity),
		EntryPrice: firstPositive(fill.Price, p.Price),
		EntryTime:  fill.At,
		StopOrder:  res.StopOrder,
	}
	if pos.EntryTime.IsZero() {
		pos.EntryTime = t.now()
	}
	pos.LivePrice = pos.EntryPrice
	if p.Levels != nil {
		pos.Stop, pos.Target = p.Levels.Stop, p.Levels.Target
	}
	if p.Entry != nil {
		pos.Entry = *p.Entry
	}
	if res.StopErr != nil {
		logger.DeadLetter("Executor", "stop_order", p.Symbol, res.StopErr)
	}
	t.state.Positions[pos.TradeID] = pos
	t.state.BySymbol[pos.Symbol] = pos.TradeID
	if err := t.persist(openTrade(*pos)); err != nil {
		return err
	}
	t.refreshSnapshot()
	log.Infof("opened %s %s x %g @ %.4f trade=%s", pos.Side, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.TradeID)
	t.notify.Notify(notifier.Entry(*pos))
	return nil
}

func (t *Trader) applyClosed(p *PendingOrder, res OrderResultPayload) error {
	if _, ok := t.state.Positions[p.TradeID]; !ok {
		log.Warnf("close fill for %s but trade %s is gone", p.Symbol, p.TradeID)
		return t.persist()
	}
	at := res.Fill.At
	if at.IsZero() {
		at = t.now()
	}
	trade := t.finishClose(p.TradeID, firstPositive(res.Fill.Price, p.Price), at, p.Reason)
	if err := t.persist(trade); err != nil {
		return err
	}
	t.refreshSnapshot()
	log.Infof("closed %s %s pnl %+.2f (%s)", trade.Side, trade.Symbol, trade.PnL, trade.CloseReason)
	t.notify.Notify(notifier.Exit(trade))
	return nil
}

// finishClose moves a position into history and emits TradeClosed. The
// caller persists.
func (t *Trader) finishClose(tradeID string, exitPrice float64, at time.Time, reason string) types.Trade {
	pos := t.state.Positions[tradeID]
	delete(t.state.Positions, tradeID)
	if t.state.BySymbol[pos.Symbol] == tradeID {
		delete(t.state.BySymbol, pos.Symbol)
	}
	trade := closeTrade(*pos, exitPrice, at, reason)
	t.state.History = append(t.state.History, trade)
	if over := len(t.state.History) - t.cfg.HistoryCap; over > 0 {
		t.state.History = append([]types.Trade(nil), t.state.History[over:]...)
	}
	t.state.Realized += trade.PnL
	if isRoundTrip(trade, t.loc) {
		t.state.DayTrades = t.state.DayTrades.roll(dayKey(at, t.loc))
		t.state.DayTrades.Count++
	}
	if t.onClosed != nil {
		t.onClosed(types.TradeClosed{Trade: trade})
	}
	return trade
}

func openTrade(p types.Position) types.Trade {
	return types.Trade{
		ID:         p.TradeID,
		Symbol:     p.Symbol,
		AssetClass: p.AssetClass,
		Side:       p.Side,
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		EntryTime:  p.EntryTime,
		Stop:       p.Stop,
		Target:     p.Target,
		Entry:      p.Entry,
	}
}

// closeTrade books the exit. P&L is signed by side; RRAchieved is the
// per-unit result in multiples of the initial stop distance.
func closeTrade(p types.Position, exitPrice float64, at time.Time, reason string) types.Trade {
	tr := openTrade(p)
	exit := at
	tr.ExitTime = &exit
	tr.ExitPrice = exitPrice
	tr.CloseReason = reason
	tr.PnL = types.PnL(p.Side, p.EntryPrice, exitPrice, p.Quantity)
	if notional := p.EntryPrice * p.Quantity; notional > 0 {
		tr.PnLPct = tr.PnL / notional * 100
	}
	if risk := p.EntryPrice - p.Stop; p.Stop > 0 && risk != 0 && p.Quantity > 0 {
		if risk < 0 {
			risk = -risk
		}
		tr.RRAchieved = tr.PnL / p.Quantity / risk
	}
	return tr
}

func (t *Trader) halt(err error) {
	if !t.state.Halted {
		log.Errorf("persistence failed, halting order placement: %v", err)
		t.notify.Notify(notifier.Alert("Executor halted", "state could not be saved; no further orders until restart"))
	}
	t.state.Halted = true
	logger.DeadLetter("Executor", "persist", SnapshotName, err)
	t.refreshSnapshot()
}

// equity is the starting capital plus realized P&L.
func (t *Trader) equity() float64 {
	return t.cfg.Capital + t.state.Realized
}

func (t *Trader) refreshSnapshot() {
	snap := t.state.clone()
	t.stateSnapshot.Store(snap)
	t.metrics.observe(snap)
}

func newEventID(prefix string) string {
	if prefix == "" {
		prefix = "evt"
	}
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
