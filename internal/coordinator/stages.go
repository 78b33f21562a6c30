package coordinator

import (
	"context"
	"time"

	"tradeloop/internal/predictor"
	"tradeloop/internal/ranker"
	"tradeloop/internal/types"

	"golang.org/x/sync/errgroup"
)

// message is the loop's only input. reply, when set, receives the handler's
// error and is closed.
type message struct {
	payload any
	reply   chan error
}

type candidateMsg struct{ raw types.RawCandidate }

type validatedMsg struct {
	raw    types.RawCandidate
	v      types.ValidatedCandidate
	passed bool
	err    error
}

type scoredMsg struct {
	v   types.ValidatedCandidate
	sc  types.ScoredCandidate
	err error
}

type rankedMsg struct{ op types.RankedOpportunity }

type closedMsg struct{ trade types.Trade }

type trainedMsg struct{ res predictor.TrainResult }

type approvalMsg struct {
	id      string
	approve bool
}

type tickMsg struct{ force bool }

// rankJob carries the ranker inputs the loop assembled from state it owns.
type rankJob struct {
	sc types.ScoredCandidate
	in ranker.Inputs
}

// startStages runs StageWorkers goroutines per stage. Workers only read their
// input channel and post results back; they share no candidate state.
func (c *Coordinator) startStages(ctx context.Context, g *errgroup.Group) {
	for i := 0; i < c.cfg.StageWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case raw := <-c.validateCh:
					sctx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
					v, passed, err := c.validator.Validate(sctx, raw)
					cancel()
					c.internal(validatedMsg{raw: raw, v: v, passed: passed, err: err})
				}
			}
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case v := <-c.scoreCh:
					sctx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
					sc, err := c.scorer.Score(sctx, v)
					cancel()
					c.internal(scoredMsg{v: v, sc: sc, err: err})
				}
			}
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-c.rankCh:
					sctx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
					op := c.ranker.Rank(sctx, job.sc, job.in)
					cancel()
					c.internal(rankedMsg{op: op})
				}
			}
		})
	}
}

func (c *Coordinator) internal(payload any) {
	_ = c.post(message{payload: payload}, PriorityNormal, false)
}

// dispatch hands work to a stage without blocking the loop past ctx.
func dispatch[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// advance moves a candidate along the state machine. Illegal edges are logged
// and refused.
func (c *Coordinator) advance(id string, to types.Stage, reason string) bool {
	from := c.stages[id]
	if !(from == "" && to == types.StageRaw) && !types.CanTransition(from, to) {
		log.Errorf("refused stage %s -> %s for %s", from, to, id)
		c.metrics.invalidTransition()
		return false
	}
	c.metrics.stage(to, reason)
	switch to {
	case types.StageExecuted, types.StageDropped:
		delete(c.stages, id)
	default:
		c.stages[id] = to
	}
	if to == types.StageDropped && reason != "" {
		log.Debugf("dropped %s: %s", id, reason)
	}
	return true
}

func (c *Coordinator) onCandidate(ctx context.Context, raw types.RawCandidate) {
	if raw.ID == "" || raw.Symbol == "" {
		log.Warnf("ignoring candidate without id or symbol")
		return
	}
	if _, seen := c.stages[raw.ID]; seen {
		return
	}
	c.advance(raw.ID, types.StageRaw, "")
	c.ranker.Observe(raw)
	if !dispatch(ctx, c.validateCh, raw) {
		c.advance(raw.ID, types.StageDropped, "shutdown")
	}
}

func (c *Coordinator) onValidated(ctx context.Context, m validatedMsg) {
	id := m.raw.ID
	switch {
	case m.err != nil:
		reason := string(types.KindOf(m.err))
		if reason == "" {
			reason = "validation error"
		}
		c.advance(id, types.StageDropped, reason)
		return
	case !m.passed:
		c.advance(id, types.StageDropped, "validation gate")
		return
	}
	if !c.advance(id, types.StageValidated, "") {
		return
	}
	if !dispatch(ctx, c.scoreCh, m.v) {
		c.advance(id, types.StageDropped, "shutdown")
	}
}

func (c *Coordinator) onScored(ctx context.Context, m scoredMsg) {
	id := m.v.ID
	if m.err != nil {
		c.advance(id, types.StageDropped, "scoring cancelled")
		return
	}
	if !c.advance(id, types.StageScored, "") {
		return
	}
	if err := c.ranker.Tradeable(m.sc); err != nil {
		c.advance(id, types.StageDropped, "not tradeable")
		log.Debugf("%s not tradeable: %v", m.sc.Symbol, err)
		return
	}
	job := rankJob{sc: m.sc, in: c.rankInputs(m.sc.AssetClass)}
	if !dispatch(ctx, c.rankCh, job) {
		c.advance(id, types.StageDropped, "shutdown")
	}
}

func (c *Coordinator) onRanked(op types.RankedOpportunity) {
	if !c.advance(op.ID, types.StageRanked, "") {
		return
	}
	if len(c.ranked) == 0 {
		c.rankedSince = c.now()
	}
	c.ranked = append(c.ranked, op)
}

// inFlight counts candidates still on their way to the ranked buffer.
func (c *Coordinator) inFlight() int {
	n := 0
	for _, s := range c.stages {
		switch s {
		case types.StageRaw, types.StageValidated, types.StageScored:
			n++
		}
	}
	return n
}

// batchReady reports whether the ranked buffer should be decided now. A batch
// waits for its slower siblings so the best of them wins the limited slots,
// but never longer than one tick interval.
func (c *Coordinator) batchReady(force bool) bool {
	if len(c.ranked) == 0 {
		return false
	}
	if force || c.inFlight() == 0 {
		return true
	}
	return c.now().Sub(c.rankedSince) >= c.cfg.TickInterval
}

func (c *Coordinator) rankInputs(class types.AssetClass) ranker.Inputs {
	var positions []types.Position
	if c.executor != nil {
		positions = c.executor.Positions()
	}
	return ranker.Inputs{
		Positions:    positions,
		Weights:      c.learners.Components.Weights(),
		MarketWeight: c.learners.Adaptive.Weight(class),
	}
}

func (c *Coordinator) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
