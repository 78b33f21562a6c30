package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/trader"
	"tradeloop/internal/types"
)

// decide empties the ranked buffer best-first. Each opportunity ends up
// executed, pending approval or dropped; never two of those.
func (c *Coordinator) decide(ctx context.Context) {
	batch := c.ranked
	c.ranked = nil
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Score > batch[j].Score })

	for _, op := range batch {
		view := Opportunity{RankedOpportunity: op}
		if len(op.Prediction.Features) > 0 {
			view.Edge = c.learners.Patterns.Query(op.Prediction.Features, op.Side, c.now())
		}
		view.Stage, view.Reason = c.route(ctx, view)
		if view.Stage == types.StagePendingApproval {
			c.pending[op.ID] = &pendingApproval{op: view, since: c.now()}
		}
		c.remember(view)
	}
	c.publish()
}

func (c *Coordinator) route(ctx context.Context, view Opportunity) (types.Stage, string) {
	op := view.RankedOpportunity
	if c.cfg.Mode == ModeScanOnly {
		c.advance(op.ID, types.StageDropped, "scan-only")
		return types.StageDropped, "scan-only"
	}
	if op.Score < c.cfg.ExecuteThreshold {
		reason := fmt.Sprintf("score %.3f below %.2f", op.Score, c.cfg.ExecuteThreshold)
		c.advance(op.ID, types.StageDropped, "below threshold")
		return types.StageDropped, reason
	}
	if reason := c.blocked(op); reason != "" {
		c.advance(op.ID, types.StageDropped, "blocked")
		return types.StageDropped, reason
	}

	if c.cfg.Mode == ModeManual {
		c.advance(op.ID, types.StagePendingApproval, "")
		c.notify.Notify(notifier.Opportunity(op, true))
		log.Infof("%s %s awaiting approval (score %.3f)", op.Symbol, op.Side, op.Score)
		return types.StagePendingApproval, ""
	}

	if err := c.execute(ctx, op); err != nil {
		c.advance(op.ID, types.StageDropped, "executor refused")
		return types.StageDropped, err.Error()
	}
	c.executed(op)
	return types.StageExecuted, ""
}

// blocked applies the portfolio gates that do not depend on the mode.
func (c *Coordinator) blocked(op types.RankedOpportunity) string {
	if c.executor == nil {
		return "no executor"
	}
	if !c.tradingEnabled() {
		return "daily loss limit reached"
	}
	if c.executor.Holds(op.Symbol) {
		return "already in position"
	}
	if c.cfg.MaxPositions > 0 && c.executor.Exposure() >= c.cfg.MaxPositions {
		return fmt.Sprintf("max positions (%d) reached", c.cfg.MaxPositions)
	}
	return ""
}

func (c *Coordinator) execute(ctx context.Context, op types.RankedOpportunity) error {
	ectx, cancel := c.withTimeout(ctx, c.cfg.ExecuteTimeout)
	defer cancel()
	err := c.executor.Open(ectx, op)
	switch {
	case err == nil:
		c.metrics.executed()
		log.Infof("executed %s %s (score %.3f)", op.Symbol, op.Side, op.Score)
	case errors.Is(err, trader.ErrComplianceLimit), errors.Is(err, trader.ErrAlreadyHeld):
		log.Infof("executor refused %s: %v", op.Symbol, err)
	default:
		log.Warnf("execute %s failed: %v", op.Symbol, err)
	}
	return err
}

// executed finishes an opened opportunity. Its prediction is kept so the
// close can be scored against the call the trade was made on.
func (c *Coordinator) executed(op types.RankedOpportunity) {
	c.advance(op.ID, types.StageExecuted, "")
	c.learners.Lifecycle.RecordPrediction(op.ID, op.Symbol, op.Prediction, c.now())
}

// tradingEnabled is the daily-loss kill switch. It alerts once per day.
func (c *Coordinator) tradingEnabled() bool {
	if c.executor == nil || c.cfg.MaxDailyLoss <= 0 {
		return true
	}
	now := c.now()
	pnl := c.executor.PnL(now)
	limit := -c.cfg.MaxDailyLoss * pnl.Capital
	if pnl.RealizedToday >= limit {
		return true
	}
	if day := now.In(c.loc).Format("2006-01-02"); c.haltedDay != day {
		c.haltedDay = day
		log.Warnf("daily loss %.2f beyond %.2f, trading disabled for %s", pnl.RealizedToday, limit, day)
		c.notify.Notify(notifier.Alert("Trading disabled",
			fmt.Sprintf("realized today %.2f, limit %.2f", pnl.RealizedToday, limit)))
	}
	return false
}

func (c *Coordinator) onApproval(ctx context.Context, m approvalMsg) error {
	p, ok := c.pending[m.id]
	if !ok {
		return ErrUnknownApproval
	}
	delete(c.pending, m.id)
	op := p.op.RankedOpportunity
	defer c.publish()

	if !m.approve {
		c.advance(op.ID, types.StageDropped, "rejected")
		c.markTop(op.ID, types.StageDropped, "rejected")
		log.Infof("%s rejected", op.Symbol)
		return nil
	}
	if reason := c.blocked(op); reason != "" {
		c.advance(op.ID, types.StageDropped, "blocked")
		c.markTop(op.ID, types.StageDropped, reason)
		return fmt.Errorf("coordinator: %s", reason)
	}
	if err := c.execute(ctx, op); err != nil {
		c.advance(op.ID, types.StageDropped, "executor refused")
		c.markTop(op.ID, types.StageDropped, err.Error())
		return err
	}
	c.executed(op)
	c.markTop(op.ID, types.StageExecuted, "approved")
	return nil
}

// expireApprovals drops approvals older than ApprovalTTL.
func (c *Coordinator) expireApprovals(now time.Time) bool {
	expired := false
	for id, p := range c.pending {
		if now.Sub(p.since) < c.cfg.ApprovalTTL {
			continue
		}
		delete(c.pending, id)
		c.advance(id, types.StageDropped, "approval expired")
		c.markTop(id, types.StageDropped, "approval expired")
		expired = true
	}
	return expired
}

// remember keeps the best TopN opportunities for the dashboard.
func (c *Coordinator) remember(op Opportunity) {
	for i := range c.top {
		if c.top[i].ID == op.ID {
			c.top[i] = op
			return
		}
	}
	c.top = append(c.top, op)
	sort.SliceStable(c.top, func(i, j int) bool { return c.top[i].Score > c.top[j].Score })
	if len(c.top) > c.cfg.TopN {
		c.top = c.top[:c.cfg.TopN]
	}
}

func (c *Coordinator) markTop(id string, stage types.Stage, reason string) {
	for i := range c.top {
		if c.top[i].ID == id {
			c.top[i].Stage, c.top[i].Reason = stage, reason
			return
		}
	}
}
