package coordinator

import (
	"context"
	"fmt"
	"time"

	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/learning"
	"tradeloop/internal/learning/adaptive"
	"tradeloop/internal/learning/components"
	"tradeloop/internal/learning/lifecycle"
	"tradeloop/internal/learning/patterns"
	"tradeloop/internal/logger"
	"tradeloop/internal/predictor"
	"tradeloop/internal/types"
)

func (l Learners) all() []learning.Learner {
	return []learning.Learner{l.Adaptive, l.Components, l.Patterns, l.Lifecycle}
}

// Restore loads every learner's last snapshot. Call it before Run.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.snapshots == nil {
		return nil
	}
	l := c.learners

	var aw adaptive.State
	if at, ok, err := c.snapshots.Load(ctx, l.Adaptive.Name(), &aw); err != nil {
		return fmt.Errorf("restore %s: %w", l.Adaptive.Name(), err)
	} else if ok {
		l.Adaptive.Restore(aw)
		log.Infof("restored %s (saved %s)", l.Adaptive.Name(), at.Format(time.RFC3339))
	}

	var cw components.State
	if at, ok, err := c.snapshots.Load(ctx, l.Components.Name(), &cw); err != nil {
		return fmt.Errorf("restore %s: %w", l.Components.Name(), err)
	} else if ok {
		l.Components.Restore(cw)
		log.Infof("restored %s (saved %s)", l.Components.Name(), at.Format(time.RFC3339))
	}

	var pm patterns.State
	if at, ok, err := c.snapshots.Load(ctx, l.Patterns.Name(), &pm); err != nil {
		return fmt.Errorf("restore %s: %w", l.Patterns.Name(), err)
	} else if ok {
		l.Patterns.Restore(pm)
		log.Infof("restored %s: %d patterns (saved %s)", l.Patterns.Name(), l.Patterns.Len(), at.Format(time.RFC3339))
	}

	var lc lifecycle.State
	if at, ok, err := c.snapshots.Load(ctx, l.Lifecycle.Name(), &lc); err != nil {
		return fmt.Errorf("restore %s: %w", l.Lifecycle.Name(), err)
	} else if ok {
		l.Lifecycle.Restore(lc)
		log.Infof("restored %s: active v%03d (saved %s)", l.Lifecycle.Name(), l.Lifecycle.ActiveVersion(), at.Format(time.RFC3339))
	}
	c.publish()
	return nil
}

func (c *Coordinator) stateOf(l learning.Learner) any {
	switch v := l.(type) {
	case *adaptive.Weights:
		return v.State()
	case *components.Learner:
		return v.State()
	case *patterns.Memory:
		return v.State()
	case *lifecycle.Manager:
		return v.State()
	}
	return nil
}

// save writes the learners' snapshots. A failed write is dead-lettered; the
// in-memory learner stays authoritative and the next mutation retries.
func (c *Coordinator) save(ls ...learning.Learner) {
	if c.snapshots == nil {
		return
	}
	for _, l := range ls {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.snapshots.Save(ctx, l.Name(), c.stateOf(l))
		cancel()
		if err != nil {
			logger.DeadLetter("coordinator", string(types.KindPersistence), l.Name(), err)
		}
	}
}

func (c *Coordinator) saveLearners() { c.save(c.learners.all()...) }

// onTradeClosed fans a closed trade out to all four learners.
func (c *Coordinator) onTradeClosed(t types.Trade) {
	if t.Open() {
		return
	}
	for _, l := range c.learners.all() {
		l.Record(t)
	}
	c.metrics.tradeClosed()
	c.saveLearners()
	c.publish()
	log.Infof("learners recorded %s %s pnl %+.2f", t.Symbol, t.Side, t.PnL)
}

func (c *Coordinator) onTrained(res predictor.TrainResult) {
	lc := c.learners.Lifecycle
	a, err := lc.Install(res, c.now())
	c.scorer.TrainingSettled()
	if err != nil {
		log.Warnf("training (%s) failed: %v", res.Reason, err)
		logger.DeadLetter("coordinator", "training", res.Reason, err)
		c.save(lc)
		return
	}
	c.adapted(a)
	c.save(lc)
	c.publish()
}

func (c *Coordinator) adapted(a learning.Adaptation) {
	log.Infof("%s", a.String())
	c.metrics.adaptation(a.Learner)
	c.notify.Notify(notifier.WeightAdaptation(a))
}

func (c *Coordinator) onTick(ctx context.Context, force bool) {
	now := c.now()
	if c.batchReady(force) {
		c.decide(ctx)
	}
	changed := c.expireApprovals(now)
	if force || now.Sub(c.lastLearning) >= c.cfg.LearningInterval {
		c.lastLearning = now
		c.learningCheck(now)
		changed = true
	}
	c.dailySummary(now)
	if changed {
		c.publish()
	}
}

// learningCheck runs each learner's adaptation and the retrain trigger. It is
// paced by LearningInterval, not by message volume.
func (c *Coordinator) learningCheck(now time.Time) {
	for _, l := range c.learners.all() {
		if a, ok := l.Adapt(now); ok {
			c.adapted(a)
			c.save(l)
		}
	}
	lc := c.learners.Lifecycle
	reason, ok := lc.ShouldRetrain(now)
	if !ok || c.train == nil {
		return
	}
	select {
	case c.train <- predictor.TrainRequest{Reason: reason}:
		lc.MarkPending()
		log.Infof("requested retraining (%s)", reason)
	default:
		log.Debugf("trainer busy, retrain (%s) deferred", reason)
	}
}

// dailySummary sends one summary per trading day, for the day that just ended.
func (c *Coordinator) dailySummary(now time.Time) {
	if c.executor == nil {
		return
	}
	day := now.In(c.loc).Format("2006-01-02")
	if c.summaryDay == "" {
		c.summaryDay = day
		return
	}
	if c.summaryDay == day {
		return
	}
	prev, err := time.ParseInLocation("2006-01-02", c.summaryDay, c.loc)
	c.summaryDay = day
	if err != nil {
		return
	}
	end := prev.Add(24*time.Hour - time.Second)
	s := c.executor.DailySummary(end)
	logger.InfoBlock(notifier.DailySummary(s).Text())
	c.notify.Notify(notifier.DailySummary(s))
}
