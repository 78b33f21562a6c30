package scanner

import (
	"context"
	"time"

	"tradeloop/internal/market"
)

// Schedule wakes a scanner shortly after each bar of Interval closes.
type Schedule struct {
	Interval       time.Duration `yaml:"interval"`
	Offset         time.Duration `yaml:"offset"`
	RunImmediately bool          `yaml:"run_immediately"`

	nowFn func() time.Time
}

func (s Schedule) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// Next returns the next bar close after now and the time the scan should run.
func (s Schedule) Next(now time.Time) (nextClose, wakeAt time.Time) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	return nextClose, nextClose.Add(s.Offset)
}

// Run calls task at every aligned wake-up until ctx is done.
func (s Schedule) Run(ctx context.Context, name string, task func(context.Context)) {
	if s.Interval <= 0 {
		log.Warnf("%s: invalid interval %s, not scheduled", name, s.Interval)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.RunImmediately {
		task(ctx)
	}
	for {
		nextClose, wakeAt := s.Next(s.now())
		wait := wakeAt.Sub(s.now())
		log.Debugf("%s: next bar close %s, scanning in %s", name, nextClose.Format(time.RFC3339), wait.Truncate(time.Second))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		task(ctx)
	}
}

// klineGrace is how long after a bar's nominal close it is still treated as
// possibly in progress.
const klineGrace = 10 * time.Second

// closedBars drops the last candle if it has not closed yet at now.
func closedBars(candles []market.Candle, granularity string, now time.Time) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	interval, ok := market.ParseIntervalDuration(granularity)
	if !ok || interval <= 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.OpenTime <= 0 {
		return candles
	}
	cutoff := last.OpenTime + interval.Milliseconds() + klineGrace.Milliseconds()
	if now.UnixMilli() < cutoff {
		return candles[:len(candles)-1]
	}
	return candles
}
