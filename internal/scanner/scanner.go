// Package scanner produces raw candidates. Each scanner runs on its own
// goroutine and hands candidates to the coordinator by message.
package scanner

import (
	"context"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/types"

	"golang.org/x/sync/errgroup"
)

var log = logger.Named("Scanner")

// Scanner looks at its universe once and returns what it found.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]types.RawCandidate, error)
}

// Sink accepts candidates. The coordinator implements it.
type Sink interface {
	Submit(c types.RawCandidate) error
}

// Job pairs a scanner with its schedule.
type Job struct {
	Scanner  Scanner
	Schedule Schedule
	// Timeout bounds one scan; zero means half the schedule interval.
	Timeout time.Duration
}

// Runner runs one goroutine per job.
type Runner struct {
	sink Sink
	jobs []Job
}

func NewRunner(sink Sink, jobs ...Job) *Runner {
	return &Runner{sink: sink, jobs: jobs}
}

// Run blocks until ctx is done. A failing scan is logged and retried at the
// next wake-up; it never stops the other scanners.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.jobs) == 0 {
		log.Warnf("no scanners configured")
		<-ctx.Done()
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		job := job
		g.Go(func() error {
			name := job.Scanner.Name()
			log.Infof("%s scheduled every %s (offset %s)", name, job.Schedule.Interval, job.Schedule.Offset)
			job.Schedule.Run(gctx, name, func(ctx context.Context) { r.ScanOnce(ctx, job) })
			return nil
		})
	}
	return g.Wait()
}

// ScanOnce runs one scan and submits its candidates. It returns how many the
// sink accepted.
func (r *Runner) ScanOnce(ctx context.Context, job Job) int {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Schedule.Interval / 2
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	name := job.Scanner.Name()
	start := time.Now()
	found, err := job.Scanner.Scan(ctx)
	if err != nil {
		log.Warnf("%s scan failed: %v", name, err)
		return 0
	}
	accepted := 0
	for _, c := range found {
		if err := r.sink.Submit(c); err != nil {
			log.Warnf("%s: %d candidates not submitted: %v", name, len(found)-accepted, err)
			break
		}
		accepted++
	}
	log.Debugf("%s: %d candidates in %s", name, accepted, time.Since(start).Truncate(time.Millisecond))
	return accepted
}

// Universe is the list of instruments a detector looks at.
type Universe struct {
	Symbols     []Instrument `yaml:"symbols"`
	Period      string       `yaml:"period"`
	Granularity string       `yaml:"granularity"`
}

type Instrument struct {
	Symbol     string           `yaml:"symbol"`
	AssetClass types.AssetClass `yaml:"asset_class"`
}

func (u Universe) requests() []market.Request {
	period, gran := u.Period, u.Granularity
	if period == "" {
		period = "1y"
	}
	if gran == "" {
		gran = "1d"
	}
	out := make([]market.Request, 0, len(u.Symbols))
	for _, in := range u.Symbols {
		out = append(out, market.Request{Symbol: in.Symbol, AssetClass: in.AssetClass, Period: period, Granularity: gran})
	}
	return out
}

// Requests exposes the universe as cache requests, for warming and training.
func (u Universe) Requests() []market.Request { return u.requests() }

// scanEach fetches every instrument and collects what detect returns. One
// instrument failing does not fail the scan.
func scanEach(ctx context.Context, data market.Fetcher, u Universe, now func() time.Time,
	detect func(market.Request, market.Series) (types.CandidateSpec, bool)) ([]types.RawCandidate, error) {
	var out []types.RawCandidate
	var failures int
	reqs := u.requests()
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		series, err := data.Fetch(ctx, req)
		if err != nil {
			failures++
			log.Debugf("skip %s: %v", req.Symbol, err)
			continue
		}
		series.Candles = closedBars(series.Candles, req.Granularity, now())
		spec, ok := detect(req, series)
		if !ok {
			continue
		}
		raw, err := types.NewRawCandidate(spec, now())
		if err != nil {
			log.Debugf("%s: %v", req.Symbol, err)
			continue
		}
		out = append(out, raw)
	}
	if failures > 0 && failures == len(reqs) {
		return nil, market.ErrNoData
	}
	return out, nil
}
