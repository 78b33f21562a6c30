// Package coordinator is the routing and decision core. One goroutine owns the
// learners, the pending approvals and the per-candidate stage; validation,
// scoring and ranking run on stage workers that report back by message.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/learning/adaptive"
	"tradeloop/internal/learning/components"
	"tradeloop/internal/learning/lifecycle"
	"tradeloop/internal/learning/patterns"
	"tradeloop/internal/logger"
	"tradeloop/internal/predictor"
	"tradeloop/internal/ranker"
	"tradeloop/internal/store"
	"tradeloop/internal/trader"
	"tradeloop/internal/types"

	"golang.org/x/sync/errgroup"
)

var log = logger.Named("Coordinator")

// Mode selects what happens to a ranked opportunity.
type Mode string

const (
	ModeScanOnly Mode = "scan-only"
	ModeManual   Mode = "manual"
	ModeAuto     Mode = "auto"
	ModePaper    Mode = "paper"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeScanOnly, ModeManual, ModeAuto, ModePaper:
		return m, nil
	case "":
		return ModePaper, nil
	}
	return "", fmt.Errorf("unknown mode %q (scan-only, manual, auto, paper)", s)
}

// Executes reports whether the mode sends orders without a human.
func (m Mode) Executes() bool { return m == ModeAuto || m == ModePaper }

var (
	ErrUnknownApproval = errors.New("coordinator: no pending approval with that id")
	ErrStopped         = errors.New("coordinator: stopped")
)

type Config struct {
	Mode             Mode          `yaml:"mode"`
	ExecuteThreshold float64       `yaml:"execute_threshold"`
	MaxPositions     int           `yaml:"max_positions"`
	MaxDailyLoss     float64       `yaml:"max_daily_loss"`
	TopN             int           `yaml:"top_n"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	LearningInterval time.Duration `yaml:"learning_interval"`
	ApprovalTTL      time.Duration `yaml:"approval_ttl"`
	MailboxLimit     int           `yaml:"mailbox_limit"`
	StageWorkers     int           `yaml:"stage_workers"`
	StageTimeout     time.Duration `yaml:"stage_timeout"`
	ExecuteTimeout   time.Duration `yaml:"execute_timeout"`
	Timezone         string        `yaml:"timezone"`
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModePaper,
		ExecuteThreshold: 0.60,
		MaxPositions:     5,
		MaxDailyLoss:     0.03,
		TopN:             20,
		TickInterval:     30 * time.Second,
		LearningInterval: time.Hour,
		ApprovalTTL:      4 * time.Hour,
		MailboxLimit:     1000,
		StageWorkers:     2,
		StageTimeout:     30 * time.Second,
		ExecuteTimeout:   10 * time.Second,
		Timezone:         "America/New_York",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.TopN <= 0 {
		c.TopN = d.TopN
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.LearningInterval <= 0 {
		c.LearningInterval = d.LearningInterval
	}
	if c.ApprovalTTL <= 0 {
		c.ApprovalTTL = d.ApprovalTTL
	}
	if c.StageWorkers <= 0 {
		c.StageWorkers = d.StageWorkers
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = d.ExecuteTimeout
	}
	return c
}

// Validator is the first gate.
type Validator interface {
	Validate(ctx context.Context, c types.RawCandidate) (types.ValidatedCandidate, bool, error)
}

// Scorer attaches predictions.
type Scorer interface {
	Score(ctx context.Context, v types.ValidatedCandidate) (types.ScoredCandidate, error)
	TrainingSettled()
}

// Ranker gates and ranks scored candidates.
type Ranker interface {
	Tradeable(sc types.ScoredCandidate) error
	Observe(c types.RawCandidate) bool
	Rank(ctx context.Context, sc types.ScoredCandidate, in ranker.Inputs) types.RankedOpportunity
}

// Executor is the coordinator's view of the trade executor.
type Executor interface {
	Open(ctx context.Context, op types.RankedOpportunity) error
	Holds(symbol string) bool
	Exposure() int
	Positions() []types.Position
	PnL(now time.Time) trader.PnLSummary
	DailySummary(now time.Time) notifier.Summary
}

// Learners are owned by the coordinator goroutine once Run starts.
type Learners struct {
	Adaptive   *adaptive.Weights
	Components *components.Learner
	Patterns   *patterns.Memory
	Lifecycle  *lifecycle.Manager
}

type Deps struct {
	Validator Validator
	Scorer    Scorer
	Ranker    Ranker
	Executor  Executor
	Learners  Learners
	Snapshots store.SnapshotStore
	// Train receives retraining requests from the lifecycle check.
	Train    chan<- predictor.TrainRequest
	Notifier notifier.Sink
	Metrics  *Metrics
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

type pendingApproval struct {
	op    Opportunity
	since time.Time
}

// Coordinator drives candidates through the pipeline.
type Coordinator struct {
	cfg       Config
	loc       *time.Location
	validator Validator
	scorer    Scorer
	ranker    Ranker
	executor  Executor
	learners  Learners
	snapshots store.SnapshotStore
	train     chan<- predictor.TrainRequest
	notify    notifier.Sink
	metrics   *Metrics
	now       func() time.Time

	mb      *mailbox
	running atomic.Bool
	done    chan struct{}

	validateCh chan types.RawCandidate
	scoreCh    chan types.ValidatedCandidate
	rankCh     chan rankJob

	// loop-owned
	stages       map[string]types.Stage
	ranked       []types.RankedOpportunity
	rankedSince  time.Time
	top          []Opportunity
	pending      map[string]*pendingApproval
	lastLearning time.Time
	summaryDay   string
	haltedDay    string

	view atomic.Pointer[View]
}

func New(cfg Config, deps Deps, opts ...Option) (*Coordinator, error) {
	if deps.Validator == nil || deps.Scorer == nil || deps.Ranker == nil {
		return nil, fmt.Errorf("coordinator: validator, scorer and ranker are required")
	}
	if cfg.Mode.Executes() || cfg.Mode == ModeManual {
		if deps.Executor == nil {
			return nil, fmt.Errorf("coordinator: mode %s needs an executor", cfg.Mode)
		}
	}
	l := deps.Learners
	if l.Adaptive == nil || l.Components == nil || l.Patterns == nil || l.Lifecycle == nil {
		return nil, fmt.Errorf("coordinator: all four learners are required")
	}
	cfg = cfg.withDefaults()
	loc := time.UTC
	if cfg.Timezone != "" {
		if tz, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = tz
		}
	}
	c := &Coordinator{
		cfg:        cfg,
		loc:        loc,
		validator:  deps.Validator,
		scorer:     deps.Scorer,
		ranker:     deps.Ranker,
		executor:   deps.Executor,
		learners:   l,
		snapshots:  deps.Snapshots,
		train:      deps.Train,
		notify:     deps.Notifier,
		metrics:    deps.Metrics,
		now:        time.Now,
		mb:         newMailbox(cfg.MailboxLimit),
		done:       make(chan struct{}),
		validateCh: make(chan types.RawCandidate, cfg.StageWorkers),
		scoreCh:    make(chan types.ValidatedCandidate, cfg.StageWorkers),
		rankCh:     make(chan rankJob, cfg.StageWorkers),
		stages:     make(map[string]types.Stage),
		pending:    make(map[string]*pendingApproval),
	}
	if c.notify == nil {
		c.notify = notifier.Nop{}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publish()
	return c, nil
}

// Submit hands a scanner candidate to the pipeline at normal priority.
func (c *Coordinator) Submit(raw types.RawCandidate) error {
	return c.post(message{payload: candidateMsg{raw: raw}}, PriorityNormal, true)
}

// TradeClosed feeds a closed trade to the learners. It never blocks, so the
// executor may call it from its own loop.
func (c *Coordinator) TradeClosed(ev types.TradeClosed) {
	_ = c.post(message{payload: closedMsg{trade: ev.Trade}}, PriorityHigh, false)
}

// TrainingDone hands a finished training round to the lifecycle manager.
func (c *Coordinator) TrainingDone(res predictor.TrainResult) {
	_ = c.post(message{payload: trainedMsg{res: res}}, PriorityHigh, false)
}

// Resolve approves or rejects a pending opportunity by ID.
func (c *Coordinator) Resolve(ctx context.Context, id string, approve bool) error {
	return c.call(ctx, approvalMsg{id: id, approve: approve}, PriorityHigh)
}

// Flush runs the decision step and the periodic checks now.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.call(ctx, tickMsg{force: true}, PriorityNormal)
}

func (c *Coordinator) post(msg message, p Priority, external bool) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	err := c.mb.post(msg, p, external)
	c.metrics.depth(c.mb.len())
	return err
}

func (c *Coordinator) call(ctx context.Context, payload any, p Priority) error {
	reply := make(chan error, 1)
	if err := c.post(message{payload: payload, reply: reply}, p, false); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Run starts the stage workers, the ticker and the decision loop and blocks
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator: already running")
	}
	defer close(c.done)
	g, gctx := errgroup.WithContext(ctx)
	c.startStages(gctx, g)
	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				_ = c.post(message{payload: tickMsg{}}, PriorityNormal, false)
			}
		}
	})
	g.Go(func() error {
		c.loop(gctx)
		return nil
	})
	err := g.Wait()
	c.saveLearners()
	log.Infof("stopped")
	return err
}

func (c *Coordinator) loop(ctx context.Context) {
	log.Infof("decision loop started (mode=%s)", c.cfg.Mode)
	c.lastLearning = c.now()
	for {
		msg, ok := c.mb.next(ctx)
		if !ok {
			return
		}
		c.handle(ctx, msg)
		c.metrics.depth(c.mb.len())
		if c.mb.len() == 0 && c.inFlight() == 0 && len(c.ranked) > 0 {
			c.decide(ctx)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, msg message) {
	var err error
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic handling %T: %v\n%s", msg.payload, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
		if msg.reply != nil {
			msg.reply <- err
			close(msg.reply)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			log.Warnf("slow message %T took %v", msg.payload, dur)
		}
	}()

	switch p := msg.payload.(type) {
	case candidateMsg:
		c.onCandidate(ctx, p.raw)
	case validatedMsg:
		c.onValidated(ctx, p)
	case scoredMsg:
		c.onScored(ctx, p)
	case rankedMsg:
		c.onRanked(p.op)
	case closedMsg:
		c.onTradeClosed(p.trade)
	case trainedMsg:
		c.onTrained(p.res)
	case approvalMsg:
		err = c.onApproval(ctx, p)
	case tickMsg:
		c.onTick(ctx, p.force)
	default:
		err = fmt.Errorf("coordinator: unknown message %T", msg.payload)
	}
}
