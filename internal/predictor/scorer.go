package predictor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/types"
)

var log = logger.Named("Scorer")

// Slot holds the active model. The lifecycle manager publishes into it and
// the scorer reads it without locking.
type Slot struct {
	p atomic.Pointer[Pair]
}

func (s *Slot) Publish(p *Pair) { s.p.Store(p) }

// Current returns the active model, or nil before the first training.
func (s *Slot) Current() Model {
	p := s.p.Load()
	if p == nil {
		return nil
	}
	return p
}

// ModelSource is the scorer's view of the active model.
type ModelSource interface {
	Current() Model
}

// TrainRequest asks the trainer for a new model.
type TrainRequest struct {
	Reason  string
	Symbols []market.Request
}

// Config for the scorer's data window.
type Config struct {
	Period      string `yaml:"period"`
	Granularity string `yaml:"granularity"`
}

// Scorer attaches a prediction to validated candidates. It never waits for
// training: without a model it answers neutral and queues a train request.
type Scorer struct {
	cfg    Config
	data   market.Fetcher
	models ModelSource
	train  chan<- TrainRequest
	now    func() time.Time

	requested atomic.Bool
}

func NewScorer(data market.Fetcher, models ModelSource, train chan<- TrainRequest, cfg Config) *Scorer {
	if cfg.Period == "" {
		cfg.Period = "1y"
	}
	if cfg.Granularity == "" {
		cfg.Granularity = "1d"
	}
	return &Scorer{cfg: cfg, data: data, models: models, train: train, now: time.Now}
}

// Score returns the enriched candidate. The only error is a cancelled context.
// A neutral prediction still carries the features when they could be built.
func (s *Scorer) Score(ctx context.Context, v types.ValidatedCandidate) (types.ScoredCandidate, error) {
	pred, err := s.predict(ctx, v)
	if err != nil {
		if ctx.Err() != nil {
			return types.ScoredCandidate{}, ctx.Err()
		}
		x := pred.Features
		pred = types.NeutralPrediction()
		pred.Features = x
	}
	return types.ScoredCandidate{
		ValidatedCandidate: v,
		Prediction:         pred,
		FinalConfidence:    (v.BlendedConfidence + pred.Confidence) / 2,
		ScoredAt:           s.now(),
	}, nil
}

func (s *Scorer) predict(ctx context.Context, v types.ValidatedCandidate) (types.Prediction, error) {
	req := market.Request{Symbol: v.Symbol, AssetClass: v.AssetClass, Period: s.cfg.Period, Granularity: s.cfg.Granularity}
	model := s.models.Current()
	if model == nil {
		s.requestTraining("untrained", req)
	}
	series, err := s.data.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			logger.DeadLetter("scorer", string(types.KindDataUnavailable), v.Symbol, err)
		}
		return types.Prediction{}, err
	}
	x, err := Extract(series)
	if err != nil {
		log.Debugf("%s: %v", v.Symbol, err)
		return types.Prediction{}, err
	}
	if model == nil {
		return types.Prediction{Features: x}, errors.New("model not trained")
	}
	pred, err := model.Predict(x)
	if err != nil {
		logger.DeadLetter("scorer", "prediction", v.Symbol, err)
		s.requestTraining("predict failed", req)
		return types.Prediction{Features: x}, err
	}
	pred.Features = x
	return pred, nil
}

// requestTraining queues at most one outstanding request; a full queue is skipped.
func (s *Scorer) requestTraining(reason string, req market.Request) {
	if s.train == nil || !s.requested.CompareAndSwap(false, true) {
		return
	}
	select {
	case s.train <- TrainRequest{Reason: reason, Symbols: []market.Request{req}}:
		log.Infof("requested model training (%s, seed=%s)", reason, req.Symbol)
	default:
		s.requested.Store(false)
	}
}

// TrainingSettled re-arms training requests once a round finished.
func (s *Scorer) TrainingSettled() {
	s.requested.Store(false)
}
