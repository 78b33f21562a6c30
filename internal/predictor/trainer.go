package predictor

import (
	"context"
	"fmt"
	"sync"

	"tradeloop/internal/logger"
	"tradeloop/internal/market"
)

// TrainResult is delivered to the lifecycle owner after each round.
type TrainResult struct {
	Reason string
	Model  *Pair
	Err    error
}

// Trainer fits new model pairs off the decision loop.
type Trainer struct {
	data      market.Fetcher
	requests  chan TrainRequest
	universe  []market.Request
	holdout   float64
	onTrained func(TrainResult)
	wg        sync.WaitGroup
}

// NewTrainer wires a trainer. universe is always included in the training set
// alongside the symbols named by a request.
func NewTrainer(data market.Fetcher, universe []market.Request, onTrained func(TrainResult)) *Trainer {
	return &Trainer{
		data:      data,
		requests:  make(chan TrainRequest, 4),
		universe:  universe,
		holdout:   0.2,
		onTrained: onTrained,
	}
}

// Requests is the channel the scorer and the lifecycle manager send on.
func (t *Trainer) Requests() chan<- TrainRequest { return t.requests }

// Run serves requests until ctx is done. One round runs at a time.
func (t *Trainer) Run(ctx context.Context) error {
	logger.Infof("Trainer started")
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Trainer stopping")
			return nil
		case req := <-t.requests:
			res := t.Train(ctx, req)
			if t.onTrained != nil {
				t.onTrained(res)
			}
		}
	}
}

// Train runs one round synchronously.
func (t *Trainer) Train(ctx context.Context, req TrainRequest) TrainResult {
	seen := make(map[string]bool)
	var X [][]float64
	var y []int
	for _, r := range append(append([]market.Request(nil), t.universe...), req.Symbols...) {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		s, err := t.data.Fetch(ctx, r)
		if err != nil {
			logger.Warnf("Trainer: skip %s: %v", r.Symbol, err)
			continue
		}
		rx, ry := Dataset(s)
		X = append(X, rx...)
		y = append(y, ry...)
	}
	if len(X) == 0 {
		return TrainResult{Reason: req.Reason, Err: fmt.Errorf("trainer: no usable history")}
	}
	pair, err := TrainPair(X, y, t.holdout)
	if err != nil {
		return TrainResult{Reason: req.Reason, Err: err}
	}
	logger.Infof("Trainer: fitted model on %d samples (%s), holdout accuracy %.3f", pair.Samples, req.Reason, pair.Accuracy)
	return TrainResult{Reason: req.Reason, Model: pair}
}
