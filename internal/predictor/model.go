package predictor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"tradeloop/internal/types"
)

// Model answers directional questions for one feature vector. The scorer
// only depends on this interface, so any classifier can sit behind it.
type Model interface {
	Predict(x []float64) (types.Prediction, error)
	Version() int
}

// Logistic is an L2-regularized logistic regression on standardized inputs.
type Logistic struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Means   []float64 `json:"means"`
	Stds    []float64 `json:"stds"`
	L2      float64   `json:"l2"`
}

// TrainOptions controls batch gradient descent.
type TrainOptions struct {
	L2           float64
	LearningRate float64
	Epochs       int
}

var errEmpty = errors.New("predictor: empty training set")

// FitLogistic trains a classifier on rows X with labels y in {0,1}.
func FitLogistic(X [][]float64, y []int, opts TrainOptions) (*Logistic, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, errEmpty
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.1
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 300
	}
	d := len(X[0])
	m := &Logistic{Weights: make([]float64, d), Means: make([]float64, d), Stds: make([]float64, d), L2: opts.L2}
	for _, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("predictor: ragged row width %d != %d", len(row), d)
		}
		for j, v := range row {
			m.Means[j] += v
		}
	}
	n := float64(len(X))
	for j := range m.Means {
		m.Means[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			m.Stds[j] += (v - m.Means[j]) * (v - m.Means[j])
		}
	}
	for j := range m.Stds {
		m.Stds[j] = math.Sqrt(m.Stds[j] / n)
		if m.Stds[j] < 1e-12 {
			m.Stds[j] = 1
		}
	}
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = m.standardize(row)
	}
	grad := make([]float64, d)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gb := 0.0
		for i, z := range Z {
			err := m.raw(z) - float64(y[i])
			for j, v := range z {
				grad[j] += err * v
			}
			gb += err
		}
		for j := range m.Weights {
			m.Weights[j] -= opts.LearningRate * (grad[j]/n + opts.L2*m.Weights[j])
		}
		m.Bias -= opts.LearningRate * gb / n
	}
	return m, nil
}

func (m *Logistic) standardize(x []float64) []float64 {
	z := make([]float64, len(x))
	for j, v := range x {
		z[j] = (v - m.Means[j]) / m.Stds[j]
	}
	return z
}

func (m *Logistic) raw(z []float64) float64 {
	s := m.Bias
	for j, w := range m.Weights {
		s += w * z[j]
	}
	return 1 / (1 + math.Exp(-s))
}

// Prob returns P(label=1 | x).
func (m *Logistic) Prob(x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("predictor: feature width %d != model width %d", len(x), len(m.Weights))
	}
	return m.raw(m.standardize(x)), nil
}

// Pair is the production model: one classifier for the direction label and
// a more heavily regularized one for the probability estimate.
type Pair struct {
	ModelVersion int       `json:"version"`
	Direction    *Logistic `json:"direction"`
	Probability  *Logistic `json:"probability"`
	TrainedAt    time.Time `json:"trained_at"`
	Accuracy     float64   `json:"accuracy"`
	Samples      int       `json:"samples"`
}

func (p *Pair) Version() int { return p.ModelVersion }

func (p *Pair) Predict(x []float64) (types.Prediction, error) {
	if p == nil || p.Direction == nil || p.Probability == nil {
		return types.Prediction{}, errors.New("predictor: model not trained")
	}
	pd, err := p.Direction.Prob(x)
	if err != nil {
		return types.Prediction{}, err
	}
	pu, err := p.Probability.Prob(x)
	if err != nil {
		return types.Prediction{}, err
	}
	dir, conf := types.DirectionUp, pd
	if pd < 0.5 {
		dir, conf = types.DirectionDown, 1-pd
	}
	return types.Prediction{
		Direction:     dir,
		Confidence:    conf,
		UpProbability: pu,
		ModelVersion:  p.ModelVersion,
	}, nil
}

// TrainPair fits both classifiers on a chronological split and reports the
// direction classifier's holdout accuracy.
func TrainPair(X [][]float64, y []int, holdout float64) (*Pair, error) {
	if len(X) < 20 {
		return nil, fmt.Errorf("predictor: need at least 20 samples, have %d", len(X))
	}
	if holdout <= 0 || holdout >= 0.5 {
		holdout = 0.2
	}
	cut := int(float64(len(X)) * (1 - holdout))
	trainX, trainY := X[:cut], y[:cut]
	testX, testY := X[cut:], y[cut:]

	dir, err := FitLogistic(trainX, trainY, TrainOptions{L2: 0.01, LearningRate: 0.1, Epochs: 300})
	if err != nil {
		return nil, err
	}
	prob, err := FitLogistic(trainX, trainY, TrainOptions{L2: 0.1, LearningRate: 0.05, Epochs: 400})
	if err != nil {
		return nil, err
	}
	correct := 0
	for i, row := range testX {
		p, _ := dir.Prob(row)
		if (p >= 0.5) == (testY[i] == 1) {
			correct++
		}
	}
	acc := 0.0
	if len(testX) > 0 {
		acc = float64(correct) / float64(len(testX))
	}
	return &Pair{
		Direction:   dir,
		Probability: prob,
		TrainedAt:   time.Now().UTC(),
		Accuracy:    acc,
		Samples:     len(X),
	}, nil
}
