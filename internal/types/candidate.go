package types

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawCandidate is a trade idea as emitted by a scanner. It is passed by
// value; later stages embed it and never modify it.
type RawCandidate struct {
	ID         string
	Symbol     string
	AssetClass AssetClass
	Side       Side
	Entry      float64
	Stop       float64
	Target     float64
	Confidence float64
	Strategy   string
	Evidence   []string
	// VolumeRatio is the scanner's current/average volume reading, used by
	// the ranker's liquidity term. Zero means unknown.
	VolumeRatio float64
	CreatedAt   time.Time
}

// CandidateSpec is the scanner-facing input to NewRawCandidate.
type CandidateSpec struct {
	Symbol      string
	AssetClass  AssetClass
	Side        Side
	Entry       float64
	Stop        float64
	Target      float64
	Confidence  float64
	Strategy    string
	Evidence    []string
	VolumeRatio float64
}

// NewRawCandidate validates the spec and stamps an ID and creation time.
func NewRawCandidate(spec CandidateSpec, now time.Time) (RawCandidate, error) {
	symbol := strings.ToUpper(strings.TrimSpace(spec.Symbol))
	if symbol == "" {
		return RawCandidate{}, fmt.Errorf("candidate: symbol is required")
	}
	if !spec.Side.Valid() {
		return RawCandidate{}, fmt.Errorf("candidate %s: side is required", symbol)
	}
	if spec.AssetClass == "" {
		return RawCandidate{}, fmt.Errorf("candidate %s: asset class is required", symbol)
	}
	if spec.Entry <= 0 || spec.Stop <= 0 || spec.Target <= 0 {
		return RawCandidate{}, fmt.Errorf("candidate %s: entry/stop/target must be positive", symbol)
	}
	switch spec.Side {
	case SideLong:
		if !(spec.Stop < spec.Entry && spec.Target > spec.Entry) {
			return RawCandidate{}, fmt.Errorf("candidate %s: long needs stop < entry < target", symbol)
		}
	case SideShort:
		if !(spec.Stop > spec.Entry && spec.Target < spec.Entry) {
			return RawCandidate{}, fmt.Errorf("candidate %s: short needs target < entry < stop", symbol)
		}
	}
	if math.IsNaN(spec.Confidence) || spec.Confidence < 0 || spec.Confidence > 1 {
		return RawCandidate{}, fmt.Errorf("candidate %s: confidence %.3f outside [0,1]", symbol, spec.Confidence)
	}
	evidence := make([]string, len(spec.Evidence))
	copy(evidence, spec.Evidence)
	return RawCandidate{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		AssetClass:  spec.AssetClass,
		Side:        spec.Side,
		Entry:       spec.Entry,
		Stop:        spec.Stop,
		Target:      spec.Target,
		Confidence:  spec.Confidence,
		Strategy:    strings.TrimSpace(spec.Strategy),
		Evidence:    evidence,
		VolumeRatio: spec.VolumeRatio,
		CreatedAt:   now.UTC(),
	}, nil
}

// RiskReward is |target-entry| / |entry-stop|.
func (c RawCandidate) RiskReward() float64 {
	risk := math.Abs(c.Entry - c.Stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(c.Target-c.Entry) / risk
}

// RiskPerUnit is the loss per share if the stop is hit.
func (c RawCandidate) RiskPerUnit() float64 {
	return math.Abs(c.Entry - c.Stop)
}

// ValidationScores are the validator's sub-scores, all in [0,1].
type ValidationScores struct {
	Trend          float64 `json:"trend"`
	Momentum       float64 `json:"momentum"`
	Volume         float64 `json:"volume"`
	VolatilityRisk float64 `json:"volatility_risk"`
	Composite      float64 `json:"composite"`
}

// Levels are pivot-derived support and resistance for the latest bar.
type Levels struct {
	Pivot             float64 `json:"pivot"`
	R1                float64 `json:"r1"`
	R2                float64 `json:"r2"`
	S1                float64 `json:"s1"`
	S2                float64 `json:"s2"`
	NearestSupport    float64 `json:"nearest_support"`
	NearestResistance float64 `json:"nearest_resistance"`
}

// ValidatedCandidate is a RawCandidate plus the validator's verdict.
type ValidatedCandidate struct {
	RawCandidate
	Validation ValidationScores
	Levels     Levels
	Notes      []string
	Readings   []Reading
	Warnings   []string
	// VolumeRatio as measured from the cached series; zero if unavailable.
	MeasuredVolumeRatio float64
	BlendedConfidence   float64
	ValidatedAt         time.Time
}

// Prediction is the scorer's output. Neutral marks the fallback value
// produced when no model or no feature vector is available.
type Prediction struct {
	Direction     Direction `json:"direction"`
	Confidence    float64   `json:"confidence"`
	UpProbability float64   `json:"up_probability"`
	ModelVersion  int       `json:"model_version"`
	Neutral       bool      `json:"neutral"`
	Features      []float64 `json:"-"`
}

// NeutralPrediction is returned when the model cannot answer.
func NeutralPrediction() Prediction {
	return Prediction{
		Direction:     DirectionUnknown,
		Confidence:    0.5,
		UpProbability: 0.5,
		Neutral:       true,
	}
}

// Matches reports whether the predicted direction agrees with side.
func (p Prediction) Matches(side Side) bool {
	return !p.Neutral && p.Direction == side.Direction()
}

// LiquidityRatio prefers the measured volume ratio over the scanner's.
func (v ValidatedCandidate) LiquidityRatio() float64 {
	if v.MeasuredVolumeRatio > 0 {
		return v.MeasuredVolumeRatio
	}
	return v.VolumeRatio
}

// ScoredCandidate is a ValidatedCandidate plus a prediction.
type ScoredCandidate struct {
	ValidatedCandidate
	Prediction      Prediction
	FinalConfidence float64
	ScoredAt        time.Time
}

// Components are the five ranking sub-scores, each in [0,1].
type Components struct {
	RiskReward      float64 `json:"risk_reward"`
	Confidence      float64 `json:"confidence"`
	Timing          float64 `json:"timing"`
	Liquidity       float64 `json:"liquidity"`
	Diversification float64 `json:"diversification"`
}

// ComponentNames fixes the iteration order for component maps.
var ComponentNames = []string{"risk_reward", "confidence", "timing", "liquidity", "diversification"}

// Map returns the components keyed by ComponentNames.
func (c Components) Map() map[string]float64 {
	return map[string]float64{
		"risk_reward":     c.RiskReward,
		"confidence":      c.Confidence,
		"timing":          c.Timing,
		"liquidity":       c.Liquidity,
		"diversification": c.Diversification,
	}
}

// Multiplier is one bounded factor of the ranker's multiplier chain.
type Multiplier struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ScoreBreakdown records every term that produced a ranked score.
type ScoreBreakdown struct {
	Components  Components         `json:"components"`
	Weights     map[string]float64 `json:"weights"`
	Base        float64            `json:"base"`
	Multipliers []Multiplier       `json:"multipliers"`
	Product     float64            `json:"product"`
	Final       float64            `json:"final"`
}

// RankedOpportunity is the ranker's output. It is read-only after ranking.
type RankedOpportunity struct {
	ScoredCandidate
	Score     float64
	Breakdown ScoreBreakdown
	RankedAt  time.Time
}
