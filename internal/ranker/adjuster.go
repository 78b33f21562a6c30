package ranker

import (
	"context"

	"tradeloop/internal/types"
)

// Bounds of the contextual adjustment. They are provisional and applied to
// whatever the adjuster returns.
const (
	MinContextAdjust = 0.92
	MaxContextAdjust = 1.05
)

// ContextAdjuster is an external collaborator returning a scalar near 1.0
// for a candidate, e.g. a literature-similarity or sentiment service.
type ContextAdjuster interface {
	Adjust(ctx context.Context, c types.ScoredCandidate) (float64, error)
}

// NeutralAdjuster always answers 1.0.
type NeutralAdjuster struct{}

func (NeutralAdjuster) Adjust(context.Context, types.ScoredCandidate) (float64, error) {
	return 1, nil
}

// AdjusterFunc adapts a function to ContextAdjuster.
type AdjusterFunc func(ctx context.Context, c types.ScoredCandidate) (float64, error)

func (f AdjusterFunc) Adjust(ctx context.Context, c types.ScoredCandidate) (float64, error) {
	return f(ctx, c)
}

func clampAdjust(v float64) float64 {
	if v != v || v <= 0 {
		return 1
	}
	if v < MinContextAdjust {
		return MinContextAdjust
	}
	if v > MaxContextAdjust {
		return MaxContextAdjust
	}
	return v
}
