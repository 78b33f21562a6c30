package pipeline

import (
	"strings"
	"sync"
	"time"

	"tradeloop/internal/market"
	"tradeloop/internal/types"
)

// AnalysisContext carries one candidate through a pipeline run. Middlewares
// in a stage share it concurrently, so every write takes the mutex.
type AnalysisContext struct {
	Symbol    string
	Side      types.Side
	TraceID   string
	StartedAt time.Time

	series market.Series

	mu       sync.RWMutex
	scores   map[string]float64
	readings []types.Reading
	evidence []string
	warnings []string
	metadata map[string]any
}

func NewContext(symbol string, side types.Side, series market.Series) *AnalysisContext {
	return &AnalysisContext{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Side:      side,
		StartedAt: time.Now(),
		series:    series.Clone(),
		scores:    make(map[string]float64),
		metadata:  make(map[string]any),
	}
}

// Series returns the candle history. Callers must treat it as read-only.
func (ac *AnalysisContext) Series() market.Series {
	return ac.series
}

// SetScore records a named sub-score.
func (ac *AnalysisContext) SetScore(name string, v float64) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.scores[name] = v
}

// Score returns a sub-score and whether a middleware produced it.
func (ac *AnalysisContext) Score(name string) (float64, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	v, ok := ac.scores[name]
	return v, ok
}

// SetMetadata stores a value for later stages and the validator.
func (ac *AnalysisContext) SetMetadata(key string, value any) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.metadata[key] = value
}

// Metadata returns a copy.
func (ac *AnalysisContext) Metadata() map[string]any {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	out := make(map[string]any, len(ac.metadata))
	for k, v := range ac.metadata {
		out[k] = v
	}
	return out
}

// MetadataFloat reads a numeric metadata entry.
func (ac *AnalysisContext) MetadataFloat(key string) (float64, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	v, ok := ac.metadata[key].(float64)
	return v, ok
}

// AddReading records a sub-score with its inputs. A second reading with the
// same key replaces the first.
func (ac *AnalysisContext) AddReading(r types.Reading) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	for i := range ac.readings {
		if ac.readings[i].Key == r.Key {
			ac.readings[i] = r
			return
		}
	}
	ac.readings = append(ac.readings, r)
}

// Readings returns the recorded readings ordered by key.
func (ac *AnalysisContext) Readings() []types.Reading {
	ac.mu.RLock()
	out := make([]types.Reading, len(ac.readings))
	copy(out, ac.readings)
	ac.mu.RUnlock()
	types.SortReadings(out)
	return out
}

// AddEvidence appends a human-readable reason.
func (ac *AnalysisContext) AddEvidence(lines ...string) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			ac.evidence = append(ac.evidence, l)
		}
	}
}

func (ac *AnalysisContext) Evidence() []string {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	out := make([]string, len(ac.evidence))
	copy(out, ac.evidence)
	return out
}

func (ac *AnalysisContext) AddWarning(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.warnings = append(ac.warnings, msg)
}

func (ac *AnalysisContext) Warnings() []string {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	out := make([]string, len(ac.warnings))
	copy(out, ac.warnings)
	return out
}
