// Package lifecycle tracks how well the live direction model predicts,
// decides when to retrain it and keeps the last few versions for rollback.
package lifecycle

import (
	"fmt"
	"time"

	"tradeloop/internal/learning"
	"tradeloop/internal/logger"
	"tradeloop/internal/predictor"
	"tradeloop/internal/types"
)

var log = logger.Named("ModelLifecycle")

type Config struct {
	AccuracyThreshold float64       `yaml:"accuracy_threshold"`
	RetrainAfter      time.Duration `yaml:"retrain_after"`
	MinPredictions    int           `yaml:"min_predictions"`
	Window            int           `yaml:"window"`
	KeepPredictions   int           `yaml:"keep_predictions"`
	KeepVersions      int           `yaml:"keep_versions"`
	RollbackBelow     float64       `yaml:"rollback_below"`
}

func DefaultConfig() Config {
	return Config{
		AccuracyThreshold: 0.55,
		RetrainAfter:      7 * 24 * time.Hour,
		MinPredictions:    20,
		Window:            50,
		KeepPredictions:   500,
		KeepVersions:      3,
		RollbackBelow:     0.50,
	}
}

// Record is one prediction awaiting or holding its outcome.
type Record struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Predicted types.Direction `json:"predicted"`
	Actual    types.Direction `json:"actual,omitempty"`
	Version   int             `json:"version"`
	At        time.Time       `json:"at"`
}

func (r Record) Resolved() bool { return r.Actual != "" }

func (r Record) Correct() bool { return r.Resolved() && r.Actual == r.Predicted }

// VersionInfo describes one retained model.
type VersionInfo struct {
	Version   int       `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Accuracy  float64   `json:"accuracy"`
	Samples   int       `json:"samples"`
	Reason    string    `json:"reason"`
}

type State struct {
	Active      int               `json:"active"`
	NextVersion int               `json:"next_version"`
	Models      []*predictor.Pair `json:"models"`
	History     []VersionInfo     `json:"history"`
	Predictions []Record          `json:"predictions"`
	LastTrained time.Time         `json:"last_trained"`
	Retrains    int               `json:"retrains"`
}

// Manager owns the model versions. It publishes the active one into slot.
type Manager struct {
	cfg         Config
	slot        *predictor.Slot
	models      []*predictor.Pair
	history     []VersionInfo
	active      int
	nextVersion int
	predictions []Record
	lastTrained time.Time
	retrains    int
	pending     bool
}

func New(cfg Config, slot *predictor.Slot) *Manager {
	return &Manager{cfg: cfg, slot: slot, nextVersion: 1}
}

func (m *Manager) Name() string { return "model_lifecycle" }

// ActiveVersion is 0 before the first model is installed.
func (m *Manager) ActiveVersion() int { return m.active }

func (m *Manager) find(version int) *predictor.Pair {
	for _, p := range m.models {
		if p.ModelVersion == version {
			return p
		}
	}
	return nil
}

// RecordPrediction logs the prediction behind opportunity id once it is
// traded. Neutral predictions are not tracked.
func (m *Manager) RecordPrediction(id, symbol string, p types.Prediction, at time.Time) {
	if p.Neutral || p.Direction == types.DirectionUnknown {
		return
	}
	for _, r := range m.predictions {
		if r.ID == id {
			return
		}
	}
	m.append(Record{ID: id, Symbol: symbol, Predicted: p.Direction, Version: p.ModelVersion, At: at})
}

func (m *Manager) append(r Record) {
	m.predictions = append(m.predictions, r)
	if n := len(m.predictions) - m.cfg.KeepPredictions; n > 0 {
		m.predictions = append([]Record(nil), m.predictions[n:]...)
	}
}

// ResolveOutcome marks the open prediction recorded for opportunity id.
func (m *Manager) ResolveOutcome(id string, actual types.Direction) bool {
	for i := len(m.predictions) - 1; i >= 0; i-- {
		if m.predictions[i].ID == id && !m.predictions[i].Resolved() {
			m.predictions[i].Actual = actual
			return true
		}
	}
	return false
}

// Record resolves the prediction the trade was opened on with the realized
// price move. When no record was kept for the opportunity the entry's own
// prediction is scored instead.
func (m *Manager) Record(t types.Trade) {
	if t.Open() || t.ExitPrice == t.EntryPrice {
		return
	}
	actual := types.DirectionDown
	if t.ExitPrice > t.EntryPrice {
		actual = types.DirectionUp
	}
	id := t.Entry.OpportunityID
	if id != "" && m.ResolveOutcome(id, actual) {
		return
	}
	p := t.Entry.Prediction
	if p.Neutral || p.Direction == types.DirectionUnknown {
		return
	}
	m.append(Record{ID: id, Symbol: t.Symbol, Predicted: p.Direction, Actual: actual, Version: p.ModelVersion, At: t.EntryTime})
}

// RollingAccuracy is the hit rate over the last Window resolved predictions.
// It is unknown until MinPredictions are resolved.
func (m *Manager) RollingAccuracy() (float64, bool) {
	var resolved []Record
	for _, r := range m.predictions {
		if r.Resolved() {
			resolved = append(resolved, r)
		}
	}
	if len(resolved) < m.cfg.MinPredictions {
		return 0, false
	}
	if len(resolved) > m.cfg.Window {
		resolved = resolved[len(resolved)-m.cfg.Window:]
	}
	hits := 0
	for _, r := range resolved {
		if r.Correct() {
			hits++
		}
	}
	return float64(hits) / float64(len(resolved)), true
}

// ShouldRetrain reports the first retrain trigger that applies.
func (m *Manager) ShouldRetrain(now time.Time) (string, bool) {
	if m.pending {
		return "", false
	}
	if m.active == 0 {
		return "no_model", true
	}
	if acc, ok := m.RollingAccuracy(); ok && acc < m.cfg.AccuracyThreshold {
		return fmt.Sprintf("low_accuracy %.2f", acc), true
	}
	if now.Sub(m.lastTrained) >= m.cfg.RetrainAfter {
		return "scheduled", true
	}
	return "", false
}

// MarkPending stops ShouldRetrain from firing while a round is in flight.
func (m *Manager) MarkPending() { m.pending = true }

// Install takes a finished training round. A model whose holdout accuracy is
// below RollbackBelow is discarded and the previous version stays active.
func (m *Manager) Install(res predictor.TrainResult, now time.Time) (learning.Adaptation, error) {
	m.pending = false
	m.lastTrained = now
	if res.Err != nil {
		return learning.Adaptation{}, res.Err
	}
	if res.Model == nil {
		return learning.Adaptation{}, fmt.Errorf("lifecycle: empty training result")
	}
	from := m.active
	pair := res.Model
	pair.ModelVersion = m.nextVersion
	m.nextVersion++
	m.retrains++
	info := VersionInfo{Version: pair.ModelVersion, TrainedAt: pair.TrainedAt, Accuracy: pair.Accuracy, Samples: pair.Samples, Reason: res.Reason}
	m.history = append(m.history, info)
	if n := len(m.history) - 50; n > 0 {
		m.history = m.history[n:]
	}

	reason := res.Reason
	if pair.Accuracy < m.cfg.RollbackBelow && m.active != 0 {
		log.Warnf("v%03d holdout accuracy %.3f below %.2f, keeping v%03d", pair.ModelVersion, pair.Accuracy, m.cfg.RollbackBelow, m.active)
		return learning.Adaptation{
			Learner: m.Name(), Reason: "rollback: " + reason, At: now,
			Changes: []learning.Change{{Key: "rejected_version", From: float64(from), To: float64(pair.ModelVersion)}},
		}, nil
	}
	m.models = append(m.models, pair)
	if n := len(m.models) - m.cfg.KeepVersions; m.cfg.KeepVersions > 0 && n > 0 {
		m.models = append([]*predictor.Pair(nil), m.models[n:]...)
	}
	m.activate(pair)
	log.Infof("activated v%03d (%s, holdout accuracy %.3f, %d samples)", pair.ModelVersion, reason, pair.Accuracy, pair.Samples)
	return learning.Adaptation{
		Learner: m.Name(), Reason: reason, At: now,
		Changes: []learning.Change{{Key: "model_version", From: float64(from), To: float64(pair.ModelVersion)}},
	}, nil
}

// Rollback reactivates the newest retained version older than the active one.
func (m *Manager) Rollback() bool {
	var prev *predictor.Pair
	for _, p := range m.models {
		if p.ModelVersion < m.active && (prev == nil || p.ModelVersion > prev.ModelVersion) {
			prev = p
		}
	}
	if prev == nil {
		return false
	}
	log.Warnf("rolling back v%03d -> v%03d", m.active, prev.ModelVersion)
	m.activate(prev)
	return true
}

func (m *Manager) activate(p *predictor.Pair) {
	m.active = p.ModelVersion
	if m.slot != nil {
		m.slot.Publish(p)
	}
}

// Adapt rolls back when the live model is performing below chance.
func (m *Manager) Adapt(now time.Time) (learning.Adaptation, bool) {
	acc, ok := m.RollingAccuracy()
	if !ok || acc >= m.cfg.RollbackBelow {
		return learning.Adaptation{}, false
	}
	// judge only predictions made by the active version
	live := 0
	for _, r := range m.predictions {
		if r.Resolved() && r.Version == m.active {
			live++
		}
	}
	if live < m.cfg.MinPredictions {
		return learning.Adaptation{}, false
	}
	from := m.active
	if !m.Rollback() {
		return learning.Adaptation{}, false
	}
	return learning.Adaptation{
		Learner: m.Name(), Reason: fmt.Sprintf("rolling accuracy %.2f below chance", acc), At: now,
		Changes: []learning.Change{{Key: "model_version", From: float64(from), To: float64(m.active)}},
	}, true
}

// Versions lists the retained versions' metadata, oldest first.
func (m *Manager) Versions() []VersionInfo {
	out := make([]VersionInfo, 0, len(m.models))
	for _, p := range m.models {
		out = append(out, VersionInfo{Version: p.ModelVersion, TrainedAt: p.TrainedAt, Accuracy: p.Accuracy, Samples: p.Samples})
	}
	return out
}

func (m *Manager) State() State {
	return State{
		Active:      m.active,
		NextVersion: m.nextVersion,
		Models:      append([]*predictor.Pair(nil), m.models...),
		History:     append([]VersionInfo(nil), m.history...),
		Predictions: append([]Record(nil), m.predictions...),
		LastTrained: m.lastTrained,
		Retrains:    m.retrains,
	}
}

// Restore reloads a snapshot and republishes the active model.
func (m *Manager) Restore(s State) {
	m.models = append([]*predictor.Pair(nil), s.Models...)
	m.history = append([]VersionInfo(nil), s.History...)
	m.predictions = append([]Record(nil), s.Predictions...)
	m.lastTrained = s.LastTrained
	m.retrains = s.Retrains
	m.nextVersion = s.NextVersion
	if m.nextVersion < 1 {
		m.nextVersion = 1
	}
	m.active = 0
	if p := m.find(s.Active); p != nil {
		m.activate(p)
	}
	for _, p := range m.models {
		if p.ModelVersion >= m.nextVersion {
			m.nextVersion = p.ModelVersion + 1
		}
	}
}
