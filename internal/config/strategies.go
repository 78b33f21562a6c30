package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const strategySchema = `{
  "type": "object",
  "required": ["strategies"],
  "additionalProperties": false,
  "properties": {
    "strategies": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "enabled": {"type": "boolean"},
          "bonus": {"type": "number", "minimum": 0, "maximum": 3},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

var compiledStrategySchema = mustCompileSchema(strategySchema)

// Strategy is one row of the strategy table.
type Strategy struct {
	Name        string  `yaml:"-" json:"name"`
	Enabled     *bool   `yaml:"enabled" json:"enabled"`
	Bonus       float64 `yaml:"bonus" json:"bonus"`
	Description string  `yaml:"description" json:"description,omitempty"`
}

func (s Strategy) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type strategyFile struct {
	Strategies map[string]Strategy `yaml:"strategies"`
}

// StrategySnapshot is the table as of one load.
type StrategySnapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies map[string]Strategy
}

// Names returns the strategy names in order.
func (s StrategySnapshot) Names() []string {
	out := make([]string, 0, len(s.Strategies))
	for name := range s.Strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StrategyTable holds per-strategy bonuses and enable flags. With Watch set
// it reloads when the file changes; a file that fails validation leaves the
// previous table in place.
type StrategyTable struct {
	path string

	mu       sync.RWMutex
	snapshot StrategySnapshot
	onChange []func(StrategySnapshot)
}

// LoadStrategies reads the table at path. An empty path gives an empty table,
// which makes every strategy unknown and therefore neutral.
func LoadStrategies(path string, watch bool) (*StrategyTable, error) {
	t := &StrategyTable{path: strings.TrimSpace(path)}
	if t.path == "" {
		t.snapshot = StrategySnapshot{LoadedAt: time.Now(), Strategies: map[string]Strategy{}}
		return t, nil
	}
	if err := t.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(t.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("watch strategy table failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := t.reload(); err != nil {
				log.Errorf("strategy table reload failed, keeping version %d: %v", t.Snapshot().Version, err)
				return
			}
			t.notify()
		})
		v.WatchConfig()
	}
	return t, nil
}

// Lookup reports the bonus and enable flag for name.
func (t *StrategyTable) Lookup(name string) (bonus float64, enabled, known bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.snapshot.Strategies[strings.TrimSpace(name)]
	if !ok {
		return 0, true, false
	}
	return s.Bonus, s.IsEnabled(), true
}

func (t *StrategyTable) Snapshot() StrategySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.snapshot
	out.Strategies = make(map[string]Strategy, len(t.snapshot.Strategies))
	for k, v := range t.snapshot.Strategies {
		out.Strategies[k] = v
	}
	return out
}

// OnChange registers fn to run after each successful reload.
func (t *StrategyTable) OnChange(fn func(StrategySnapshot)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.onChange = append(t.onChange, fn)
	t.mu.Unlock()
}

func (t *StrategyTable) reload() error {
	table, err := readStrategyFile(t.path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.snapshot = StrategySnapshot{
		Version:    t.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: table,
	}
	t.mu.Unlock()
	log.Infof("strategy table loaded %d strategies from %s", len(table), filepath.Base(t.path))
	return nil
}

func (t *StrategyTable) notify() {
	snap := t.Snapshot()
	t.mu.RLock()
	fns := make([]func(StrategySnapshot), len(t.onChange))
	copy(fns, t.onChange)
	t.mu.RUnlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("strategy listener panic: %v", r)
				}
			}()
			fn(snap)
		}()
	}
}

func readStrategyFile(path string) (map[string]Strategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy table failed: %w", err)
	}
	if err := validateStrategyDoc(raw); err != nil {
		return nil, err
	}
	var file strategyFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse strategy table failed: %w", err)
	}
	out := make(map[string]Strategy, len(file.Strategies))
	for name, s := range file.Strategies {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s.Name = name
		if s.Bonus == 0 {
			s.Bonus = 1
		}
		out[name] = s
	}
	return out, nil
}

// validateStrategyDoc checks the raw YAML against the table schema. The
// document goes through a generic decode first since the schema validator
// works on JSON-shaped values.
func validateStrategyDoc(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse strategy table failed: %w", err)
	}
	if err := compiledStrategySchema.Validate(jsonShape(doc)); err != nil {
		return fmt.Errorf("strategy table invalid: %w", err)
	}
	return nil
}

// jsonShape converts yaml.v3 output into the types encoding/json would
// produce.
func jsonShape(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = jsonShape(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = jsonShape(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return val
	}
}

func mustCompileSchema(schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("schema.json")
}
