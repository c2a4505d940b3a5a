package exitplan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"trailguard/internal/logger"
	"trailguard/internal/position"
	"trailguard/internal/volatility"
)

// Preset 是按波动率档位选择的分批退出模板。
type Preset struct {
	Category    string            `yaml:"category"`
	Description string            `yaml:"description"`
	Tranches    []position.Tranche `yaml:"tranches"`
}

// FileConfig 映射 presets 文件。
type FileConfig struct {
	Presets map[string]Preset `yaml:"presets"`
}

// Snapshot 当前生效的模板集。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[volatility.Category]Preset
}

// ChangeListener 在热重载成功后触发。
type ChangeListener func(Snapshot)

// Registry manages tranche presets: defaults built in, optionally overridden
// by a yaml file that is schema-validated and hot-reloaded on change.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// DefaultPresets 返回内置模板：
// Low 50/30@2×/20@3×，Medium 40/30@2.5×/30@4×，High 30/30@3×/40@5×。
func DefaultPresets() map[volatility.Category]Preset {
	return map[volatility.Category]Preset{
		volatility.CategoryLow: {
			Category: "low",
			Tranches: []position.Tranche{
				{ID: "stop", Percent: 50},
				{ID: "tp2x", Percent: 30, ATRMultiple: 2},
				{ID: "tp3x", Percent: 20, ATRMultiple: 3},
			},
		},
		volatility.CategoryMedium: {
			Category: "medium",
			Tranches: []position.Tranche{
				{ID: "stop", Percent: 40},
				{ID: "tp2.5x", Percent: 30, ATRMultiple: 2.5},
				{ID: "tp4x", Percent: 30, ATRMultiple: 4},
			},
		},
		volatility.CategoryHigh: {
			Category: "high",
			Tranches: []position.Tranche{
				{ID: "stop", Percent: 30},
				{ID: "tp3x", Percent: 30, ATRMultiple: 3},
				{ID: "tp5x", Percent: 40, ATRMultiple: 5},
			},
		},
	}
}

// NewRegistry 构建注册表。path 为空时只用内置模板，不做文件监听。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	r.snapshot = Snapshot{Version: 1, LoadedAt: time.Now(), Presets: DefaultPresets()}
	if r.path == "" {
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read preset config failed: %w", err)
	}
	r.v = v
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("preset reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// PresetFor 返回档位对应模板。
func (r *Registry) PresetFor(cat volatility.Category) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Presets[cat]
	return p, ok
}

// Snapshot 返回模板集副本。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// OnChange 注册热重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := readPresetFile(r.path)
	if err != nil {
		return err
	}
	presets := DefaultPresets()
	for name, p := range cfg.Presets {
		cat, err := normalizeCategory(name)
		if err != nil {
			return err
		}
		if err := position.ValidateTranches(p.Tranches); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
		p.Category = strings.ToLower(name)
		presets[cat] = p
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	logger.Infof("exitplan: loaded %d presets from %s", len(presets), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("preset listener")
			cb(snap)
		}(fn)
	}
}

func normalizeCategory(name string) (volatility.Category, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return volatility.CategoryLow, nil
	case "medium", "mid":
		return volatility.CategoryMedium, nil
	case "high":
		return volatility.CategoryHigh, nil
	default:
		return "", fmt.Errorf("未知波动率档位: %q", name)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[volatility.Category]Preset, len(src.Presets)),
	}
	for cat, p := range src.Presets {
		cp := p
		cp.Tranches = append([]position.Tranche(nil), p.Tranches...)
		dst.Presets[cat] = cp
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func readPresetFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read preset config failed: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return FileConfig{}, err
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse preset config failed: %w", err)
	}
	return cfg, nil
}

const presetSchema = `{
  "type": "object",
  "required": ["presets"],
  "properties": {
    "presets": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["tranches"],
        "properties": {
          "description": {"type": "string"},
          "tranches": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["id", "percent"],
              "properties": {
                "id": {"type": "string"},
                "percent": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
                "atr_multiple": {"type": "number", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func validateSchema(raw []byte) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("presets.json", strings.NewReader(presetSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("presets.json")
	})
	if schemaErr != nil {
		return fmt.Errorf("compile preset schema failed: %w", schemaErr)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse preset config failed: %w", err)
	}
	if err := compiledSchema.Validate(normalizeYAML(doc)); err != nil {
		return fmt.Errorf("preset config schema invalid: %w", err)
	}
	return nil
}

// normalizeYAML converts yaml-decoded values into the json-shaped types the
// schema validator expects (string keys, float64 numbers).
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			out[key] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}
