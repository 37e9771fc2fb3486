package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// Load merges the global and project configuration layers for the project
// rooted at projectRoot and applies BMAD_* environment overrides.
//
// Missing files are silently skipped; both missing is fatal with an
// actionable hint. The merged document is validated before return.
func Load(projectRoot string) (*Config, error) {
	globalPath, err := paths.GlobalConfigFile()
	if err != nil {
		globalPath = ""
	}
	projectPath := paths.New(projectRoot).ProjectConfig()

	merged := toMap(Default())

	loaded := 0
	for _, layer := range []struct {
		path string
	}{
		{globalPath},
		{projectPath},
	} {
		if layer.path == "" {
			continue
		}
		raw, err := readLayer(layer.path)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		merged = DeepMerge(merged, raw)
		loaded++
	}

	if loaded == 0 {
		return nil, bmaderrors.ErrConfigMissing(globalPath, projectPath)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, bmaderrors.ErrConfigInvalid(projectPath, err.Error())
	}

	ApplyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the merged config, falling back to defaults with a
// warning when no config file exists. Used by read-only surfaces like the
// dashboard that must come up regardless.
func LoadOrDefault(projectRoot string) *Config {
	cfg, err := Load(projectRoot)
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = Default()
		ApplyEnvVars(cfg)
	}
	return cfg
}

// readLayer reads one YAML config layer into a generic map.
// A missing file returns (nil, nil); a malformed file is an error.
func readLayer(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, bmaderrors.ErrConfigInvalid(path, err.Error())
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, bmaderrors.ErrConfigInvalid(path, fmt.Sprintf("parse yaml: %v", err))
	}
	if raw == nil {
		// An empty file is a present, empty layer, not a missing one.
		raw = map[string]any{}
	}
	return raw, nil
}

// DeepMerge merges overlay into base and returns the result. Nested mappings
// merge recursively; every other value, including lists, replaces. Neither
// argument is mutated.
func DeepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		bv, exists := out[k]
		if !exists {
			out[k] = v
			continue
		}
		bm, bOK := asStringMap(bv)
		om, oOK := asStringMap(v)
		if bOK && oOK {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}

// asStringMap normalizes the two map shapes yaml.v3 can produce.
func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// toMap round-trips a typed config through YAML into a generic map.
func toMap(c *Config) map[string]any {
	data, err := yaml.Marshal(c)
	if err != nil {
		return map[string]any{}
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return map[string]any{}
	}
	return raw
}

// fromMap converts a merged generic map into the typed config.
func fromMap(raw map[string]any) (*Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}
	return &cfg, nil
}
