package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// Config scopes addressable by the dashboard.
const (
	ScopeMerged  = "merged"
	ScopeGlobal  = "global"
	ScopeProject = "project"
)

// LayerPath returns the on-disk file backing a writable scope.
func LayerPath(projectRoot, scope string) (string, error) {
	switch scope {
	case ScopeGlobal:
		return paths.GlobalConfigFile()
	case ScopeProject:
		return paths.New(projectRoot).ProjectConfig(), nil
	default:
		return "", bmaderrors.ErrDashboard(fmt.Sprintf("scope %q is not writable", scope))
	}
}

// GetScoped reads one dot-path value. The merged scope reads the effective
// config; global and project read their raw layer files.
func GetScoped(projectRoot, scope, path string) (any, bool, error) {
	if ClassOf(path) == ClassDangerous {
		return nil, false, bmaderrors.ErrDashboard(fmt.Sprintf("field %s is not readable", path))
	}
	if scope == ScopeMerged {
		cfg, err := Load(projectRoot)
		if err != nil {
			return nil, false, err
		}
		v, ok := Lookup(cfg, path)
		return v, ok, nil
	}
	layerFile, err := LayerPath(projectRoot, scope)
	if err != nil {
		return nil, false, err
	}
	raw, err := readLayer(layerFile)
	if err != nil {
		return nil, false, err
	}
	v, ok := lookupMap(raw, path)
	return v, ok, nil
}

// SetScoped writes one dot-path value into a layer file. The merged result of
// all layers is validated before anything touches disk, so a bad value never
// lands in a config file.
func SetScoped(projectRoot, scope, path string, value any) error {
	if ClassOf(path) == ClassDangerous {
		return bmaderrors.ErrDashboard(fmt.Sprintf("field %s is not editable", path))
	}
	layerFile, err := LayerPath(projectRoot, scope)
	if err != nil {
		return err
	}
	raw, err := readLayer(layerFile)
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := setMapPath(raw, path, value); err != nil {
		return bmaderrors.ErrDashboard(err.Error())
	}
	if err := ValidateLayer(raw); err != nil {
		return err
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return bmaderrors.ErrConfigInvalid(layerFile, err.Error())
	}
	return util.AtomicWriteFile(layerFile, data, 0o644)
}

// ValidateLayer checks that a raw layer document still produces a valid
// effective config when merged over the defaults.
func ValidateLayer(raw map[string]any) error {
	merged := DeepMerge(toMap(Default()), raw)
	cfg, err := fromMap(merged)
	if err != nil {
		return bmaderrors.ErrConfigInvalid("", err.Error())
	}
	return cfg.Validate()
}

// ParseLayer decodes an uploaded YAML document into a raw layer map.
func ParseLayer(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, bmaderrors.ErrConfigInvalid("import", err.Error())
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Export renders one scope as YAML with dangerous fields redacted.
func Export(projectRoot, scope string) ([]byte, error) {
	var m map[string]any
	switch scope {
	case ScopeMerged:
		m = Redacted(LoadOrDefault(projectRoot))
	case ScopeGlobal, ScopeProject:
		layerFile, err := LayerPath(projectRoot, scope)
		if err != nil {
			return nil, err
		}
		raw, err := readLayer(layerFile)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, bmaderrors.ErrDashboard(fmt.Sprintf("no %s config file exists", scope))
		}
		for _, p := range DangerousPaths() {
			redactPath(raw, strings.Split(p, "."))
		}
		m = raw
	default:
		return nil, bmaderrors.ErrDashboard(fmt.Sprintf("unknown export scope %q", scope))
	}
	return yaml.Marshal(m)
}

// Change is one field-level difference between two layer documents.
type Change struct {
	Path string `json:"path"`
	Old  any    `json:"old,omitempty"`
	New  any    `json:"new,omitempty"`
}

// DiffLayers lists the leaf paths whose values differ, sorted by path.
func DiffLayers(old, new map[string]any) []Change {
	oldFlat := flatten("", old)
	newFlat := flatten("", new)

	seen := map[string]bool{}
	var changes []Change
	for path, nv := range newFlat {
		seen[path] = true
		ov, had := oldFlat[path]
		if !had || fmt.Sprintf("%v", ov) != fmt.Sprintf("%v", nv) {
			changes = append(changes, Change{Path: path, Old: ov, New: nv})
		}
	}
	for path, ov := range oldFlat {
		if !seen[path] {
			changes = append(changes, Change{Path: path, Old: ov})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := asStringMap(v); ok {
			for sk, sv := range flatten(path, sub) {
				out[sk] = sv
			}
			continue
		}
		out[path] = v
	}
	return out
}

func lookupMap(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	for i, part := range parts {
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		m, ok = asStringMap(v)
		if !ok {
			return nil, false
		}
	}
	return nil, false
}

func setMapPath(m map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("empty segment in path %q", path)
		}
		if i == len(parts)-1 {
			m[part] = value
			return nil
		}
		sub, ok := asStringMap(m[part])
		if !ok {
			if _, exists := m[part]; exists {
				return fmt.Errorf("%s is not a mapping", strings.Join(parts[:i+1], "."))
			}
			sub = map[string]any{}
		}
		m[part] = sub
		m = sub
	}
	return nil
}
