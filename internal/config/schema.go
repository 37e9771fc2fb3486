package config

import (
	"strings"
)

// SecurityClass labels how freely a config field may be edited via the
// dashboard.
type SecurityClass string

const (
	// ClassSafe fields are freely editable.
	ClassSafe SecurityClass = "safe"
	// ClassRisky fields are editable but flagged; changing them may break
	// workflows mid-run.
	ClassRisky SecurityClass = "risky"
	// ClassDangerous fields are never exposed via schema or export.
	ClassDangerous SecurityClass = "dangerous"
)

// RedactedValue replaces dangerous values in every exported config.
const RedactedValue = "***REDACTED***"

// FieldSchema describes a single configurable field.
type FieldSchema struct {
	Path        string        `json:"path"`
	Type        string        `json:"type"`
	Class       SecurityClass `json:"class"`
	Description string        `json:"description"`
}

// fieldSchemas is the static schema table. Dot paths match the YAML layout.
var fieldSchemas = []FieldSchema{
	{Path: "version", Type: "string", Class: ClassSafe, Description: "Config schema version"},
	{Path: "project.name", Type: "string", Class: ClassSafe, Description: "Project display name"},

	{Path: "providers.master.provider", Type: "string", Class: ClassRisky, Description: "Master provider kind"},
	{Path: "providers.master.model", Type: "string", Class: ClassRisky, Description: "Master provider model"},
	{Path: "providers.patcher.provider", Type: "string", Class: ClassRisky, Description: "Patcher provider kind"},
	{Path: "providers.patcher.model", Type: "string", Class: ClassRisky, Description: "Patcher provider model"},
	{Path: "providers.evaluators", Type: "list", Class: ClassRisky, Description: "Evaluator fan-out list"},
	{Path: "providers.min_reviews", Type: "int", Class: ClassRisky, Description: "Minimum successful evaluators"},
	{Path: "providers.timeout_sec", Type: "int", Class: ClassRisky, Description: "Per-provider timeout (seconds)"},
	{Path: "providers.claude_path", Type: "string", Class: ClassDangerous, Description: "Claude CLI binary path"},
	{Path: "providers.codex_path", Type: "string", Class: ClassDangerous, Description: "Codex CLI binary path"},
	{Path: "providers.gemini_path", Type: "string", Class: ClassDangerous, Description: "Gemini CLI binary path"},

	{Path: "compiler.token_hard_limit", Type: "int", Class: ClassSafe, Description: "Hard prompt token budget"},
	{Path: "compiler.token_soft_limit", Type: "int", Class: ClassSafe, Description: "Soft prompt token budget"},
	{Path: "compiler.variables", Type: "map", Class: ClassSafe, Description: "External workflow variables"},
	{Path: "compiler.workflows_dir", Type: "string", Class: ClassRisky, Description: "Workflow definitions directory"},

	{Path: "patch.enabled", Type: "bool", Class: ClassRisky, Description: "Enable workflow patches"},
	{Path: "patch.max_retries", Type: "int", Class: ClassRisky, Description: "Patcher LLM retry bound"},
	{Path: "patch.git_commands", Type: "list", Class: ClassDangerous, Description: "Git commands run at compile time"},
	{Path: "patch.git_marker_tag", Type: "string", Class: ClassRisky, Description: "Marker tag for git output"},

	{Path: "testarch.enabled", Type: "bool", Class: ClassRisky, Description: "Enable ATDD and TEST_REVIEW phases"},
	{Path: "testarch.test_design", Type: "string", Class: ClassSafe, Description: "Test design document path"},
	{Path: "testarch.framework", Type: "string", Class: ClassSafe, Description: "Test framework identifier"},
	{Path: "testarch.ci", Type: "string", Class: ClassSafe, Description: "CI pipeline identifier"},

	{Path: "qa.enabled", Type: "bool", Class: ClassRisky, Description: "Enable QA phases"},
	{Path: "qa.category", Type: "string", Class: ClassSafe, Description: `QA category: "A" or "all"`},
	{Path: "qa.batch_threshold", Type: "int", Class: ClassSafe, Description: "Test count that activates batching"},
	{Path: "qa.batch_size", Type: "int", Class: ClassSafe, Description: "Tests per batch"},
	{Path: "qa.test_timeout_sec", Type: "int", Class: ClassSafe, Description: "Per-test timeout (seconds)"},
	{Path: "qa.max_remediation_iterations", Type: "int", Class: ClassRisky, Description: "Remediation loop bound"},

	{Path: "sprint.divergence_threshold", Type: "float", Class: ClassSafe, Description: "Interactive repair threshold"},

	{Path: "dashboard.host", Type: "string", Class: ClassSafe, Description: "Dashboard bind host"},
	{Path: "dashboard.port", Type: "int", Class: ClassSafe, Description: "Dashboard bind port"},
	{Path: "dashboard.auto_port", Type: "bool", Class: ClassSafe, Description: "Probe successive ports when busy"},
	{Path: "dashboard.import_max_bytes", Type: "int", Class: ClassSafe, Description: "Config import size limit"},

	{Path: "notifications.command", Type: "string", Class: ClassDangerous, Description: "Notification hook command"},

	{Path: "debug.interactive", Type: "bool", Class: ClassSafe, Description: "Single-step debug prompt"},

	{Path: "power_prompts.variables", Type: "map", Class: ClassSafe, Description: "Prompt variable overrides"},
}

// Schema returns every field schema except dangerous ones, which are never
// exposed.
func Schema() []FieldSchema {
	out := make([]FieldSchema, 0, len(fieldSchemas))
	for _, f := range fieldSchemas {
		if f.Class == ClassDangerous {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ClassOf returns the security class for a dot path. Unknown paths are
// treated as risky.
func ClassOf(path string) SecurityClass {
	for _, f := range fieldSchemas {
		if f.Path == path {
			return f.Class
		}
	}
	return ClassRisky
}

// DangerousPaths returns every dot path classified as dangerous.
func DangerousPaths() []string {
	var out []string
	for _, f := range fieldSchemas {
		if f.Class == ClassDangerous {
			out = append(out, f.Path)
		}
	}
	return out
}

// RiskyPaths returns every dot path classified as risky.
func RiskyPaths() []string {
	var out []string
	for _, f := range fieldSchemas {
		if f.Class == ClassRisky {
			out = append(out, f.Path)
		}
	}
	return out
}

// Redacted returns the config as a generic map with every dangerous field
// replaced by RedactedValue. The input config is not modified.
func Redacted(c *Config) map[string]any {
	m := toMap(c)
	for _, path := range DangerousPaths() {
		redactPath(m, strings.Split(path, "."))
	}
	return m
}

// redactPath replaces the value at the dot path when present and non-empty.
func redactPath(m map[string]any, parts []string) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		if v, ok := m[parts[0]]; ok && !isEmptyValue(v) {
			m[parts[0]] = RedactedValue
		}
		return
	}
	child, ok := asStringMap(m[parts[0]])
	if !ok {
		return
	}
	m[parts[0]] = child
	redactPath(child, parts[1:])
}

// isEmptyValue reports whether a YAML value is empty enough to skip redaction.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// Lookup returns the value at a dot path in the config's map form.
func Lookup(c *Config, path string) (any, bool) {
	m := toMap(c)
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
