package config

import (
	"os"
	"strconv"
)

// Environment variables recognized by bmad-assist.
const (
	// EnvQAEnabled enables the QA phases in the phase graph when "1".
	EnvQAEnabled = "BMAD_QA_ENABLED"
	// EnvDashboardMode gates emission of DASHBOARD_EVENT stdout markers.
	EnvDashboardMode = "BMAD_DASHBOARD_MODE"
	// EnvOriginalCWD optionally carries the caller's working directory.
	EnvOriginalCWD = "BMAD_ORIGINAL_CWD"
)

// ApplyEnvVars applies BMAD_* environment overrides to cfg.
func ApplyEnvVars(cfg *Config) {
	if v, ok := envBool(EnvQAEnabled); ok {
		cfg.QA.Enabled = v
	}
	if v := os.Getenv("BMAD_QA_CATEGORY"); v != "" {
		cfg.QA.Category = v
	}
	if v := os.Getenv("BMAD_MASTER_PROVIDER"); v != "" {
		cfg.Providers.Master.Provider = v
	}
	if v := os.Getenv("BMAD_MASTER_MODEL"); v != "" {
		cfg.Providers.Master.Model = v
	}
	if v, ok := envInt("BMAD_PROVIDER_TIMEOUT_SEC"); ok {
		cfg.Providers.TimeoutSec = v
	}
	if v, ok := envInt("BMAD_MIN_REVIEWS"); ok {
		cfg.Providers.MinReviews = v
	}
	if v, ok := envBool("BMAD_DEBUG_INTERACTIVE"); ok {
		cfg.Debug.Interactive = v
	}
}

// DashboardMode reports whether DASHBOARD_EVENT markers should be emitted.
func DashboardMode() bool {
	v, _ := envBool(EnvDashboardMode)
	return v
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
