package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// Version is the tool version recorded in effective-config snapshots.
// Overridden at build time via -ldflags.
var Version = "dev"

// snapshotTimestampLayout includes microseconds so concurrent runs never
// collide on the snapshot filename.
const snapshotTimestampLayout = "2006-01-02T15-04-05.000000"

// EffectiveSnapshot is the document written to _bmad-output on run start.
type EffectiveSnapshot struct {
	ToolVersion string         `yaml:"tool_version"`
	SnapshotAt  time.Time      `yaml:"snapshot_at"`
	ProjectName string         `yaml:"project_name,omitempty"`
	Config      map[string]any `yaml:"config"`
}

// WriteEffectiveSnapshot writes the redacted merged config to
// _bmad-output/effective-config-{timestamp}.yaml. Failure logs a warning and
// returns the empty string; a snapshot must never abort a run.
func WriteEffectiveSnapshot(project *paths.Project, cfg *Config) string {
	now := time.Now()
	name := fmt.Sprintf("effective-config-%s.yaml", now.Format(snapshotTimestampLayout))
	path := filepath.Join(project.OutputDir(), name)

	snap := EffectiveSnapshot{
		ToolVersion: Version,
		SnapshotAt:  now,
		ProjectName: cfg.Project.Name,
		Config:      Redacted(cfg),
	}
	if err := util.AtomicWriteYAML(path, snap, 0644); err != nil {
		slog.Warn("failed to write effective-config snapshot", "path", path, "error", err)
		return ""
	}
	return path
}
