// Package bench persists evaluator benchmarking records so runs can be
// compared across models. Storage failures are never fatal: every writer
// logs a warning and returns, the loop keeps going.
package bench

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// Record captures one evaluator invocation inside a fan-out phase.
type Record struct {
	Phase      string    `yaml:"phase"`
	Story      string    `yaml:"story,omitempty"`
	Evaluator  string    `yaml:"evaluator"` // provider or provider-model
	Success    bool      `yaml:"success"`
	DurationMS int64     `yaml:"duration_ms"`
	ExitStatus string    `yaml:"exit_status,omitempty"`
	Critical   int       `yaml:"critical"`
	High       int       `yaml:"high"`
	Medium     int       `yaml:"medium"`
	Low        int       `yaml:"low"`
	RecordedAt time.Time `yaml:"recorded_at"`
}

// Aggregate summarizes every record for one evaluator.
type Aggregate struct {
	Evaluator     string  `yaml:"evaluator"`
	Invocations   int     `yaml:"invocations"`
	Successes     int     `yaml:"successes"`
	AvgDurationMS int64   `yaml:"avg_duration_ms"`
	AvgFindings   float64 `yaml:"avg_findings"`
}

// Report is the aggregate document written next to the raw records.
type Report struct {
	GeneratedAt time.Time   `yaml:"generated_at"`
	Evaluators  []Aggregate `yaml:"evaluators"`
}

// Store writes records under the project benchmarks directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the project's benchmarks directory.
func NewStore(project *paths.Project) *Store {
	return &Store{dir: project.BenchmarksDir()}
}

// Record appends one evaluator record. Failures are logged, never returned.
func (s *Store) Record(rec Record) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		slog.Warn("benchmark store unavailable", "dir", s.dir, "error", err)
		return
	}
	path := filepath.Join(s.dir, "records.yaml")
	records, err := s.load(path)
	if err != nil {
		slog.Warn("benchmark records unreadable, starting fresh", "path", path, "error", err)
		records = nil
	}
	records = append(records, rec)
	if err := util.AtomicWriteYAML(path, records, 0o644); err != nil {
		slog.Warn("benchmark record not saved", "path", path, "error", err)
	}
}

// WriteReport recomputes per-evaluator aggregates from the stored records
// and writes report.yaml. Failures are logged, never returned.
func (s *Store) WriteReport() {
	records, err := s.load(filepath.Join(s.dir, "records.yaml"))
	if err != nil || len(records) == 0 {
		return
	}

	type acc struct {
		n, ok    int
		duration int64
		findings int
	}
	byEval := map[string]*acc{}
	for _, rec := range records {
		a := byEval[rec.Evaluator]
		if a == nil {
			a = &acc{}
			byEval[rec.Evaluator] = a
		}
		a.n++
		if rec.Success {
			a.ok++
		}
		a.duration += rec.DurationMS
		a.findings += rec.Critical + rec.High + rec.Medium + rec.Low
	}

	report := Report{GeneratedAt: time.Now().UTC()}
	for eval, a := range byEval {
		report.Evaluators = append(report.Evaluators, Aggregate{
			Evaluator:     eval,
			Invocations:   a.n,
			Successes:     a.ok,
			AvgDurationMS: a.duration / int64(a.n),
			AvgFindings:   float64(a.findings) / float64(a.n),
		})
	}
	sort.Slice(report.Evaluators, func(i, j int) bool {
		return report.Evaluators[i].Evaluator < report.Evaluators[j].Evaluator
	})

	path := filepath.Join(s.dir, "report.yaml")
	if err := util.AtomicWriteYAML(path, report, 0o644); err != nil {
		slog.Warn("benchmark report not saved", "path", path, "error", err)
	}
}

func (s *Store) load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return records, nil
}
