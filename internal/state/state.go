// Package state persists the loop's authoritative execution state.
//
// The state file is the single source of truth for where the loop is: current
// epic, story and phase, plus completion history and timing marks. It has
// exactly one writer (the loop runner) and is written atomically so an abrupt
// kill can never leave a half-written file.
package state

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmad-assist/bmad-assist/internal/epic"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// timestampLayout is the naive-UTC on-disk form.
const timestampLayout = "2006-01-02T15:04:05.000000"

// Timestamp is a naive-UTC time persisted without a zone designator.
type Timestamp struct {
	time.Time
}

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// MarshalYAML serializes as naive UTC.
func (t Timestamp) MarshalYAML() (any, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC().Format(timestampLayout), nil
}

// UnmarshalYAML accepts naive UTC or RFC3339.
func (t *Timestamp) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("timestamp must be a string")
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range []string{timestampLayout, "2006-01-02T15:04:05", time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp{parsed.UTC()}
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// TestarchPreflight marks the run-once test architecture preparation.
type TestarchPreflight struct {
	CompletedAt Timestamp `yaml:"completed_at"`
	TestDesign  string    `yaml:"test_design,omitempty"`
	Framework   string    `yaml:"framework,omitempty"`
	CI          string    `yaml:"ci,omitempty"`
}

// State is the loop's persisted state.
type State struct {
	CurrentEpic  *epic.ID `yaml:"current_epic,omitempty"`
	CurrentStory string   `yaml:"current_story,omitempty"` // "E.S"
	CurrentPhase string   `yaml:"current_phase,omitempty"`

	CompletedEpics   []epic.ID `yaml:"completed_epics,omitempty"`
	CompletedStories []string  `yaml:"completed_stories,omitempty"` // insertion order

	StartedAt Timestamp `yaml:"started_at"`
	UpdatedAt Timestamp `yaml:"updated_at"`

	PhaseStartedAt *Timestamp `yaml:"phase_started_at,omitempty"`
	StoryStartedAt *Timestamp `yaml:"story_started_at,omitempty"`
	EpicStartedAt  *Timestamp `yaml:"epic_started_at,omitempty"`

	TestarchPreflight *TestarchPreflight `yaml:"testarch_preflight,omitempty"`

	// QACategory controls which test classes QA runs: "A" or "all".
	QACategory string `yaml:"qa_category,omitempty"`
}

// New creates a fresh state.
func New() *State {
	now := Now()
	return &State{
		StartedAt:  now,
		UpdatedAt:  now,
		QACategory: "A",
	}
}

// Load reads the state file for a project. A missing file returns (nil, nil)
// so the runner can distinguish first start from corruption.
func Load(project *paths.Project) (*State, error) {
	data, err := os.ReadFile(project.StateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &s, nil
}

// Save persists the state atomically. UpdatedAt is advanced but never moved
// backwards, keeping it monotonically non-decreasing across saves.
func (s *State) Save(project *paths.Project) error {
	now := Now()
	if now.After(s.UpdatedAt.Time) {
		s.UpdatedAt = now
	}
	if err := util.AtomicWriteYAML(project.StateFile(), s, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// StartPhase records the phase cursor and its timing mark.
func (s *State) StartPhase(phase string) {
	now := Now()
	s.CurrentPhase = phase
	s.PhaseStartedAt = &now
}

// StartStory records the story cursor and its timing mark.
func (s *State) StartStory(story string) {
	now := Now()
	s.CurrentStory = story
	s.StoryStartedAt = &now
}

// StartEpic records the epic cursor and its timing mark.
func (s *State) StartEpic(id epic.ID) {
	now := Now()
	s.CurrentEpic = &id
	s.EpicStartedAt = &now
}

// CompleteStory moves the current story into completed history. The
// completed list only ever grows and never contains the current story.
func (s *State) CompleteStory() {
	if s.CurrentStory == "" {
		return
	}
	story := s.CurrentStory
	for _, done := range s.CompletedStories {
		if done == story {
			s.CurrentStory = ""
			return
		}
	}
	s.CompletedStories = append(s.CompletedStories, story)
	s.CurrentStory = ""
	s.StoryStartedAt = nil
}

// CompleteEpic moves the current epic into completed history and resets the
// story cursors.
func (s *State) CompleteEpic() {
	if s.CurrentEpic == nil {
		return
	}
	id := *s.CurrentEpic
	found := false
	for _, done := range s.CompletedEpics {
		if done == id {
			found = true
			break
		}
	}
	if !found {
		s.CompletedEpics = append(s.CompletedEpics, id)
	}
	s.CurrentEpic = nil
	s.CurrentStory = ""
	s.CurrentPhase = ""
	s.EpicStartedAt = nil
	s.StoryStartedAt = nil
	s.PhaseStartedAt = nil
}

// IsStoryCompleted reports whether the "E.S" ref is in completed history.
func (s *State) IsStoryCompleted(ref string) bool {
	for _, done := range s.CompletedStories {
		if done == ref {
			return true
		}
	}
	return false
}

// PhaseDurationMS returns elapsed milliseconds since the phase mark, floored.
func (s *State) PhaseDurationMS() int64 {
	return durationMS(s.PhaseStartedAt)
}

// StoryDurationMS returns elapsed milliseconds since the story mark, floored.
func (s *State) StoryDurationMS() int64 {
	return durationMS(s.StoryStartedAt)
}

// EpicDurationMS returns elapsed milliseconds since the epic mark, floored.
func (s *State) EpicDurationMS() int64 {
	return durationMS(s.EpicStartedAt)
}

func durationMS(mark *Timestamp) int64 {
	if mark == nil || mark.IsZero() {
		return 0
	}
	ms := time.Since(mark.Time).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
