package state

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/epic"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

func testProject(t *testing.T) *paths.Project {
	t.Helper()
	p := &paths.Project{Root: t.TempDir()}
	require.NoError(t, os.MkdirAll(p.ToolDir(), 0755))
	return p
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := testProject(t)

	s := New()
	s.StartEpic(epic.ID{Num: 3})
	s.StartStory("3.2")
	s.StartPhase("dev_story")
	s.CompletedStories = []string{"3.1"}
	require.NoError(t, s.Save(p))

	loaded, err := Load(p)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, epic.ID{Num: 3}, *loaded.CurrentEpic)
	assert.Equal(t, "3.2", loaded.CurrentStory)
	assert.Equal(t, "dev_story", loaded.CurrentPhase)
	assert.Equal(t, []string{"3.1"}, loaded.CompletedStories)
	assert.False(t, loaded.StartedAt.IsZero())
}

func TestLoadMissingReturnsNil(t *testing.T) {
	p := testProject(t)
	s, err := Load(p)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadCorruptFails(t *testing.T) {
	p := testProject(t)
	require.NoError(t, os.WriteFile(p.StateFile(), []byte(":\n  - not: [valid"), 0644))
	_, err := Load(p)
	assert.Error(t, err)
}

func TestUpdatedAtMonotonic(t *testing.T) {
	p := testProject(t)
	s := New()
	require.NoError(t, s.Save(p))
	first := s.UpdatedAt

	// A clock that somehow reads in the future must not move backwards.
	s.UpdatedAt = Timestamp{time.Now().UTC().Add(time.Hour)}
	require.NoError(t, s.Save(p))
	assert.True(t, !s.UpdatedAt.Before(first.Time))
	assert.True(t, !s.UpdatedAt.Before(time.Now().UTC().Add(time.Hour).Add(-time.Minute)))
}

func TestCompleteStory(t *testing.T) {
	s := New()
	s.StartStory("2.1")
	s.CompleteStory()
	assert.Equal(t, []string{"2.1"}, s.CompletedStories)
	assert.Empty(t, s.CurrentStory)
	assert.True(t, s.IsStoryCompleted("2.1"))

	// Completing again is a no-op and never duplicates history.
	s.StartStory("2.1")
	s.CompleteStory()
	assert.Equal(t, []string{"2.1"}, s.CompletedStories)
}

func TestCompleteStoryPreservesOrder(t *testing.T) {
	s := New()
	for _, ref := range []string{"1.2", "1.1", "2.1"} {
		s.StartStory(ref)
		s.CompleteStory()
	}
	assert.Equal(t, []string{"1.2", "1.1", "2.1"}, s.CompletedStories)
}

func TestCompleteEpicResetsCursors(t *testing.T) {
	s := New()
	s.StartEpic(epic.ID{Num: 1})
	s.StartStory("1.3")
	s.StartPhase("code_review")
	s.CompleteEpic()

	assert.Nil(t, s.CurrentEpic)
	assert.Empty(t, s.CurrentStory)
	assert.Empty(t, s.CurrentPhase)
	assert.Equal(t, []epic.ID{{Num: 1}}, s.CompletedEpics)
	assert.Nil(t, s.EpicStartedAt)
	assert.Nil(t, s.PhaseStartedAt)
}

func TestDurationFlooredAndClamped(t *testing.T) {
	s := New()
	past := Timestamp{time.Now().UTC().Add(-2500 * time.Millisecond)}
	s.PhaseStartedAt = &past
	ms := s.PhaseDurationMS()
	assert.GreaterOrEqual(t, ms, int64(2500))

	future := Timestamp{time.Now().UTC().Add(time.Hour)}
	s.PhaseStartedAt = &future
	assert.Equal(t, int64(0), s.PhaseDurationMS())

	s.PhaseStartedAt = nil
	assert.Equal(t, int64(0), s.PhaseDurationMS())
}

func TestTimestampNaiveUTCOnDisk(t *testing.T) {
	p := testProject(t)
	s := New()
	require.NoError(t, s.Save(p))

	data, err := os.ReadFile(p.StateFile())
	require.NoError(t, err)
	// No zone designator in persisted timestamps.
	assert.NotContains(t, string(data), "Z\n")
	assert.NotContains(t, string(data), "+00:00")
}
