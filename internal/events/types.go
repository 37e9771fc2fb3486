// Package events provides the in-process event bus feeding the dashboard:
// typed events, an in-memory publisher with non-blocking fan-out, and the
// DASHBOARD_EVENT stdout marker emitter used when the loop runs as a
// dashboard child process.
package events

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event.
type EventType string

const (
	// EventOutput carries one provider output line.
	EventOutput EventType = "output"
	// EventStatus carries a free-form loop status message.
	EventStatus EventType = "status"
	// EventWorkflowStatus reports a phase starting, completing or failing.
	EventWorkflowStatus EventType = "workflow_status"
	// EventStoryStatus reports a sprint-status entry change.
	EventStoryStatus EventType = "story_status"
	// EventStoryTransition reports the loop moving between stories.
	EventStoryTransition EventType = "story_transition"
	// EventLoopPaused signals the pause flag was honored.
	EventLoopPaused EventType = "LOOP_PAUSED"
	// EventLoopResumed signals the pause flag was cleared.
	EventLoopResumed EventType = "LOOP_RESUMED"
	// EventConfigReloaded signals an on-disk config change was picked up.
	EventConfigReloaded EventType = "config_reloaded"
	// EventHeartbeat keeps SSE connections alive.
	EventHeartbeat EventType = "heartbeat"
)

// Event is one bus message. SequenceID is monotonically increasing within a
// RunID so dashboard clients can detect gaps after reconnecting.
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	SequenceID uint64    `json:"sequence_id"`
	Data       any       `json:"data,omitempty"`
	Time       time.Time `json:"time"`
}

// WorkflowStatus is the payload of EventWorkflowStatus.
type WorkflowStatus struct {
	Phase      string `json:"phase"`
	Status     string `json:"status"` // started, completed, failed, skipped
	Story      string `json:"story,omitempty"`
	Epic       string `json:"epic,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StoryStatus is the payload of EventStoryStatus.
type StoryStatus struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// StoryTransition is the payload of EventStoryTransition.
type StoryTransition struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// OutputLine is the payload of EventOutput.
type OutputLine struct {
	Provider string `json:"provider"`
	Phase    string `json:"phase,omitempty"`
	Line     string `json:"line"`
}

// Run identifies one loop execution and numbers its events.
type Run struct {
	ID  string
	seq atomic.Uint64
}

// NewRun creates a run with a fresh UUID.
func NewRun() *Run {
	return &Run{ID: uuid.NewString()}
}

// Event builds the next event in this run's sequence.
func (r *Run) Event(eventType EventType, data any) Event {
	return Event{
		Type:       eventType,
		RunID:      r.ID,
		SequenceID: r.seq.Add(1),
		Data:       data,
		Time:       time.Now().UTC(),
	}
}
