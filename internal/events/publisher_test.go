package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	a := p.Subscribe()
	b := p.Subscribe()
	run := NewRun()

	p.Publish(run.Event(EventStatus, "hello"))

	ev := <-a
	assert.Equal(t, EventStatus, ev.Type)
	assert.Equal(t, run.ID, ev.RunID)
	assert.Equal(t, uint64(1), ev.SequenceID)
	ev = <-b
	assert.Equal(t, "hello", ev.Data)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	p := NewMemoryPublisher(WithBufferSize(2))
	defer p.Close()

	ch := p.Subscribe()
	run := NewRun()
	for i := 0; i < 5; i++ {
		p.Publish(run.Event(EventHeartbeat, i))
	}

	// Buffer holds the two most recent events; older ones were dropped.
	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(4), first.SequenceID)
	assert.Equal(t, uint64(5), second.SequenceID)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe()
	assert.Equal(t, 1, p.SubscriberCount())
	p.Unsubscribe(ch)
	assert.Equal(t, 0, p.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	p := NewMemoryPublisher()
	ch := p.Subscribe()
	p.Close()
	p.Publish(NewRun().Event(EventStatus, "x"))
	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields a closed channel.
	_, open = <-p.Subscribe()
	assert.False(t, open)
}

func TestRunSequenceMonotonic(t *testing.T) {
	run := NewRun()
	e1 := run.Event(EventStatus, nil)
	e2 := run.Event(EventOutput, nil)
	assert.Equal(t, uint64(1), e1.SequenceID)
	assert.Equal(t, uint64(2), e2.SequenceID)
	assert.NotEmpty(t, run.ID)
}

func TestMarkerRoundTrip(t *testing.T) {
	var out strings.Builder
	p := NewMarkerPublisher(NewMemoryPublisher(), &out)
	defer p.Close()

	run := NewRun()
	p.Publish(run.Event(EventWorkflowStatus, WorkflowStatus{Phase: "dev_story", Status: "started"}))

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "DASHBOARD_EVENT: "))

	ev, ok := ParseMarker(line)
	require.True(t, ok)
	assert.Equal(t, EventWorkflowStatus, ev.Type)
	assert.Equal(t, run.ID, ev.RunID)

	_, ok = ParseMarker("just a log line")
	assert.False(t, ok)
	_, ok = ParseMarker("DASHBOARD_EVENT: {not json")
	assert.False(t, ok)
}
