package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/events"
)

func TestChildReaderRepublishesValidMarkers(t *testing.T) {
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)
	ch := pub.Subscribe()
	defer pub.Unsubscribe(ch)

	input := strings.Join([]string{
		"regular build output",
		`DASHBOARD_EVENT: {"type":"output","run_id":"r1","sequence_id":1,"data":{"provider":"claude","line":"hello"}}`,
		`DASHBOARD_EVENT: {"type":"workflow_status","run_id":"r1","sequence_id":2,"data":{"phase":"DEV_STORY","status":"started"}}`,
	}, "\n") + "\n"

	var passthrough strings.Builder
	reader := NewChildReader(pub, nil)
	reader.Passthrough = &passthrough
	require.NoError(t, reader.Run(strings.NewReader(input)))

	first := recvEvent(t, ch)
	require.Equal(t, events.EventOutput, first.Type)
	payload, ok := first.Data.(events.OutputLine)
	require.True(t, ok, "payload should be typed after validation")
	assert.Equal(t, "hello", payload.Line)

	second := recvEvent(t, ch)
	assert.Equal(t, events.EventWorkflowStatus, second.Type)

	assert.Equal(t, "regular build output\n", passthrough.String())
}

func TestChildReaderDropsMalformedMarkers(t *testing.T) {
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)
	ch := pub.Subscribe()
	defer pub.Unsubscribe(ch)

	input := strings.Join([]string{
		`DASHBOARD_EVENT: not json at all`,
		`DASHBOARD_EVENT: {"type":"output","data":{"provider":"claude","line":"x","bogus_field":true}}`,
		`DASHBOARD_EVENT: {"type":"made_up_type","data":{}}`,
		`DASHBOARD_EVENT: {"type":"heartbeat"}`,
	}, "\n") + "\n"

	require.NoError(t, NewChildReader(pub, nil).Run(strings.NewReader(input)))

	ev := recvEvent(t, ch)
	assert.Equal(t, events.EventHeartbeat, ev.Type)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %s", extra.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func recvEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event arrived")
		return events.Event{}
	}
}
