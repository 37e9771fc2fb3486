package dashboard

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/events"
)

func TestSSEStreamsBusEvents(t *testing.T) {
	s, _, pub := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sse/output")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the handler's subscription before publishing.
	require.Eventually(t, func() bool {
		return pub.SubscriberCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	run := events.NewRun()
	pub.Publish(run.Event(events.EventOutput, events.OutputLine{Provider: "claude", Line: "compiling"}))

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(5 * time.Second)
	var eventLine, dataLine string
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}

	assert.Equal(t, "event: output", eventLine)
	assert.Contains(t, dataLine, `"line":"compiling"`)
	assert.Contains(t, dataLine, `"sequence_id":1`)
	assert.Contains(t, dataLine, run.ID)
}
