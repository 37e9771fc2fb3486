package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/events"
)

// sseHeartbeatInterval keeps idle SSE connections alive through proxies.
const sseHeartbeatInterval = 30 * time.Second

// handleSSE streams the event bus as Server-Sent Events. Each bus event
// becomes one SSE message with the event type in the `event:` field.
// Backpressure is drop-oldest per subscription: a slow client loses its
// oldest buffered event, never stalls the loop.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		JSONError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	// Push the headers out immediately so clients see the stream open
	// before the first event or heartbeat arrives.
	flusher.Flush()

	ch := s.pub.Subscribe()
	defer s.pub.Unsubscribe(ch)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	writeEvent := func(ev events.Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if !writeEvent(ev) {
				return
			}
			heartbeat.Reset(sseHeartbeatInterval)
		case <-heartbeat.C:
			if !writeEvent(events.Event{Type: events.EventHeartbeat, Time: time.Now().UTC()}) {
				return
			}
		}
	}
}
