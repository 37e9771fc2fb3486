package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MarkerPrefix starts every dashboard event line the loop prints to stdout
// when it runs as a dashboard child process.
const MarkerPrefix = "DASHBOARD_EVENT: "

// MarkerPublisher mirrors every event to w as marker lines. It is layered on
// top of another publisher so in-process subscribers keep working.
type MarkerPublisher struct {
	inner Publisher
	mu    sync.Mutex
	w     io.Writer
}

// NewMarkerPublisher wraps inner, printing marker lines to w.
func NewMarkerPublisher(inner Publisher, w io.Writer) *MarkerPublisher {
	return &MarkerPublisher{inner: inner, w: w}
}

// Publish implements Publisher.
func (p *MarkerPublisher) Publish(event Event) {
	p.inner.Publish(event)
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.w, "%s%s\n", MarkerPrefix, data)
	p.mu.Unlock()
}

// Subscribe implements Publisher.
func (p *MarkerPublisher) Subscribe() <-chan Event { return p.inner.Subscribe() }

// Unsubscribe implements Publisher.
func (p *MarkerPublisher) Unsubscribe(ch <-chan Event) { p.inner.Unsubscribe(ch) }

// Close implements Publisher.
func (p *MarkerPublisher) Close() { p.inner.Close() }

// ParseMarker extracts the event from a child-process stdout line. The
// second return is false when the line is not a marker.
func ParseMarker(line string) (Event, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), strings.TrimSpace(MarkerPrefix))
	if !ok {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}
