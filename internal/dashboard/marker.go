package dashboard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/bmad-assist/bmad-assist/internal/events"
)

// markerScanBuffer accommodates very long provider output lines.
const markerScanBuffer = 1024 * 1024

// ChildReader parses DASHBOARD_EVENT marker lines from a child loop
// process's stdout and republishes them on the event bus. Non-marker lines
// pass through untouched, so the child's regular output stays visible.
type ChildReader struct {
	pub    events.Publisher
	logger *slog.Logger

	// Passthrough receives every non-marker line. Nil discards them.
	Passthrough io.Writer
}

// NewChildReader creates a reader feeding the given publisher.
func NewChildReader(pub events.Publisher, logger *slog.Logger) *ChildReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChildReader{pub: pub, logger: logger}
}

// Run consumes r until EOF. Malformed or unknown-typed markers are dropped
// with a warning; they must never take the dashboard down.
func (c *ChildReader) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), markerScanBuffer)

	for scanner.Scan() {
		line := scanner.Text()
		ev, ok := events.ParseMarker(line)
		if !ok {
			if c.Passthrough != nil {
				_, _ = io.WriteString(c.Passthrough, line+"\n")
			}
			continue
		}
		if err := validateEvent(&ev); err != nil {
			c.logger.Warn("dropping malformed dashboard event", "type", ev.Type, "error", err)
			continue
		}
		c.pub.Publish(ev)
	}
	return scanner.Err()
}

// validateEvent checks the payload against the typed schema for its event
// type, replacing the raw map with the typed value on success.
func validateEvent(ev *events.Event) error {
	switch ev.Type {
	case events.EventOutput:
		var payload events.OutputLine
		if err := decodePayload(ev.Data, &payload); err != nil {
			return err
		}
		ev.Data = payload
	case events.EventWorkflowStatus:
		var payload events.WorkflowStatus
		if err := decodePayload(ev.Data, &payload); err != nil {
			return err
		}
		ev.Data = payload
	case events.EventStoryStatus:
		var payload events.StoryStatus
		if err := decodePayload(ev.Data, &payload); err != nil {
			return err
		}
		ev.Data = payload
	case events.EventStoryTransition:
		var payload events.StoryTransition
		if err := decodePayload(ev.Data, &payload); err != nil {
			return err
		}
		ev.Data = payload
	case events.EventStatus, events.EventLoopPaused, events.EventLoopResumed,
		events.EventConfigReloaded, events.EventHeartbeat:
		// Free-form or empty payloads.
	default:
		return errUnknownEventType{string(ev.Type)}
	}
	return nil
}

// decodePayload round-trips the generic JSON value into the typed struct,
// rejecting unknown fields.
func decodePayload(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

type errUnknownEventType struct{ t string }

func (e errUnknownEventType) Error() string { return "unknown event type " + e.t }
