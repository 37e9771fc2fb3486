// Package notify fans run lifecycle events out to pluggable sinks. Sink
// failures are logged and swallowed; notifications must never affect the
// loop's outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/config"
)

// Kind classifies a notification.
type Kind string

const (
	KindPhaseStarted  Kind = "phase_started"
	KindPhaseFinished Kind = "phase_finished"
	KindPaused        Kind = "paused"
	KindResumed       Kind = "resumed"
	KindError         Kind = "error"
	KindRunSummary    Kind = "run_summary"
)

// Notification is the payload every sink receives.
type Notification struct {
	Kind    Kind              `json:"kind"`
	Phase   string            `json:"phase,omitempty"`
	Story   string            `json:"story,omitempty"`
	Epic    string            `json:"epic,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	Time    time.Time         `json:"time"`
}

// Sink delivers one notification. Errors are reported to the dispatcher,
// logged, and dropped.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Dispatcher fans notifications out to its registered sinks.
type Dispatcher struct {
	mu    sync.Mutex
	sinks []Sink
}

// NewDispatcher builds a dispatcher with the sinks config enables: the slog
// sink always, the command sink when notifications.command is set.
func NewDispatcher(cfg *config.Config) *Dispatcher {
	d := &Dispatcher{}
	d.Register(&SlogSink{})
	if cfg != nil && cfg.Notify.Command != "" {
		d.Register(&CommandSink{Command: cfg.Notify.Command})
	}
	return d
}

// Register adds a sink.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Dispatch delivers n to every sink. Never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	d.mu.Lock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Notify(ctx, n); err != nil {
			slog.Warn("notification sink failed", "sink", sink.Name(), "kind", n.Kind, "error", err)
		}
	}
}

// SlogSink logs every notification through the structured logger.
type SlogSink struct{}

// Name implements Sink.
func (s *SlogSink) Name() string { return "slog" }

// Notify implements Sink.
func (s *SlogSink) Notify(_ context.Context, n Notification) error {
	slog.Info("notification",
		"kind", n.Kind,
		"phase", n.Phase,
		"story", n.Story,
		"message", n.Message)
	return nil
}

// CommandSink runs a configured shell hook with the notification JSON on
// stdin, the same shape hook scripts read elsewhere.
type CommandSink struct {
	Command string
	// Timeout bounds the hook; defaults to 30 s.
	Timeout time.Duration
}

// Name implements Sink.
func (s *CommandSink) Name() string { return "command" }

// Notify implements Sink.
func (s *CommandSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", s.Command)
	cmd.Stdin = bytes.NewReader(payload)
	return cmd.Run()
}
