// Package provider launches LLM CLI subprocesses and streams their output.
//
// Each provider wraps one external CLI (claude, codex, gemini). They share a
// single streaming runner and differ only in how the prompt is delivered, the
// JSON line schema, and how the session ID is recognized.
package provider

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ExitStatus classifies how a provider invocation ended.
type ExitStatus string

const (
	ExitSuccess      ExitStatus = "success"
	ExitNonRetriable ExitStatus = "non_retriable_error"
	ExitRetriable    ExitStatus = "retriable_error"
	ExitTimeout      ExitStatus = "timeout"
)

// LineSink receives every stdout line a provider emits, in order.
// Implementations must not block; slow sinks stall the subprocess pipes.
type LineSink interface {
	Line(line string)
}

// SessionSink is an optional extension notified once when the session ID is
// recognized from the init line.
type SessionSink interface {
	SessionStarted(sessionID string)
}

// Request describes one provider invocation.
type Request struct {
	Prompt  string
	Model   string
	Timeout time.Duration
	WorkDir string
	// Env entries are appended to the inherited environment.
	Env  []string
	Sink LineSink
}

// Result is the captured outcome of a provider invocation.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	SessionID  string
	Status     ExitStatus
}

// Provider launches one CLI subprocess per Invoke call.
type Provider interface {
	// Name returns the provider identifier ("claude", "codex", "gemini").
	Name() string
	// Invoke runs the CLI with the request prompt. On timeout or non-zero
	// exit the partial Result captured so far is returned alongside the
	// error so callers can persist what they got.
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Options carries per-provider binary overrides from config.
type Options struct {
	// BinaryPath overrides the executable looked up on PATH.
	BinaryPath string
}

type factory func(opts Options) Provider

var registry = map[string]factory{
	"claude": func(opts Options) Provider { return newClaude(opts) },
	"codex":  func(opts Options) Provider { return newCodex(opts) },
	"gemini": func(opts Options) Provider { return newGemini(opts) },
}

// New returns the provider registered under name.
func New(name string, opts Options) (Provider, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %v)", name, Names())
	}
	return f(opts), nil
}

// Names returns the registered provider names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
