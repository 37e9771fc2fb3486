// Package debuglog captures every JSON line a provider emits to a per-session
// JSONL file under ~/.bmad-assist/debug/json/.
//
// Lines arriving before the init line is recognized are buffered in memory
// and flushed once the session ID is known. Each line is written with
// open-append-write-fsync-close so a crash mid-run loses at most the line in
// flight.
package debuglog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/paths"
)

const filenameTimeLayout = "06.01.02-15.04"

// Logger is a provider line sink backed by one JSONL file per session.
// Safe for use from a single provider pump goroutine; the mutex guards the
// occasional concurrent Close.
type Logger struct {
	mu        sync.Mutex
	dir       string
	startedAt time.Time
	path      string   // set once the session id (or fallback) is decided
	pending   []string // lines seen before init recognition
	closed    bool
}

// New creates a logger writing under dir. An empty dir selects the default
// global debug directory; when even that cannot be resolved the logger falls
// back to the system temp directory rather than failing the run.
func New(dir string) *Logger {
	if dir == "" {
		var err error
		dir, err = paths.DebugJSONDir()
		if err != nil {
			slog.Warn("debug log falling back to temp dir", "error", err)
			dir = filepath.Join(os.TempDir(), "bmad-assist-debug")
		}
	}
	return &Logger{dir: dir, startedAt: time.Now()}
}

// SessionStarted fixes the output filename from the recognized session ID and
// flushes any buffered pre-init lines.
func (l *Logger) SessionStarted(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path != "" || l.closed {
		return
	}
	name := fmt.Sprintf("%s-%s.jsonl", l.startedAt.Format(filenameTimeLayout), paths.SanitizeModelName(sessionID))
	l.path = filepath.Join(l.dir, name)
	l.flushPendingLocked()
}

// Line records one provider output line.
func (l *Logger) Line(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.path == "" {
		l.pending = append(l.pending, line)
		return
	}
	l.appendLocked(line)
}

// Close flushes buffered lines. When no init line was ever recognized the
// buffer goes to a fallback file that cannot collide across processes.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.path == "" && len(l.pending) > 0 {
		name := fmt.Sprintf("%s-unknown-%06d-%d.jsonl",
			l.startedAt.Format(filenameTimeLayout),
			l.startedAt.Nanosecond()/1000,
			os.Getpid(),
		)
		l.path = filepath.Join(l.dir, name)
	}
	l.flushPendingLocked()
	return nil
}

// Path returns the JSONL file path, or "" when nothing was written yet.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *Logger) flushPendingLocked() {
	for _, line := range l.pending {
		l.appendLocked(line)
	}
	l.pending = nil
}

func (l *Logger) appendLocked(line string) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		slog.Warn("debug log dir unavailable", "dir", l.dir, "error", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Warn("debug log open failed", "path", l.path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		slog.Warn("debug log write failed", "path", l.path, "error", err)
		return
	}
	if err := f.Sync(); err != nil {
		slog.Warn("debug log fsync failed", "path", l.path, "error", err)
	}
}
