// Package lock guards the loop state against concurrent runners. Exactly one
// process may drive a project at a time; the lock file lives in the
// tool-private directory and carries owner, pid and a heartbeat so crashed
// runners go stale instead of wedging the project forever.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// LockFileName is the lock file inside the tool directory.
const LockFileName = "loop.lock.yaml"

// DefaultTTL is how long a lock stays valid without a heartbeat.
const DefaultTTL = 60 * time.Second

// DefaultHeartbeatInterval is the heartbeat update cadence.
const DefaultHeartbeatInterval = 10 * time.Second

// Lock is the persisted lock state.
type Lock struct {
	Owner     string    `yaml:"owner"` // user@machine
	Acquired  time.Time `yaml:"acquired"`
	Heartbeat time.Time `yaml:"heartbeat"`
	TTL       string    `yaml:"ttl"`
	PID       int       `yaml:"pid"`
}

// TTLDuration parses the TTL string, falling back to DefaultTTL.
func (l *Lock) TTLDuration() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// IsStale reports whether the heartbeat is older than the TTL.
func (l *Lock) IsStale() bool {
	return time.Since(l.Heartbeat) > l.TTLDuration()
}

// Locker is the loop lock contract.
type Locker struct {
	path  string
	owner string
	mu    sync.Mutex
}

// DefaultOwner builds the user@host owner identifier.
func DefaultOwner() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return user + "@" + host
}

// New creates a Locker for a project.
func New(project *paths.Project, owner string) *Locker {
	if owner == "" {
		owner = DefaultOwner()
	}
	return &Locker{
		path:  filepath.Join(project.ToolDir(), LockFileName),
		owner: owner,
	}
}

// Acquire takes the loop lock. A live lock held by someone else yields
// ErrLockHeld; a stale lock is claimed silently.
func (l *Locker) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if err == nil {
		if !existing.IsStale() && existing.Owner != l.owner {
			return bmaderrors.ErrLockHeld(existing.Owner, existing.PID)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read lock: %w", err)
	}

	now := time.Now().UTC()
	return l.write(&Lock{
		Owner:     l.owner,
		Acquired:  now,
		Heartbeat: now,
		TTL:       DefaultTTL.String(),
		PID:       os.Getpid(),
	})
}

// Release removes the lock when we own it. A missing file is not an error.
func (l *Locker) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if existing.Owner != l.owner {
		return bmaderrors.ErrLockHeld(existing.Owner, existing.PID)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Heartbeat refreshes the lock timestamp.
func (l *Locker) Heartbeat() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if existing.Owner != l.owner {
		return bmaderrors.ErrLockHeld(existing.Owner, existing.PID)
	}
	existing.Heartbeat = time.Now().UTC()
	return l.write(existing)
}

// Holder returns the current live lock, or nil when unlocked or stale.
func (l *Locker) Holder() (*Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	if existing.IsStale() {
		return nil, nil
	}
	return existing, nil
}

// StartHeartbeat refreshes the lock every interval until ctx ends. The
// returned stop function blocks until the goroutine exits.
func (l *Locker) StartHeartbeat(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				// Persistent failures just let the lock go stale.
				_ = l.Heartbeat()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
		wg.Wait()
	}
}

func (l *Locker) read() (*Lock, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &lock, nil
}

func (l *Locker) write(lock *Lock) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	data, err := yaml.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename lock file: %w", err)
	}
	return nil
}
