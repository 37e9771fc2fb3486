package dashboard

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// watchDebounce coalesces the burst of fs events an editor save produces.
const watchDebounce = 500 * time.Millisecond

// configWatcher broadcasts config_reloaded when the project config file is
// edited outside the dashboard.
type configWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	pub        events.Publisher
	logger     *slog.Logger
}

func newConfigWatcher(project *paths.Project, pub events.Publisher, logger *slog.Logger) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	configPath := project.ProjectConfig()
	// Watch the directory, not the file: atomic rename-into-place replaces
	// the inode a file watch would be pinned to.
	if err := w.Add(filepath.Dir(configPath)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &configWatcher{
		watcher:    w,
		configPath: configPath,
		pub:        pub,
		logger:     logger,
	}, nil
}

func (c *configWatcher) run(ctx context.Context) {
	defer c.watcher.Close()

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(c.configPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			c.logger.Info("project config changed on disk")
			c.pub.Publish(events.Event{
				Type: events.EventConfigReloaded,
				Time: time.Now().UTC(),
			})
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("config watcher error", "error", err)
		}
	}
}
