package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Live holds the current configuration and swaps it atomically on reload.
type Live struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewLive wraps an already loaded config. path may be empty when the
// config did not come from a file.
func NewLive(path string, cfg *Config) *Live {
	l := &Live{path: path}
	l.cur.Store(cfg)
	return l
}

// Static returns a Live that never reloads.
func Static(cfg *Config) *Live {
	return NewLive("", cfg)
}

// Get returns the current configuration. Callers must not mutate it.
func (l *Live) Get() *Config {
	return l.cur.Load()
}

// Budget returns the current budget thresholds.
func (l *Live) Budget() BudgetConfig {
	return l.Get().Budget
}

// Reload re-reads the file. An invalid file leaves the current config in place.
func (l *Live) Reload() error {
	if l.path == "" {
		return nil
	}
	cfg, err := Load(l.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	l.cur.Store(cfg)
	log.Info().
		Str("path", l.path).
		Float64("warn_percent", cfg.Budget.WarnPercent).
		Float64("critical_percent", cfg.Budget.CriticalPercent).
		Int("grace_period_seconds", cfg.Budget.GracePeriodSeconds).
		Msg("configuration reloaded")
	return nil
}

// Watch reloads the config whenever its file changes, until ctx is done.
// Editors often replace files atomically, so the parent directory is watched.
func (l *Live) Watch(ctx context.Context, debounce time.Duration) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	target := filepath.Clean(l.path)
	d := newDebouncer(debounce)
	defer d.stop()

	log.Info().Str("path", l.path).Msg("config watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("config watcher events closed")
			}
			if filepath.Clean(ev.Name) != target || ev.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			d.trigger(func() {
				if err := l.Reload(); err != nil {
					log.Error().Err(err).Msg("keeping previous configuration")
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("config watcher errors closed")
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// debouncer collapses bursts of file events into one reload.
type debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
}

func newDebouncer(interval time.Duration) *debouncer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &debouncer{interval: interval}
}

func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
