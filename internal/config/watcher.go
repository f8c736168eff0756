package config

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/internal/logging"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc receives each successfully loaded configuration.
type ReloadFunc func(cfg *types.Config) error

// Watcher reloads the configuration when any of its files change. A reload
// that fails to load or validate is logged and the previous configuration
// stays in effect.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	files     []string
	onReload  ReloadFunc
	bus       *event.Bus
	debounce  time.Duration
	log       zerolog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherBus publishes config.reloaded events to bus.
func WithWatcherBus(bus *event.Bus) WatcherOption {
	return func(w *Watcher) { w.bus = bus }
}

// NewWatcher watches every directory that may hold a config file for
// directory. Editors often replace files instead of writing them, so the
// parent directories are watched rather than the files.
func NewWatcher(directory string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:   fw,
		directory: directory,
		onReload:  onReload,
		debounce:  DefaultDebounce,
		log:       logging.Component("config"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	dirs := make(map[string]bool)
	for _, path := range candidatePaths(directory) {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		w.files = append(w.files, abs)
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.log.Debug().Err(err).Str("dir", dir).Msg("cannot watch config directory")
		}
	}

	w.log.Debug().Strs("dirs", fw.WatchList()).Msg("config watcher initialized")
	return w, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !slices.Contains(w.files, filepath.Clean(ev.Name)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			w.Reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Reload loads the configuration now and hands it to the callback. It
// returns the load or callback error.
func (w *Watcher) Reload() error {
	sources := Sources(w.directory)
	cfg, err := Load(w.directory)
	if err == nil && w.onReload != nil {
		err = w.onReload(cfg)
	}

	data := event.ConfigData{Sources: sources}
	if err != nil {
		data.Error = err.Error()
		w.log.Warn().Err(err).Msg("config reload rejected, keeping previous configuration")
	} else {
		w.log.Info().Strs("sources", sources).Int("providers", len(cfg.Providers)).Msg("config reloaded")
	}
	if w.bus != nil {
		w.bus.Publish(event.Event{Type: event.ConfigReloaded, Data: data})
	}
	return err
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
