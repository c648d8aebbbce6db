package config

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Watcher reloads the config file when it changes on disk and emits each
// new valid configuration whose content differs from the last one.
type Watcher struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger
	changes  chan *Config

	mu       sync.Mutex
	lastHash uint64
}

// NewWatcher creates a Watcher for path. current is the configuration
// already in use; reloads identical to it are not emitted.
func NewWatcher(path string, current *Config, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 250 * time.Millisecond,
		log:      log.With().Str("component", "config").Str("path", path).Logger(),
		changes:  make(chan *Config, 1),
		lastHash: hashConfig(current),
	}
}

// Changes delivers reloaded configurations. Only the latest pending one is
// kept if the reader falls behind.
func (w *Watcher) Changes() <-chan *Config {
	return w.changes
}

// Run watches the file's directory until ctx ends. Editors often replace
// files rather than write them, so the directory is watched, not the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}
	file := filepath.Base(w.path)
	w.log.Debug().Str("dir", dir).Msg("config watcher started")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("config reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn().Err(err).Msg("config rejected")
		return
	}

	h := hashConfig(cfg)
	w.mu.Lock()
	unchanged := h == w.lastHash
	w.lastHash = h
	w.mu.Unlock()
	if unchanged {
		w.log.Debug().Msg("config unchanged")
		return
	}

	// Replace any pending, unread config with the newest.
	select {
	case <-w.changes:
	default:
	}
	select {
	case w.changes <- cfg:
		w.log.Info().Msg("config reloaded")
	default:
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
