package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often [Watcher.Run] stats the config file.
const DefaultPollInterval = 5 * time.Second

// ReloadFunc receives every accepted configuration change together with its
// [ConfigDiff]. It is never called for edits that change nothing.
type ReloadFunc func(old, new *Config, d ConfigDiff)

// fileState identifies one version of the config file.
type fileState struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Watcher keeps a config file and the running service in sync. It polls the
// file's size and modification time; a changed file is parsed, validated and,
// when its content differs, diffed against the active config. Invalid files
// are rejected and the active config stays in place.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	logger   *slog.Logger

	// reloadMu serialises Reload between the poll loop and manual triggers.
	reloadMu sync.Mutex

	mu      sync.RWMutex
	current *Config
	state   fileState
	lastErr error
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval. Non-positive values keep
// [DefaultPollInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger for reload events. Default: slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher loads path and returns a Watcher holding it as the active
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onReload: onReload,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.state = cfg, st
	return w, nil
}

// Current returns the active config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Err returns why the latest version of the file was rejected, or nil when
// the file on disk is the active config.
func (w *Watcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll reloads when the file's size or modification time moved.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.reject(err)
		return
	}
	w.mu.RLock()
	st := w.state
	w.mu.RUnlock()
	if info.ModTime().Equal(st.modTime) && info.Size() == st.size {
		return
	}
	_, _ = w.Reload()
}

// Reload reads the file immediately, bypassing the stat shortcut of the poll
// loop. changed reports whether a config with effective differences was
// accepted and handed to the [ReloadFunc].
func (w *Watcher) Reload() (changed bool, err error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, st, err := readState(w.path)
	if err != nil {
		w.reject(err)
		return false, err
	}

	w.mu.Lock()
	same := st.sum == w.state.sum
	old := w.current
	w.state, w.lastErr = st, nil
	if !same {
		w.current = cfg
	}
	w.mu.Unlock()
	if same {
		return false, nil
	}

	d := Diff(old, cfg)
	if d.Empty() {
		w.logger.Debug("config file rewritten without effective changes", "path", w.path)
		return false, nil
	}
	w.logger.Info("configuration reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onReload != nil {
		w.onReload(old, cfg, d)
	}
	return true, nil
}

// reject records err, logging it once per distinct failure.
func (w *Watcher) reject(err error) {
	w.mu.Lock()
	repeated := w.lastErr != nil && w.lastErr.Error() == err.Error()
	w.lastErr = err
	w.mu.Unlock()
	if !repeated {
		w.logger.Warn("config change rejected, keeping active config", "path", w.path, "err", err)
	}
}

// readState parses and validates the file and fingerprints its content.
func readState(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
		sum:     sha256.Sum256(data),
	}, nil
}
