// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file and the evidence policy file it points at,
// and fires typed hooks for the two things a running gate can act on
// without a restart: the evidence policy and the log settings. Everything
// else (history driver, audit paths, exporters) is wired at startup and a
// reload cannot rewire it.
type Watcher struct {
	mu          sync.RWMutex
	configPath  string
	interval    time.Duration
	modTimes    map[string]time.Time
	current     *Config
	policyHooks []func(policyPath string)
	logHooks    []func(LogConfig)
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher loads the config at configPath and prepares to watch it. The
// evidence policy file named by the config is watched too, so editing the
// policy alone triggers a reload.
func NewWatcher(configPath string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		configPath: configPath,
		interval:   time.Second,
		modTimes:   make(map[string]time.Time),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	w.current = cfg

	for _, path := range w.watchedFiles() {
		if info, err := os.Stat(path); err == nil {
			w.modTimes[path] = info.ModTime()
		}
	}
	return w, nil
}

// OnEvidencePolicy registers a hook fired with the policy path whenever the
// evidence policy file, or the config key naming it, changes.
func (w *Watcher) OnEvidencePolicy(fn func(policyPath string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.policyHooks = append(w.policyHooks, fn)
}

// OnLogChange registers a hook fired when the log section changes.
func (w *Watcher) OnLogChange(fn func(LogConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logHooks = append(w.logHooks, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching for changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// watchedFiles is the config file plus the policy file the current config
// names. Callers hold w.mu or own w exclusively.
func (w *Watcher) watchedFiles() []string {
	paths := []string{w.configPath}
	if p := w.current.Evidence.PolicyPath; p != "" {
		paths = append(paths, p)
	}
	return paths
}

func (w *Watcher) poll() {
	w.mu.Lock()
	changed := false
	policyTouched := false
	for _, path := range w.watchedFiles() {
		info, err := os.Stat(path)
		if err != nil {
			// Deleted or not yet created; keep polling.
			continue
		}
		last, seen := w.modTimes[path]
		if !seen || info.ModTime().After(last) {
			w.modTimes[path] = info.ModTime()
			changed = true
			if path != w.configPath {
				policyTouched = true
			}
		}
	}
	if !changed {
		w.mu.Unlock()
		return
	}

	prev := w.current
	cfg, err := Load(w.configPath)
	if err != nil {
		w.mu.Unlock()
		w.logger.Error("config reload failed", "path", w.configPath, "error", err)
		return
	}
	w.current = cfg
	policyHooks := append(([]func(string))(nil), w.policyHooks...)
	logHooks := append(([]func(LogConfig))(nil), w.logHooks...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.configPath)

	if cfg.Log != prev.Log {
		for _, fn := range logHooks {
			fn(cfg.Log)
		}
	}
	if (policyTouched || cfg.Evidence.PolicyPath != prev.Evidence.PolicyPath) && cfg.Evidence.PolicyPath != "" {
		for _, fn := range policyHooks {
			fn(cfg.Evidence.PolicyPath)
		}
	}
}
