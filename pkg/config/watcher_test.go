// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcherFiresLogHookOnLevelChange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, "log:\n  level: info\n")

	w, err := NewWatcher(configPath, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if w.Config().Log.Level != "info" {
		t.Fatalf("initial level = %q, want info", w.Config().Log.Level)
	}

	logs := make(chan LogConfig, 1)
	w.OnLogChange(func(lc LogConfig) { logs <- lc })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, configPath, "log:\n  level: debug\n")

	select {
	case lc := <-logs:
		if lc.Level != "debug" {
			t.Fatalf("level = %q, want debug", lc.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for log hook")
	}
}

func TestWatcherFiresPolicyHookOnPolicyEdit(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	writeFile(t, policyPath, "phases: {}\n")

	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, "evidence:\n  policy_path: "+policyPath+"\n")

	w, err := NewWatcher(configPath, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	paths := make(chan string, 1)
	w.OnEvidencePolicy(func(p string) { paths <- p })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	// Editing the policy file alone, without touching the config, reloads.
	writeFile(t, policyPath, "phases:\n  VERIFY:\n    min_tests: 5\n")

	select {
	case p := <-paths:
		if p != policyPath {
			t.Fatalf("policy path = %q, want %q", p, policyPath)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for policy hook")
	}
}

func TestWatcherUnrelatedChangeSkipsHooks(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, "log:\n  level: info\nhistory:\n  driver: memory\n")

	w, err := NewWatcher(configPath, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	fired := make(chan struct{}, 2)
	w.OnLogChange(func(LogConfig) { fired <- struct{}{} })
	w.OnEvidencePolicy(func(string) { fired <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, configPath, "log:\n  level: info\nhistory:\n  driver: sqlite\n")

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case <-fired:
			t.Fatal("hook fired for a section it does not cover")
		case <-deadline:
			if w.Config().History.Driver != "sqlite" {
				t.Fatalf("config not reloaded, driver = %q", w.Config().History.Driver)
			}
			return
		}
	}
}

func TestWatcherStops(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, "log: {}\n")

	w, err := NewWatcher(configPath, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.Start(context.Background())

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher.Stop() did not complete in time")
	}
}
