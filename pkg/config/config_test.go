// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Errorf("expected default exporter stdout, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.History.Driver != "memory" {
		t.Errorf("expected default history driver memory, got %s", cfg.History.Driver)
	}
	if cfg.Audit.SpanPath != "audit/spans.jsonl" {
		t.Errorf("unexpected default span path %s", cfg.Audit.SpanPath)
	}
}

func TestLoadEnv(t *testing.T) {
	os.Setenv("PHASEGATE_HISTORY_DRIVER", "sqlite")
	defer os.Unsetenv("PHASEGATE_HISTORY_DRIVER")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.History.Driver != "sqlite" {
		t.Errorf("expected history driver sqlite from env, got %s", cfg.History.Driver)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: "debug"
  format: "json"
telemetry:
  enabled: true
  exporter: "otlp"
  otlp_endpoint: "localhost:4317"
history:
  driver: "sqlite"
  dsn: "/var/lib/phasegate/history.db"
evidence:
  policy_path: "policy.yaml"
attestation:
  instructions_dir: "/work/T1"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("unexpected telemetry config %+v", cfg.Telemetry)
	}
	if cfg.History.DSN != "/var/lib/phasegate/history.db" {
		t.Errorf("unexpected history dsn %s", cfg.History.DSN)
	}
	if cfg.Evidence.PolicyPath != "policy.yaml" {
		t.Errorf("unexpected policy path %s", cfg.Evidence.PolicyPath)
	}
	if cfg.Attestation.InstructionsDir != "/work/T1" {
		t.Errorf("unexpected instructions dir %s", cfg.Attestation.InstructionsDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Setenv("PHASEGATE_LOG_LEVEL", "warn")
	defer os.Unsetenv("PHASEGATE_LOG_LEVEL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected env to win, got %s", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
