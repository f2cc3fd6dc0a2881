// SPDX-License-Identifier: Apache-2.0

// Package config loads phasegate configuration from YAML files and the
// PHASEGATE_ environment, file values overriding defaults and environment
// overriding both.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Audit       AuditConfig       `koanf:"audit"`
	History     HistoryConfig     `koanf:"history"`
	Evidence    EvidenceConfig    `koanf:"evidence"`
	Attestation AttestationConfig `koanf:"attestation"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// AuditConfig locates the append-only JSONL streams.
type AuditConfig struct {
	SpanPath    string `koanf:"span_path"`
	CounterPath string `koanf:"counter_path"`
}

type HistoryConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
}

type EvidenceConfig struct {
	// PolicyPath points at an optional YAML file overriding the per-phase
	// evidence requirements.
	PolicyPath string `koanf:"policy_path"`
}

type AttestationConfig struct {
	// InstructionsDir is where the AGENTS.md walk-up starts. Empty means
	// the process working directory.
	InstructionsDir string `koanf:"instructions_dir"`
}

// Load reads configuration from an optional YAML file and the environment.
// PHASEGATE_HISTORY_DRIVER maps to history.driver and so on.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.otlp_insecure", true)

	k.Set("audit.span_path", "audit/spans.jsonl")
	k.Set("audit.counter_path", "audit/counters.jsonl")

	k.Set("history.driver", "memory")
	k.Set("history.dsn", "phasegate.db")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (PHASEGATE_HISTORY_DRIVER -> history.driver)
	if err := k.Load(env.Provider("PHASEGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "PHASEGATE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
