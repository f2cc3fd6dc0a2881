// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"path/filepath"
	"testing"
)

func TestBootstrapWiresFileEmitter(t *testing.T) {
	dir := t.TempDir()
	p, err := Bootstrap("v0.0.1", Config{
		SpanPath:    filepath.Join(dir, "spans.jsonl"),
		CounterPath: filepath.Join(dir, "counters.jsonl"),
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, ok := p.Emitter.(*FileEmitter); !ok {
		t.Fatalf("emitter = %T, want *FileEmitter", p.Emitter)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestBootstrapWithoutStreamsDiscards(t *testing.T) {
	p, err := Bootstrap("v0.0.1", Config{})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, ok := p.Emitter.(NopEmitter); !ok {
		t.Fatalf("emitter = %T, want NopEmitter", p.Emitter)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestBootstrapStdoutSDK(t *testing.T) {
	p, err := Bootstrap("v0.0.1", Config{SDK: true})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestBootstrapRejectsUnknownExporter(t *testing.T) {
	if _, err := Bootstrap("v0.0.1", Config{SDK: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestBootstrapRequiresOTLPEndpoint(t *testing.T) {
	if _, err := Bootstrap("v0.0.1", Config{SDK: true, Exporter: "otlp"}); err == nil {
		t.Fatal("expected error when otlp endpoint missing")
	}
}
