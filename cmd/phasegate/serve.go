// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/phasegate/phasegate/pkg/attestation"
	"github.com/phasegate/phasegate/pkg/config"
	"github.com/phasegate/phasegate/pkg/evidence"
	"github.com/phasegate/phasegate/pkg/gate"
	phasemcp "github.com/phasegate/phasegate/pkg/mcp"
	"github.com/phasegate/phasegate/pkg/phase"
	"github.com/phasegate/phasegate/pkg/resilience"
	"github.com/phasegate/phasegate/pkg/telemetry"
)

func runServe(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	ensureNoArgs(args)

	// Logs go to stderr: stdout belongs to the MCP stdio transport.
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	pipeline, err := telemetry.Bootstrap("dev", telemetry.Config{
		SpanPath:     cfg.Audit.SpanPath,
		CounterPath:  cfg.Audit.CounterPath,
		SDK:          cfg.Telemetry.Enabled,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(err)
	}
	defer func() {
		if err := pipeline.Close(context.Background()); err != nil {
			slog.Warn("telemetry close", "error", err)
		}
	}()

	var history gate.HistoryStore = gate.NewMemoryHistoryStore()
	if cfg.History.Driver == "sqlite" {
		db, err := sql.Open("sqlite", cfg.History.DSN)
		if err != nil {
			fatal(err)
		}
		defer db.Close()
		sqliteStore, err := gate.NewSQLiteHistoryStore(db)
		if err != nil {
			fatal(err)
		}
		history = gate.NewResilientHistoryStore(sqliteStore, resilience.DefaultRetryConfig())
	}

	collector := evidence.NewCollector()
	applyPolicy := func(path string) {
		policy, err := evidence.LoadPolicy(path)
		if err != nil {
			slog.Error("evidence policy load failed", "path", path, "error", err)
			return
		}
		collector.ApplyPolicy(policy)
		slog.Info("evidence policy loaded", "path", path)
	}
	if cfg.Evidence.PolicyPath != "" {
		applyPolicy(cfg.Evidence.PolicyPath)
	}

	if global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath)
		if err != nil {
			fatal(err)
		}
		watcher.OnEvidencePolicy(applyPolicy)
		watcher.OnLogChange(func(lc config.LogConfig) {
			telemetry.ConfigureSlog(os.Stderr, lc.Level, lc.Format)
			slog.Info("log settings reloaded", "level", lc.Level, "format", lc.Format)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	monitor := attestation.NewMonitor(attestation.NewFileSource(cfg.Attestation.InstructionsDir))

	enforcer := gate.New(
		gate.WithEmitter(pipeline.Emitter),
		gate.WithMetrics(pipeline.Metrics),
		gate.WithHistoryStore(history),
		gate.WithEvidence(collector),
		gate.WithAttestation(monitor),
	)
	// The evidence requirements are the gate in the stock deployment;
	// stricter per-phase validators come in through the library API.
	for _, p := range phase.Order {
		if err := enforcer.RegisterValidator(p, gate.PassValidator); err != nil {
			fatal(err)
		}
	}

	server := phasemcp.NewServer(telemetry.ServiceName, "dev")
	phasemcp.RegisterGateTools(server, phasemcp.GateService{Enforcer: enforcer})

	slog.Info("serving gate tools on stdio",
		"history_driver", cfg.History.Driver,
		"span_path", cfg.Audit.SpanPath,
		"counter_path", cfg.Audit.CounterPath,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			fatal(err)
		}
	}
}
