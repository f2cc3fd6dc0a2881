// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/phasegate/phasegate/pkg/config"
	"github.com/phasegate/phasegate/pkg/gate"
	"github.com/phasegate/phasegate/pkg/phase"
	"github.com/phasegate/phasegate/pkg/telemetry"
)

type statusResult struct {
	SpanPath      string           `json:"span_path"`
	Spans         int              `json:"spans"`
	CounterPath   string           `json:"counter_path"`
	CounterTotals map[string]int64 `json:"counter_totals"`
	HistoryDriver string           `json:"history_driver"`
}

func runStatus(global globalFlags, cfg *config.Config) {
	spans, err := telemetry.ReadSpans(cfg.Audit.SpanPath)
	if err != nil {
		fatal(err)
	}
	totals, err := telemetry.CounterTotals(cfg.Audit.CounterPath)
	if err != nil {
		fatal(err)
	}

	result := statusResult{
		SpanPath:      cfg.Audit.SpanPath,
		Spans:         len(spans),
		CounterPath:   cfg.Audit.CounterPath,
		CounterTotals: totals,
		HistoryDriver: cfg.History.Driver,
	}

	if global.JSON {
		printJSON(result)
		return
	}

	fmt.Printf("spans: %d (%s)\n", result.Spans, result.SpanPath)
	fmt.Printf("history driver: %s\n", result.HistoryDriver)
	writer := newTabWriter()
	writeRow(writer, "COUNTER", "TOTAL")
	for _, name := range sortedCounterNames(totals) {
		writeRow(writer, name, fmt.Sprintf("%d", totals[name]))
	}
	writer.Flush()
}

func runCounters(global globalFlags, cfg *config.Config) {
	totals, err := telemetry.CounterTotals(cfg.Audit.CounterPath)
	if err != nil {
		fatal(err)
	}
	if global.JSON {
		printJSON(totals)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "COUNTER", "TOTAL")
	for _, name := range sortedCounterNames(totals) {
		writeRow(writer, name, fmt.Sprintf("%d", totals[name]))
	}
	writer.Flush()
}

func runHistory(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("history", flag.ContinueOnError)
	taskID := cmd.String("task", "", "filter by task id")
	outcome := cmd.String("outcome", "", "filter by outcome (committed, rejected)")
	limit := cmd.Int("limit", 0, "limit the number of events")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	if cfg.History.Driver != "sqlite" {
		fatal(fmt.Errorf("history requires history.driver=sqlite, configured driver is %q", cfg.History.Driver))
	}

	db, err := sql.Open("sqlite", cfg.History.DSN)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	store, err := gate.NewSQLiteHistoryStore(db)
	if err != nil {
		fatal(err)
	}

	events, err := store.List(ctx, gate.HistoryFilter{
		TaskID:  *taskID,
		Outcome: phase.TransitionOutcome(strings.ToLower(*outcome)),
		Limit:   *limit,
	})
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		printJSON(events)
		return
	}

	writer := newTabWriter()
	writeRow(writer, "TIME", "TASK", "FROM", "TO", "INTENT", "OUTCOME", "REASONS")
	for _, event := range events {
		writeRow(writer,
			formatTime(event.CreatedAt),
			event.TaskID,
			string(event.From),
			string(event.To),
			string(event.Intent),
			string(event.Outcome),
			strings.Join(event.Reasons, "; "),
		)
	}
	writer.Flush()
}

func runPhases(global globalFlags) {
	if global.JSON {
		out := make([]string, 0, len(phase.Order))
		for _, p := range phase.Order {
			out = append(out, string(p))
		}
		printJSON(out)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "#", "PHASE")
	for i, p := range phase.Order {
		writeRow(writer, fmt.Sprintf("%d", i+1), string(p))
	}
	writer.Flush()
}

func sortedCounterNames(totals map[string]int64) []string {
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
