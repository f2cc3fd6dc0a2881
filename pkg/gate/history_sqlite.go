// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"

	"github.com/phasegate/phasegate/pkg/phase"
)

// SQLiteHistoryStore persists transition attempts in SQLite.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// NewSQLiteHistoryStore creates a SQLite-backed history store and ensures
// schema.
func NewSQLiteHistoryStore(db *sql.DB) (*SQLiteHistoryStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureHistorySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteHistoryStore{db: db}, nil
}

// Record stores a single transition attempt.
func (s *SQLiteHistoryStore) Record(ctx context.Context, event HistoryEvent) error {
	reasons, err := encodeReasons(event.Reasons)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO phase_transitions (
			task_id, from_phase, to_phase, intent, outcome, reasons_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.TaskID,
		string(event.From),
		string(event.To),
		string(event.Intent),
		string(event.Outcome),
		string(reasons),
		normalizeHistoryTime(event.CreatedAt),
	)
	return err
}

// List returns transition attempts matching the filter, strictly ordered by
// time then insertion so skip/backtrack audits can replay the sequence.
func (s *SQLiteHistoryStore) List(ctx context.Context, filter HistoryFilter) ([]HistoryEvent, error) {
	query := `
		SELECT task_id, from_phase, to_phase, intent, outcome, reasons_json, created_at
		FROM phase_transitions
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.TaskID != "" {
		addFilter("task_id = ?", filter.TaskID)
	}
	if filter.Outcome != "" {
		addFilter("outcome = ?", string(filter.Outcome))
	}
	query += where + " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []HistoryEvent
	for rows.Next() {
		var (
			event       HistoryEvent
			from, to    string
			intent      string
			outcome     string
			reasonsJSON string
			created     sql.NullTime
		)
		if err := rows.Scan(
			&event.TaskID,
			&from,
			&to,
			&intent,
			&outcome,
			&reasonsJSON,
			&created,
		); err != nil {
			return nil, err
		}
		event.From = phase.Phase(from)
		event.To = phase.Phase(to)
		event.Intent = Intent(intent)
		event.Outcome = phase.TransitionOutcome(outcome)
		if reasonsJSON != "" {
			if reasons, err := decodeReasons([]byte(reasonsJSON)); err == nil {
				event.Reasons = reasons
			}
		}
		if created.Valid {
			event.CreatedAt = created.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureHistorySchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS phase_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			from_phase TEXT NOT NULL,
			to_phase TEXT NOT NULL,
			intent TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reasons_json TEXT,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_phase_transitions_task ON phase_transitions(task_id);
		CREATE INDEX IF NOT EXISTS idx_phase_transitions_outcome ON phase_transitions(outcome);
	`)
	return err
}
