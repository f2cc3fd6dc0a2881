// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/phasegate/phasegate/pkg/phase"
)

// HistoryEvent is one persisted transition attempt, committed or rejected.
type HistoryEvent struct {
	TaskID    string
	From      phase.Phase
	To        phase.Phase
	Intent    Intent
	Outcome   phase.TransitionOutcome
	Reasons   []string
	CreatedAt time.Time
}

// HistoryStore persists transition attempts for audit queries. Writes are
// fire-and-forget from the enforcer's point of view: a failing store never
// blocks a transition.
type HistoryStore interface {
	Record(ctx context.Context, event HistoryEvent) error
	List(ctx context.Context, filter HistoryFilter) ([]HistoryEvent, error)
}

// HistoryFilter limits history queries.
type HistoryFilter struct {
	TaskID  string
	Outcome phase.TransitionOutcome
	Limit   int
}

// MemoryHistoryStore keeps history events in memory.
type MemoryHistoryStore struct {
	mu     sync.Mutex
	events []HistoryEvent
}

// NewMemoryHistoryStore returns an in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

// Record appends a history event.
func (s *MemoryHistoryStore) Record(_ context.Context, event HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered history events in insertion order.
func (s *MemoryHistoryStore) List(_ context.Context, filter HistoryFilter) ([]HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEvent, 0, len(s.events))
	for _, ev := range s.events {
		if filter.TaskID != "" && ev.TaskID != filter.TaskID {
			continue
		}
		if filter.Outcome != "" && ev.Outcome != filter.Outcome {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// encodeReasons marshals the reasons list into JSON.
func encodeReasons(reasons []string) ([]byte, error) {
	if reasons == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(reasons)
}

// decodeReasons parses a JSON reasons payload.
func decodeReasons(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeHistoryTime ensures timestamps are in UTC.
func normalizeHistoryTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
