// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"sync"

	"github.com/phasegate/phasegate/pkg/phase"
)

// CycleStore holds the authoritative cycle records for one enforcer.
// It is an explicit dependency injected at construction, never process-wide
// state: independent enforcers in tests get independent stores.
//
// The enforcer serializes all access per task; implementations only need to
// make the map operations themselves safe.
type CycleStore interface {
	Get(taskID string) (*phase.Cycle, bool)
	Put(cycle *phase.Cycle)
	TaskIDs() []string
}

// MemoryCycleStore keeps cycles in memory.
type MemoryCycleStore struct {
	mu     sync.RWMutex
	cycles map[string]*phase.Cycle
}

// NewMemoryCycleStore returns an empty in-memory store.
func NewMemoryCycleStore() *MemoryCycleStore {
	return &MemoryCycleStore{cycles: make(map[string]*phase.Cycle)}
}

// Get returns the cycle for a task.
func (s *MemoryCycleStore) Get(taskID string) (*phase.Cycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[taskID]
	return c, ok
}

// Put stores a cycle under its task id.
func (s *MemoryCycleStore) Put(cycle *phase.Cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[cycle.TaskID] = cycle
}

// TaskIDs lists every known task.
func (s *MemoryCycleStore) TaskIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cycles))
	for id := range s.cycles {
		out = append(out, id)
	}
	return out
}
