// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"

	"github.com/phasegate/phasegate/pkg/resilience"
)

// ResilientHistoryStore retries writes to a wrapped history store. SQLite
// under concurrent writers returns transient busy errors; a short retry
// absorbs them without the enforcer noticing.
type ResilientHistoryStore struct {
	next  HistoryStore
	retry resilience.RetryConfig
}

// NewResilientHistoryStore wraps next with the given retry policy.
func NewResilientHistoryStore(next HistoryStore, retry resilience.RetryConfig) *ResilientHistoryStore {
	return &ResilientHistoryStore{next: next, retry: retry}
}

// Record writes the event, retrying per policy.
func (s *ResilientHistoryStore) Record(ctx context.Context, event HistoryEvent) error {
	return s.retry.Do(ctx, func() error {
		return s.next.Record(ctx, event)
	})
}

// List delegates without retry; reads are interactive.
func (s *ResilientHistoryStore) List(ctx context.Context, filter HistoryFilter) ([]HistoryEvent, error) {
	return s.next.List(ctx, filter)
}
