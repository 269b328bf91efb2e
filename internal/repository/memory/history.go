// Package memory provides an in-process HistoryStore used when redis is
// not configured, and by tests.
package memory

import (
	"context"
	"sync"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/repository"
)

// HistoryStore keeps capped per-origin report lists in memory.
type HistoryStore struct {
	mu      sync.Mutex
	entries map[string][]domain.RunReport
}

// NewHistoryStore returns an empty store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{entries: make(map[string][]domain.RunReport)}
}

// Append prepends the report and drops entries beyond the cap.
func (h *HistoryStore) Append(_ context.Context, originKey string, report *domain.RunReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append([]domain.RunReport{*report}, h.entries[originKey]...)
	if len(list) > repository.HistoryCap {
		list = list[:repository.HistoryCap]
	}
	h.entries[originKey] = list
	return nil
}

// Read returns the newest-first history for an origin.
func (h *HistoryStore) Read(_ context.Context, originKey string) ([]domain.RunReport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.RunReport(nil), h.entries[originKey]...), nil
}
