package ledger

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/flock/pkg/domain/model"
)

type memoryKey struct {
	repository  string
	transformID model.TransformID
}

// Memory is a ledger kept in process memory
type Memory struct {
	mu      sync.RWMutex
	entries map[memoryKey]*model.Outcome
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{entries: make(map[memoryKey]*model.Outcome)}
}

func (m *Memory) Record(ctx context.Context, repo *model.RepositoryRef, id model.TransformID, outcome *model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoryKey{repo.FullName(), id}] = cloneOutcome(outcome)
	return nil
}

func (m *Memory) Get(ctx context.Context, repo *model.RepositoryRef, id model.TransformID) (*model.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneOutcome(m.entries[memoryKey{repo.FullName(), id}]), nil
}

func (m *Memory) Summarize(ctx context.Context, id model.TransformID) (model.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := model.Summary{}
	for key, o := range m.entries {
		if key.transformID == id {
			summary[o.Kind]++
		}
	}
	return summary, nil
}

func (m *Memory) List(ctx context.Context, id model.TransformID) ([]*model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*model.LedgerEntry
	for key, o := range m.entries {
		if key.transformID != id {
			continue
		}
		entries = append(entries, &model.LedgerEntry{
			Repository:  key.repository,
			TransformID: key.transformID,
			Outcome:     cloneOutcome(o),
		})
	}
	slices.SortFunc(entries, func(a, b *model.LedgerEntry) int {
		return strings.Compare(a.Repository, b.Repository)
	})
	return entries, nil
}

func (m *Memory) Close() error { return nil }
