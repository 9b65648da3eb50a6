package specsource

import (
	"context"
	"sort"
	"sync"

	"tokenwatch/internal/domain"
)

// MemorySource is an in-memory Source. It backs the reference binary and
// tests; a production deployment swaps in whatever the filter-management
// collaborator provides.
type MemorySource struct {
	mu    sync.RWMutex
	specs map[string]*domain.FilterSpec // keyed by spec ID
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		specs: make(map[string]*domain.FilterSpec),
	}
}

// Put inserts or replaces a spec.
func (s *MemorySource) Put(spec *domain.FilterSpec) error {
	if spec == nil || spec.ID == "" || spec.SubscriberID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	specCopy := *spec
	s.specs[spec.ID] = &specCopy
	return nil
}

// Deactivate soft-deletes a spec. Specs are never hard-deleted.
func (s *MemorySource) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[id]
	if !ok {
		return ErrNotFound
	}
	spec.IsActive = false
	return nil
}

// ListActiveSpecs returns copies of the active specs owned by the given
// subscribers, ordered by spec ID for determinism.
func (s *MemorySource) ListActiveSpecs(_ context.Context, subscriberIDs []string) ([]*domain.FilterSpec, error) {
	owners := make(map[string]struct{}, len(subscriberIDs))
	for _, id := range subscriberIDs {
		owners[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FilterSpec
	for _, spec := range s.specs {
		if !spec.IsActive {
			continue
		}
		if _, ok := owners[spec.SubscriberID]; !ok {
			continue
		}
		specCopy := *spec
		result = append(result, &specCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}
