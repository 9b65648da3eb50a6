// Package specsource is the boundary to the filter-management
// collaborator. The core only ever reads specs; creation, editing, and
// soft deletion belong to the collaborator.
package specsource

import (
	"context"
	"errors"

	"tokenwatch/internal/domain"
)

// Source errors.
var (
	// ErrNotFound is returned when a requested spec does not exist.
	ErrNotFound = errors.New("spec not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Source lists the active filter specs owned by the given subscribers.
type Source interface {
	ListActiveSpecs(ctx context.Context, subscriberIDs []string) ([]*domain.FilterSpec, error)
}
