package ports

import (
	"context"

	"rtcstats/internal/core/domain"
)

// MetadataStore persists session metadata behind a composite unique index.
// InsertOne must be an atomic check-and-insert and must report an index
// violation as domain.ErrDuplicateKey (wrapped or bare).
type MetadataStore interface {
	EnsureIndexes(ctx context.Context) error
	InsertOne(ctx context.Context, doc *domain.PersistedMetadata) error
	FindByBaseDumpID(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error)
}
