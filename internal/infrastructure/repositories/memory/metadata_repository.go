package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"
)

// MemoryMetadataRepository keeps metadata documents in process. The composite
// unique key is checked and claimed under one lock.
type MemoryMetadataRepository struct {
	docs map[string]*domain.PersistedMetadata
	mu   sync.RWMutex
}

func NewMemoryMetadataRepository() *MemoryMetadataRepository {
	return &MemoryMetadataRepository{
		docs: make(map[string]*domain.PersistedMetadata),
	}
}

var _ ports.MetadataStore = (*MemoryMetadataRepository)(nil)

func (r *MemoryMetadataRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

func (r *MemoryMetadataRepository) InsertOne(ctx context.Context, doc *domain.PersistedMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := doc.CompositeKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[key]; exists {
		return fmt.Errorf("metadata %s: %w", doc.DumpID, domain.ErrDuplicateKey)
	}

	stored := *doc
	r.docs[key] = &stored
	return nil
}

func (r *MemoryMetadataRepository) FindByBaseDumpID(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.PersistedMetadata
	for _, doc := range r.docs {
		if doc.BaseDumpID == baseDumpID {
			found := *doc
			result = append(result, &found)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DumpID < result[j].DumpID
	})
	return result, nil
}

// Len returns the number of stored documents.
func (r *MemoryMetadataRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
