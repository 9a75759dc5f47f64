package ports

import (
	"context"

	"rtcstats/internal/core/domain"
)

// DumpArchive stores a raw session dump compressed as key + ".gz". key is
// the final client id, so the object name equals the record's dump id.
type DumpArchive interface {
	Put(ctx context.Context, key, rawPath string) error
}

type UniquePersister interface {
	EnsureUniquePersist(ctx context.Context, meta domain.SessionMetadata) (domain.PersistResult, error)
}

// PersistMetrics receives the observability events of the persist pipeline.
type PersistMetrics interface {
	RecordStoreError()
	RecordDuplicateConflict()
	RecordPersistAttempts(attempts int)
	RecordSessionOutcome(outcome domain.PersistOutcome)
	RecordArchiveError()
}

// SessionProcessor runs one ended session through the ingestion pipeline.
type SessionProcessor interface {
	Process(ctx context.Context, sub domain.SessionSubmission) (domain.ProcessResult, error)
}

// SessionIngestor also takes batches of independent sessions. results[i]
// and errs[i] belong to subs[i].
type SessionIngestor interface {
	SessionProcessor
	ProcessBatch(ctx context.Context, subs []domain.SessionSubmission) ([]domain.ProcessResult, []error)
}

// SessionLookup lists the records stored for one base client id.
type SessionLookup interface {
	FindSessions(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error)
}

// EventPublisher announces processed sessions to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.SessionEvent) error
}
