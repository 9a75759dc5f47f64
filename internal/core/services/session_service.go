package services

import (
	"context"
	"fmt"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"
	"rtcstats/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SessionService runs an ended session through aggregation, unique metadata
// persistence and dump archival.
type SessionService struct {
	aggregator *StatsAggregator
	persister  ports.UniquePersister
	archive    ports.DumpArchive
	metrics    ports.PersistMetrics
	events     ports.EventPublisher
	logger     *zap.SugaredLogger
	workers    int
}

var _ ports.SessionIngestor = (*SessionService)(nil)

func NewSessionService(
	aggregator *StatsAggregator,
	persister ports.UniquePersister,
	archive ports.DumpArchive,
	metrics ports.PersistMetrics,
	logger *zap.SugaredLogger,
	workers int,
) *SessionService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if workers < 1 {
		workers = 1
	}
	return &SessionService{
		aggregator: aggregator,
		persister:  persister,
		archive:    archive,
		metrics:    metrics,
		logger:     logger,
		workers:    workers,
	}
}

// SetEventPublisher makes Process announce every processed session.
func (s *SessionService) SetEventPublisher(events ports.EventPublisher) {
	s.events = events
}

// Process aggregates and stores one session. The dump is archived only after
// its metadata record is stored; a failed archive write leaves the record in
// place and is reported through ProcessResult.ArchiveErr.
func (s *SessionService) Process(ctx context.Context, sub domain.SessionSubmission) (domain.ProcessResult, error) {
	ctx, span := tracing.StartSpan(ctx, "session.process")
	defer span.End()

	result, err := s.process(ctx, sub)
	s.publish(ctx, sub.SessionMetadata, result, err)
	return result, err
}

func (s *SessionService) publish(ctx context.Context, meta domain.SessionMetadata, result domain.ProcessResult, err error) {
	if s.events == nil {
		return
	}
	event := domain.NewSessionEvent(meta, result, err)
	if pubErr := s.events.Publish(ctx, &event); pubErr != nil {
		s.logger.Warnw("failed to publish session event",
			"type", event.Type,
			"client_id", event.ClientID,
			"error", pubErr,
		)
	}
}

func (s *SessionService) process(ctx context.Context, sub domain.SessionSubmission) (domain.ProcessResult, error) {
	if err := validateMetadata(sub.SessionMetadata); err != nil {
		return domain.ProcessResult{Persist: domain.PersistResult{
			Outcome:  domain.OutcomeFailed,
			ClientID: sub.ClientID,
		}}, err
	}

	aggregates := s.aggregator.CalculateAggregates(sub.Stats)
	result := domain.ProcessResult{Aggregates: aggregates}

	meta := sub.SessionMetadata
	meta.Aggregates = aggregates

	persisted, err := s.persister.EnsureUniquePersist(ctx, meta)
	result.Persist = persisted
	s.metrics.RecordSessionOutcome(persisted.Outcome)
	if err != nil {
		s.logger.Errorw("session metadata not stored",
			"client_id", sub.ClientID,
			"outcome", persisted.Outcome,
			"attempts", persisted.Attempts,
			"error", err,
		)
		return result, err
	}

	if sub.DumpPath == "" || s.archive == nil {
		return result, nil
	}

	if err := s.archive.Put(ctx, persisted.ClientID, sub.DumpPath); err != nil {
		s.metrics.RecordArchiveError()
		tracing.RecordError(ctx, err)
		result.ArchiveErr = fmt.Errorf("%w: %s: %v", domain.ErrArchiveFailed, persisted.DumpID, err)
		s.logger.Errorw("metadata stored but dump archive failed",
			"client_id", persisted.ClientID,
			"dump_id", persisted.DumpID,
			"error", err,
		)
		return result, nil
	}

	result.Archived = true
	return result, nil
}

// ProcessBatch processes independent sessions concurrently with at most
// workers in flight. results[i] and errs[i] belong to subs[i].
func (s *SessionService) ProcessBatch(ctx context.Context, subs []domain.SessionSubmission) ([]domain.ProcessResult, []error) {
	results := make([]domain.ProcessResult, len(subs))
	errs := make([]error, len(subs))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range subs {
		i := i
		g.Go(func() error {
			results[i], errs[i] = s.Process(ctx, subs[i])
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}
