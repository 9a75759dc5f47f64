package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"
	apperrors "rtcstats/pkg/errors"
	"rtcstats/pkg/retry"
	"rtcstats/pkg/tracing"
	"rtcstats/pkg/validation"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultPersistRetry bounds the collision loop of EnsureUniquePersist.
func DefaultPersistRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 16
	cfg.InitialDelay = 5 * time.Millisecond
	cfg.MaxDelay = 500 * time.Millisecond
	return cfg
}

// MetadataService stores session metadata so that a logical session is never
// recorded twice, deriving a fresh client id whenever the store reports a
// collision on the composite unique key.
type MetadataService struct {
	store   ports.MetadataStore
	retry   retry.Config
	metrics ports.PersistMetrics
	logger  *zap.SugaredLogger
}

var (
	_ ports.UniquePersister = (*MetadataService)(nil)
	_ ports.SessionLookup   = (*MetadataService)(nil)
)

func NewMetadataService(store ports.MetadataStore, retryCfg retry.Config, metrics ports.PersistMetrics, logger *zap.SugaredLogger) *MetadataService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MetadataService{
		store:   store,
		retry:   retryCfg,
		metrics: metrics,
		logger:  logger,
	}
}

// EnsureUniquePersist inserts meta, retrying under base_1, base_2, ... while
// the store reports duplicate keys. The returned error is nil only when the
// record was stored; it is an *errors.AppError otherwise.
func (s *MetadataService) EnsureUniquePersist(ctx context.Context, meta domain.SessionMetadata) (domain.PersistResult, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "insert_unique", "metadata")
	defer span.End()

	result := domain.PersistResult{
		Outcome:  domain.OutcomeFailed,
		ClientID: meta.ClientID,
	}

	if meta.ClientID == "" {
		return result, apperrors.WrapError(domain.ErrMissingClientID, apperrors.ErrCodeInvalidInput, "client id is required", http.StatusBadRequest)
	}
	if meta.ConferenceID == "" {
		return result, apperrors.WrapError(domain.ErrMissingConferenceID, apperrors.ErrCodeInvalidInput, "conference id is required", http.StatusBadRequest)
	}

	baseClientID, order := domain.SplitClientID(meta.ClientID)
	result.BaseDumpID = baseClientID
	currentClientID := meta.ClientID

	cfg := s.retry
	cfg.Retryable = func(err error) bool {
		return errors.Is(err, domain.ErrDuplicateKey)
	}
	cfg.OnRetry = func(attempt int, err error) {
		order++
		s.logger.Warnw("duplicate client id, incrementing reconnect order",
			"client_id", currentClientID,
			"next_client_id", domain.JoinClientID(baseClientID, order),
			"attempt", attempt,
		)
		currentClientID = domain.JoinClientID(baseClientID, order)
	}

	_, err := retry.DoWithResult(ctx, cfg, func(attempt int) (struct{}, error) {
		result.Attempts = attempt
		result.ClientID = currentClientID
		result.DumpID = domain.DumpID(currentClientID)

		doc := buildCandidate(meta, baseClientID, currentClientID)
		if err := s.store.InsertOne(ctx, doc); err != nil {
			if errors.Is(err, domain.ErrDuplicateKey) {
				s.metrics.RecordDuplicateConflict()
				return struct{}{}, err
			}
			s.metrics.RecordStoreError()
			s.logger.Errorw("failed to save session metadata",
				"client_id", currentClientID,
				"conference_id", doc.ConferenceID,
				"error", err,
			)
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	s.metrics.RecordPersistAttempts(result.Attempts)
	tracing.AddSpanAttributes(ctx,
		attribute.String("client.id", result.ClientID),
		attribute.Int("persist.attempts", result.Attempts),
	)

	switch {
	case err == nil:
		result.Outcome = domain.OutcomeStored
		s.logger.Infow("saved session metadata",
			"client_id", result.ClientID,
			"dump_id", result.DumpID,
			"attempts", result.Attempts,
		)
		return result, nil

	case errors.Is(err, retry.ErrMaxAttempts) && errors.Is(err, domain.ErrDuplicateKey):
		result.Outcome = domain.OutcomeExhausted
		tracing.RecordError(ctx, err)
		s.logger.Errorw("gave up looking for a free client id",
			"base_client_id", baseClientID,
			"last_client_id", result.ClientID,
			"attempts", result.Attempts,
		)
		return result, apperrors.NewRetriesExhaustedError(fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, err), result.Attempts)

	default:
		tracing.RecordError(ctx, err)
		return result, apperrors.NewPersistFailedError(err).WithContext("client_id", result.ClientID)
	}
}

// FindSessions lists the records stored under baseDumpID, ordered by dump id.
// A store failure is reported as SERVICE_UNAVAILABLE.
func (s *MetadataService) FindSessions(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "find_by_base", "metadata")
	defer span.End()

	if err := validation.ValidateFileSafeID(baseDumpID, "baseDumpId", maxClientIDLength); err != nil {
		return nil, invalidInput(err)
	}
	if strings.Contains(baseDumpID, domain.ClientIDSeparator) {
		return nil, apperrors.NewInvalidInputError("baseDumpId must not contain " + domain.ClientIDSeparator)
	}

	docs, err := s.store.FindByBaseDumpID(ctx, baseDumpID)
	if err != nil {
		s.metrics.RecordStoreError()
		tracing.RecordError(ctx, err)
		s.logger.Errorw("failed to list session metadata",
			"base_dump_id", baseDumpID,
			"error", err,
		)
		return nil, apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "metadata store unavailable", http.StatusServiceUnavailable)
	}
	return docs, nil
}

// buildCandidate derives the document for one insert attempt. meta itself is
// never modified.
func buildCandidate(meta domain.SessionMetadata, baseClientID, clientID string) *domain.PersistedMetadata {
	doc := &domain.PersistedMetadata{
		SessionMetadata: meta,
		BaseDumpID:      baseClientID,
		DumpID:          domain.DumpID(clientID),
	}
	doc.ClientID = clientID
	doc.ConferenceID = strings.ToLower(meta.ConferenceID)
	doc.ConferenceURL = strings.ToLower(meta.ConferenceURL)
	return doc
}

type noopMetrics struct{}

func (noopMetrics) RecordStoreError()                         {}
func (noopMetrics) RecordDuplicateConflict()                  {}
func (noopMetrics) RecordPersistAttempts(int)                 {}
func (noopMetrics) RecordSessionOutcome(domain.PersistOutcome) {}
func (noopMetrics) RecordArchiveError()                       {}
