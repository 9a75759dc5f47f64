package reliability

import (
	"context"
	"errors"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"
	"rtcstats/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// MetadataStoreWrapper guards a remote MetadataStore with a circuit breaker so
// an unreachable backend fails fast instead of stalling every upload for the
// full driver timeout. Duplicate key replies come from a healthy store and
// never trip the breaker.
type MetadataStoreWrapper struct {
	store   ports.MetadataStore
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

var _ ports.MetadataStore = (*MetadataStoreWrapper)(nil)

// NewMetadataStoreWrapper creates a new wrapper around store
func NewMetadataStoreWrapper(store ports.MetadataStore, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *MetadataStoreWrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cbConfig.IsFailure = func(err error) bool {
		return !errors.Is(err, domain.ErrDuplicateKey)
	}

	w := &MetadataStoreWrapper{
		store:   store,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("metadata store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *MetadataStoreWrapper) EnsureIndexes(ctx context.Context) error {
	return w.breaker.Execute(ctx, w.store.EnsureIndexes)
}

func (w *MetadataStoreWrapper) InsertOne(ctx context.Context, doc *domain.PersistedMetadata) error {
	return w.breaker.Execute(ctx, func(ctx context.Context) error {
		return w.store.InsertOne(ctx, doc)
	})
}

func (w *MetadataStoreWrapper) FindByBaseDumpID(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error) {
	return circuitbreaker.Execute(ctx, w.breaker, func(ctx context.Context) ([]*domain.PersistedMetadata, error) {
		return w.store.FindByBaseDumpID(ctx, baseDumpID)
	})
}

// State exposes the breaker state for health reporting.
func (w *MetadataStoreWrapper) State() circuitbreaker.State {
	return w.breaker.GetState()
}
