package repository

import (
	"context"
	"errors"

	"github.com/HetviBarot21/tippy-sub003/internal/models"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrVersionConflict      = errors.New("version conflict")
	ErrDuplicateCorrelation = errors.New("correlation id already bound")
)

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	List(ctx context.Context, kind models.TransactionKind, limit, offset int) ([]models.Transaction, error)

	// UpdateStateCAS writes state/provider_result only if the stored version
	// still matches; ErrVersionConflict means the caller lost the race and
	// must re-read. This is the per-transaction serialization point.
	UpdateStateCAS(ctx context.Context, id string, version int, state models.TransactionState, result *models.ProviderResult) (models.Transaction, error)

	IncrementAttempts(ctx context.Context, id string) error
}

// Correlations binds provider correlation IDs to transactions. The unique
// index on correlation_id is the idempotency guard for inbound callbacks.
type Correlations interface {
	Put(ctx context.Context, correlationID, txID string) error
	Resolve(ctx context.Context, correlationID string) (string, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
