package postgres

import (
	"context"
	"errors"

	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// correlationsRepo rides on the transactions table: the partial unique index
// on correlation_id gives the atomic check-and-set the ingestion path needs.
type correlationsRepo struct{ pool *pgxpool.Pool }

func (r *correlationsRepo) Put(ctx context.Context, correlationID, txID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE transactions
		    SET correlation_id=$2, updated_at=now()
		  WHERE id=$1 AND (correlation_id IS NULL OR correlation_id=$2)`,
		txID, correlationID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repo.ErrDuplicateCorrelation
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := (&transactionsRepo{r.pool}).GetByID(ctx, txID); gerr != nil {
			return gerr
		}
		// transaction exists but is already bound to a different ID
		return repo.ErrDuplicateCorrelation
	}
	return nil
}

func (r *correlationsRepo) Resolve(ctx context.Context, correlationID string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM transactions WHERE correlation_id=$1`, correlationID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", repo.ErrNotFound
	}
	return id, err
}
