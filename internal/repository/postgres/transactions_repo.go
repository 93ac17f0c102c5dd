package postgres

import (
	"context"
	"errors"

	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txCols = `id, kind, amount, counterparty_ref, correlation_id, state, provider_result, attempt_count, version, created_at, updated_at`

func scanTx(row pgx.Row) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID, &tx.Kind, &tx.Amount, &tx.CounterpartyRef, &tx.CorrelationID,
		&tx.State, &tx.ProviderResult, &tx.AttemptCount, &tx.Version,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	const q = `
INSERT INTO transactions (id, kind, amount, counterparty_ref, state)
VALUES ($1,$2,$3,$4,$5)
RETURNING ` + txCols
	return scanTx(r.pool.QueryRow(ctx, q, tx.ID, tx.Kind, tx.Amount, tx.CounterpartyRef, tx.State))
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return scanTx(r.pool.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE id=$1`, id))
}

func (r *transactionsRepo) List(ctx context.Context, kind models.TransactionKind, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txCols+`
		   FROM transactions
		  WHERE ($1 = '' OR kind = $1)
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		string(kind), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *transactionsRepo) UpdateStateCAS(ctx context.Context, id string, version int, state models.TransactionState, result *models.ProviderResult) (models.Transaction, error) {
	const q = `
UPDATE transactions
   SET state=$3, provider_result=$4, version=version+1, updated_at=now()
 WHERE id=$1 AND version=$2
RETURNING ` + txCols
	tx, err := scanTx(r.pool.QueryRow(ctx, q, id, version, state, result))
	if errors.Is(err, repo.ErrNotFound) {
		// row exists but version moved, or no row at all
		if _, gerr := r.GetByID(ctx, id); gerr == nil {
			return models.Transaction{}, repo.ErrVersionConflict
		}
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE transactions SET attempt_count=attempt_count+1 WHERE id=$1`, id)
	return err
}
