package postgres

import (
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	Transactions repo.Transactions
	Correlations repo.Correlations
	AuditLogs    repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions: &transactionsRepo{pool},
		Correlations: &correlationsRepo{pool},
		AuditLogs:    &auditLogsRepo{pool},
	}
}
