// Package memory holds map-backed repositories with the same semantics as
// the postgres ones, including version-checked state writes. Used by tests
// and local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
	"github.com/google/uuid"
)

type Transactions struct {
	mu  sync.Mutex
	txs map[string]models.Transaction
}

func NewTransactions() *Transactions {
	return &Transactions{txs: make(map[string]models.Transaction)}
}

func copyTx(tx models.Transaction) models.Transaction {
	out := tx
	if tx.CorrelationID != nil {
		v := *tx.CorrelationID
		out.CorrelationID = &v
	}
	if tx.ProviderResult != nil {
		v := *tx.ProviderResult
		out.ProviderResult = &v
	}
	return out
}

func (r *Transactions) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx.Version = 0
	r.txs[tx.ID] = copyTx(tx)
	return copyTx(tx), nil
}

func (r *Transactions) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return copyTx(tx), nil
}

func (r *Transactions) List(ctx context.Context, kind models.TransactionKind, limit, offset int) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, tx := range r.txs {
		if kind != "" && tx.Kind != kind {
			continue
		}
		out = append(out, copyTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *Transactions) UpdateStateCAS(ctx context.Context, id string, version int, state models.TransactionState, result *models.ProviderResult) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	if tx.Version != version {
		return models.Transaction{}, repo.ErrVersionConflict
	}
	tx.State = state
	if result != nil {
		v := *result
		tx.ProviderResult = &v
	}
	tx.Version++
	tx.UpdatedAt = time.Now()
	r.txs[id] = copyTx(tx)
	return copyTx(tx), nil
}

func (r *Transactions) IncrementAttempts(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return repo.ErrNotFound
	}
	tx.AttemptCount++
	r.txs[id] = tx
	return nil
}

// Correlations mirrors the unique-index guard: one correlation ID maps to
// exactly one transaction, ever.
type Correlations struct {
	mu     sync.Mutex
	byCorr map[string]string
	txns   *Transactions
}

func NewCorrelations(txns *Transactions) *Correlations {
	return &Correlations{byCorr: make(map[string]string), txns: txns}
}

func (r *Correlations) Put(ctx context.Context, correlationID, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bound, ok := r.byCorr[correlationID]; ok {
		if bound == txID {
			return nil
		}
		return repo.ErrDuplicateCorrelation
	}

	r.txns.mu.Lock()
	tx, ok := r.txns.txs[txID]
	if !ok {
		r.txns.mu.Unlock()
		return repo.ErrNotFound
	}
	if tx.CorrelationID != nil && *tx.CorrelationID != correlationID {
		r.txns.mu.Unlock()
		return repo.ErrDuplicateCorrelation
	}
	cid := correlationID
	tx.CorrelationID = &cid
	tx.UpdatedAt = time.Now()
	r.txns.txs[txID] = tx
	r.txns.mu.Unlock()

	r.byCorr[correlationID] = txID
	return nil
}

func (r *Correlations) Resolve(ctx context.Context, correlationID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCorr[correlationID]
	if !ok {
		return "", repo.ErrNotFound
	}
	return id, nil
}

type AuditLogs struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func NewAuditLogs() *AuditLogs { return &AuditLogs{} }

func (r *AuditLogs) Create(ctx context.Context, l models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.CreatedAt = time.Now()
	r.entries = append(r.entries, l)
	return nil
}

func (r *AuditLogs) Entries() []models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditLog, len(r.entries))
	copy(out, r.entries)
	return out
}
