package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
)

// Reconciler is the pull path: on a client status query it converges the
// stored record toward the provider's live answer. One gateway query per
// invocation; polling cadence belongs to the caller.
type Reconciler struct {
	txns        repo.Transactions
	gw          gateway.Client
	machine     *Machine
	maxAttempts int
	log         *slog.Logger
}

func NewReconciler(txns repo.Transactions, gw gateway.Client, m *Machine, log *slog.Logger) *Reconciler {
	return &Reconciler{txns: txns, gw: gw, machine: m, maxAttempts: 10, log: log}
}

func (r *Reconciler) Reconcile(ctx context.Context, txID string) (models.Transaction, error) {
	tx, err := r.txns.GetByID(ctx, txID)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.State.Terminal() {
		return tx, nil
	}
	if tx.CorrelationID == nil {
		// initiation has not bound an ID yet, nothing to query
		return tx, nil
	}
	if tx.AttemptCount >= r.maxAttempts {
		r.log.Warn("poll budget exhausted", "tx", tx.ID, "attempts", tx.AttemptCount)
		return tx, nil
	}

	// the caller may disconnect mid-query; the transition must still
	// commit, the money may already have moved
	ctx = context.WithoutCancel(ctx)

	if err := r.txns.IncrementAttempts(ctx, tx.ID); err != nil {
		r.log.Error("attempt count", "tx", tx.ID, "err", err)
	}
	metrics.ReconcileQueriesTotal.Inc()

	st, err := r.gw.QueryStatus(ctx, tx.Kind, *tx.CorrelationID)
	if err != nil {
		var ge *gateway.Error
		if errors.As(err, &ge) && ge.Kind == gateway.Unknown {
			r.log.Warn("unparseable status response", "tx", tx.ID, "err", err)
			return tx, nil
		}
		return tx, err
	}
	if st.Pending {
		return tx, nil
	}

	return r.machine.Apply(ctx, tx.ID, Event{Kind: EventResult, Result: &models.ProviderResult{
		ResultCode:    st.ResultCode,
		ResultDesc:    st.ResultDesc,
		ReceiptNumber: st.ReceiptNumber,
		SettledAmount: st.SettledAmount,
	}})
}
