package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/HetviBarot21/tippy-sub003/internal/engine"
	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
)

// Amounts are minor units and the provider only charges whole shillings,
// so anything that would truncate on conversion is refused up front.
var ErrAmountInvalid = errors.New("amount must be a positive multiple of 100 minor units")

func amountValid(amount int64) bool { return amount > 0 && amount%100 == 0 }

// InitiationResult is what the entry point hands back once the provider
// has acknowledged a request.
type InitiationResult struct {
	Transaction       models.Transaction
	CorrelationID     string
	AcceptanceMessage string
}

// PaymentService orchestrates tip payment initiation: create the record,
// call the gateway without holding any row lock, bind the correlation ID,
// then hand the rest of the lifecycle to callbacks and polling.
type PaymentService struct {
	txns    repo.Transactions
	corr    repo.Correlations
	gw      gateway.Client
	machine *engine.Machine
	log     *slog.Logger
}

func NewPaymentService(t repo.Transactions, c repo.Correlations, gw gateway.Client, m *engine.Machine, log *slog.Logger) *PaymentService {
	return &PaymentService{txns: t, corr: c, gw: gw, machine: m, log: log}
}

func (s *PaymentService) InitiateTip(ctx context.Context, amount int64, phone, accountRef string) (InitiationResult, error) {
	if !amountValid(amount) {
		return InitiationResult{}, ErrAmountInvalid
	}

	tx, err := s.txns.Create(ctx, models.Transaction{
		Kind:            models.KindTipPayment,
		Amount:          amount,
		CounterpartyRef: phone,
		State:           models.StateCreated,
	})
	if err != nil {
		return InitiationResult{}, err
	}
	if _, err := s.machine.Apply(ctx, tx.ID, engine.Event{Kind: engine.EventInitiate}); err != nil {
		return InitiationResult{}, err
	}

	// remote call happens outside any per-transaction lock
	ack, err := s.gw.InitiatePush(ctx, amount, phone, accountRef)
	if err != nil {
		return InitiationResult{}, s.failInitiation(ctx, tx.ID, "stk_push", err)
	}
	metrics.GatewayRequestsTotal.WithLabelValues("stk_push", "ok").Inc()

	tx, err = s.bind(ctx, tx.ID, ack.CorrelationID)
	if err != nil {
		return InitiationResult{}, err
	}
	return InitiationResult{
		Transaction:       tx,
		CorrelationID:     ack.CorrelationID,
		AcceptanceMessage: ack.AcceptanceMessage,
	}, nil
}

// failInitiation marks a transaction failed when the gateway errors before
// a correlation ID was bound, so no dangling initiating record survives.
func (s *PaymentService) failInitiation(ctx context.Context, txID, op string, cause error) error {
	metrics.GatewayRequestsTotal.WithLabelValues(op, "error").Inc()
	ctx = context.WithoutCancel(ctx)
	if _, err := s.machine.Apply(ctx, txID, engine.Event{Kind: engine.EventInitiationFailed, Reason: cause.Error()}); err != nil {
		s.log.Error("mark initiation failed", "tx", txID, "err", err)
	}
	return cause
}

func (s *PaymentService) bind(ctx context.Context, txID, correlationID string) (models.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.corr.Put(ctx, correlationID, txID); err != nil {
		if errors.Is(err, repo.ErrDuplicateCorrelation) {
			// data-integrity violation, never silently dropped
			s.log.Error("duplicate correlation id", "tx", txID, "correlation_id", correlationID)
		}
		return models.Transaction{}, err
	}
	return s.machine.Apply(ctx, txID, engine.Event{Kind: engine.EventAccepted})
}

func (s *PaymentService) Get(ctx context.Context, id string) (models.Transaction, error) {
	return s.txns.GetByID(ctx, id)
}

func (s *PaymentService) List(ctx context.Context, kind models.TransactionKind, limit, offset int) ([]models.Transaction, error) {
	return s.txns.List(ctx, kind, limit, offset)
}
