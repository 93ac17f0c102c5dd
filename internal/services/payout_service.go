package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/HetviBarot21/tippy-sub003/internal/engine"
	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
	"github.com/HetviBarot21/tippy-sub003/internal/worker"
)

// CompensationRequest asks the accounting/notification side to unwind a
// payout that terminally failed. Consumed externally.
type CompensationRequest struct {
	TransactionID string    `json:"transaction_id"`
	StaffRef      string    `json:"staff_ref"`
	Amount        int64     `json:"amount"`
	State         string    `json:"state"`
	ResultDesc    string    `json:"result_desc,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

type CompensationSink interface {
	Submit(ctx context.Context, req CompensationRequest) error
}

// AuditCompensationSink records compensation requests in the audit trail;
// a real accounting consumer replaces it in production wiring.
type AuditCompensationSink struct {
	Audit repo.AuditLogs
}

func (s *AuditCompensationSink) Submit(ctx context.Context, req CompensationRequest) error {
	id := req.TransactionID
	return s.Audit.Create(ctx, models.AuditLog{
		EntityType: "payout",
		EntityID:   &id,
		Action:     "compensation_requested",
		Details: map[string]any{
			"staff_ref":   req.StaffRef,
			"amount":      req.Amount,
			"state":       req.State,
			"result_desc": req.ResultDesc,
		},
	})
}

// PayoutService drives staff disbursements over the same state machine as
// tip payments, differing only in the gateway operation and the
// compensation hook on terminal failure.
type PayoutService struct {
	txns    repo.Transactions
	corr    repo.Correlations
	gw      gateway.Client
	machine *engine.Machine
	sink    CompensationSink
	wp      *worker.Pool
	log     *slog.Logger
}

func NewPayoutService(t repo.Transactions, c repo.Correlations, gw gateway.Client, m *engine.Machine, sink CompensationSink, wp *worker.Pool, log *slog.Logger) *PayoutService {
	s := &PayoutService{txns: t, corr: c, gw: gw, machine: m, sink: sink, wp: wp, log: log}
	m.OnTerminal(s.handleTerminal)
	return s
}

func (s *PayoutService) InitiatePayout(ctx context.Context, amount int64, staffAccount, remarks string) (InitiationResult, error) {
	if !amountValid(amount) {
		return InitiationResult{}, ErrAmountInvalid
	}

	tx, err := s.txns.Create(ctx, models.Transaction{
		Kind:            models.KindPayout,
		Amount:          amount,
		CounterpartyRef: staffAccount,
		State:           models.StateCreated,
	})
	if err != nil {
		return InitiationResult{}, err
	}
	if _, err := s.machine.Apply(ctx, tx.ID, engine.Event{Kind: engine.EventInitiate}); err != nil {
		return InitiationResult{}, err
	}

	ack, err := s.gw.InitiateBulkPayout(ctx, amount, staffAccount, remarks)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("b2c", "error").Inc()
		fctx := context.WithoutCancel(ctx)
		if _, aerr := s.machine.Apply(fctx, tx.ID, engine.Event{Kind: engine.EventInitiationFailed, Reason: err.Error()}); aerr != nil {
			s.log.Error("mark initiation failed", "tx", tx.ID, "err", aerr)
		}
		return InitiationResult{}, err
	}
	metrics.GatewayRequestsTotal.WithLabelValues("b2c", "ok").Inc()

	bctx := context.WithoutCancel(ctx)
	if err := s.corr.Put(bctx, ack.CorrelationID, tx.ID); err != nil {
		if errors.Is(err, repo.ErrDuplicateCorrelation) {
			s.log.Error("duplicate correlation id", "tx", tx.ID, "correlation_id", ack.CorrelationID)
		}
		return InitiationResult{}, err
	}
	tx, err = s.machine.Apply(bctx, tx.ID, engine.Event{Kind: engine.EventAccepted})
	if err != nil {
		return InitiationResult{}, err
	}
	return InitiationResult{Transaction: tx, CorrelationID: ack.CorrelationID}, nil
}

// handleTerminal emits a compensation request when a payout dies without
// paying out. Runs off the request path.
func (s *PayoutService) handleTerminal(tx models.Transaction) {
	if tx.Kind != models.KindPayout {
		return
	}
	if tx.State != models.StateFailed && tx.State != models.StateTimedOut {
		return
	}
	req := CompensationRequest{
		TransactionID: tx.ID,
		StaffRef:      tx.CounterpartyRef,
		Amount:        tx.Amount,
		State:         string(tx.State),
		RequestedAt:   time.Now(),
	}
	if tx.ProviderResult != nil {
		req.ResultDesc = tx.ProviderResult.ResultDesc
	}
	s.wp.Submit(func() {
		if err := s.sink.Submit(context.Background(), req); err != nil {
			s.log.Error("compensation submit", "tx", req.TransactionID, "err", err)
		}
	})
}
