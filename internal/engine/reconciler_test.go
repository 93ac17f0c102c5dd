package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
)

type stubGateway struct {
	queries  atomic.Int64
	lastKind models.TransactionKind
	status   gateway.StatusResult
	err      error
}

func (g *stubGateway) InitiatePush(ctx context.Context, amount int64, phone, accountRef string) (gateway.PushAck, error) {
	return gateway.PushAck{}, nil
}

func (g *stubGateway) InitiateBulkPayout(ctx context.Context, amount int64, account, remarks string) (gateway.PayoutAck, error) {
	return gateway.PayoutAck{}, nil
}

func (g *stubGateway) QueryStatus(ctx context.Context, kind models.TransactionKind, correlationID string) (gateway.StatusResult, error) {
	g.queries.Add(1)
	g.lastKind = kind
	return g.status, g.err
}

func TestReconcileTerminalSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{}
	rec := NewReconciler(f.txns, gw, f.machine, testLogger())
	tx := f.createAwaiting(t, models.KindTipPayment, 100, "ws_001")
	if _, err := f.machine.Apply(context.Background(), tx.ID, Event{Kind: EventResult, Result: &models.ProviderResult{ResultCode: 0, ResultDesc: "ok"}}); err != nil {
		t.Fatal(err)
	}

	got, err := rec.Reconcile(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateSucceeded {
		t.Fatalf("want succeeded, got %s", got.State)
	}
	if n := gw.queries.Load(); n != 0 {
		t.Fatalf("terminal fast path issued %d queries", n)
	}
}

func TestReconcilePendingLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{status: gateway.StatusResult{Pending: true}}
	rec := NewReconciler(f.txns, gw, f.machine, testLogger())
	tx := f.createAwaiting(t, models.KindTipPayment, 100, "ws_001")

	got, err := rec.Reconcile(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateAwaitingResult {
		t.Fatalf("pending must not transition, got %s", got.State)
	}
	if n := gw.queries.Load(); n != 1 {
		t.Fatalf("want exactly one query, got %d", n)
	}

	after, _ := f.txns.GetByID(context.Background(), tx.ID)
	if after.AttemptCount != 1 {
		t.Fatalf("attempt count %d", after.AttemptCount)
	}
}

func TestReconcileAppliesTerminalResult(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{status: gateway.StatusResult{ResultCode: 1032, ResultDesc: "Request cancelled by user"}}
	rec := NewReconciler(f.txns, gw, f.machine, testLogger())
	tx := f.createAwaiting(t, models.KindTipPayment, 100, "ws_001")

	got, err := rec.Reconcile(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateFailed {
		t.Fatalf("want failed, got %s", got.State)
	}
	if got.ProviderResult == nil || got.ProviderResult.ResultCode != 1032 {
		t.Fatalf("result %+v", got.ProviderResult)
	}
}

func TestReconcilePayoutQueriesByKind(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{status: gateway.StatusResult{ResultCode: 0, ResultDesc: "Transaction status retrieved"}}
	rec := NewReconciler(f.txns, gw, f.machine, testLogger())
	tx := f.createAwaiting(t, models.KindPayout, 5000, "conv_77")

	got, err := rec.Reconcile(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateSucceeded {
		t.Fatalf("want succeeded, got %s", got.State)
	}
	// the conversation ID must be queried as a payout, not a push
	if gw.lastKind != models.KindPayout {
		t.Fatalf("queried with kind %q", gw.lastKind)
	}
}

func TestReconcileBeforeCorrelationBound(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{}
	rec := NewReconciler(f.txns, gw, f.machine, testLogger())
	tx, _ := f.txns.Create(context.Background(), models.Transaction{
		Kind: models.KindTipPayment, Amount: 100, CounterpartyRef: "254712345678", State: models.StateCreated,
	})

	got, err := rec.Reconcile(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateCreated {
		t.Fatalf("state %s", got.State)
	}
	if n := gw.queries.Load(); n != 0 {
		t.Fatalf("queried without a correlation id: %d", n)
	}
}

func TestReconcilePollBudget(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{status: gateway.StatusResult{Pending: true}}
	rec := NewReconciler(f.txns, gw, f.machine, testLogger())
	rec.maxAttempts = 2
	tx := f.createAwaiting(t, models.KindTipPayment, 100, "ws_001")

	for i := 0; i < 5; i++ {
		if _, err := rec.Reconcile(context.Background(), tx.ID); err != nil {
			t.Fatal(err)
		}
	}
	if n := gw.queries.Load(); n != 2 {
		t.Fatalf("budget of 2 issued %d queries", n)
	}
}

func TestReconcileUnparseableStatusIsNonTerminal(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{err: &gateway.Error{Kind: gateway.Unknown, Op: "status_query", Msg: "garbage"}}
	rec := NewReconciler(f.txns, gw, f.machine, testLogger())
	tx := f.createAwaiting(t, models.KindTipPayment, 100, "ws_001")

	got, err := rec.Reconcile(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("unknown response must be swallowed, got %v", err)
	}
	if got.State != models.StateAwaitingResult {
		t.Fatalf("state %s", got.State)
	}
}
