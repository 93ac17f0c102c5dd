package services

import (
	"context"
	"testing"
	"time"

	"github.com/HetviBarot21/tippy-sub003/internal/engine"
	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
)

type chanSink struct{ ch chan CompensationRequest }

func (s *chanSink) Submit(ctx context.Context, req CompensationRequest) error {
	s.ch <- req
	return nil
}

func TestInitiatePayout(t *testing.T) {
	e := newEnv(t)
	gw := &stubGateway{payoutAck: gateway.PayoutAck{CorrelationID: "conv_77"}}
	sink := &chanSink{ch: make(chan CompensationRequest, 1)}
	svc := NewPayoutService(e.txns, e.corr, gw, e.machine, sink, e.wp, testLogger())

	res, err := svc.InitiatePayout(context.Background(), 5000, "254712345678", "August tips")
	if err != nil {
		t.Fatal(err)
	}
	if res.CorrelationID != "conv_77" {
		t.Fatalf("correlation %s", res.CorrelationID)
	}
	if res.Transaction.Kind != models.KindPayout || res.Transaction.State != models.StateAwaitingResult {
		t.Fatalf("transaction %+v", res.Transaction)
	}
}

func TestPayoutFailureEmitsCompensation(t *testing.T) {
	e := newEnv(t)
	gw := &stubGateway{payoutAck: gateway.PayoutAck{CorrelationID: "conv_77"}}
	sink := &chanSink{ch: make(chan CompensationRequest, 1)}
	svc := NewPayoutService(e.txns, e.corr, gw, e.machine, sink, e.wp, testLogger())

	res, err := svc.InitiatePayout(context.Background(), 5000, "254712345678", "August tips")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.machine.Apply(context.Background(), res.Transaction.ID, engine.Event{
		Kind:   engine.EventResult,
		Result: &models.ProviderResult{ResultCode: 2001, ResultDesc: "The initiator information is invalid."},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case req := <-sink.ch:
		if req.TransactionID != res.Transaction.ID || req.Amount != 5000 {
			t.Fatalf("compensation %+v", req)
		}
		if req.State != string(models.StateFailed) {
			t.Fatalf("state %s", req.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no compensation request emitted")
	}
}

func TestPayoutTimeoutEmitsCompensationOnce(t *testing.T) {
	e := newEnv(t)
	gw := &stubGateway{payoutAck: gateway.PayoutAck{CorrelationID: "conv_77"}}
	sink := &chanSink{ch: make(chan CompensationRequest, 2)}
	svc := NewPayoutService(e.txns, e.corr, gw, e.machine, sink, e.wp, testLogger())

	res, err := svc.InitiatePayout(context.Background(), 5000, "254712345678", "August tips")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.machine.Apply(context.Background(), res.Transaction.ID, engine.Event{Kind: engine.EventTimeout}); err != nil {
		t.Fatal(err)
	}
	// the late result is absorbed and must not trigger a second request
	if _, err := e.machine.Apply(context.Background(), res.Transaction.ID, engine.Event{
		Kind:   engine.EventResult,
		Result: &models.ProviderResult{ResultCode: 0, ResultDesc: "ok"},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case req := <-sink.ch:
		if req.State != string(models.StateTimedOut) {
			t.Fatalf("state %s", req.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no compensation request emitted")
	}

	select {
	case <-sink.ch:
		t.Fatal("duplicate compensation request")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPayoutSuccessEmitsNoCompensation(t *testing.T) {
	e := newEnv(t)
	gw := &stubGateway{payoutAck: gateway.PayoutAck{CorrelationID: "conv_78"}}
	sink := &chanSink{ch: make(chan CompensationRequest, 1)}
	svc := NewPayoutService(e.txns, e.corr, gw, e.machine, sink, e.wp, testLogger())

	res, err := svc.InitiatePayout(context.Background(), 5000, "254712345678", "August tips")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.machine.Apply(context.Background(), res.Transaction.ID, engine.Event{
		Kind:   engine.EventResult,
		Result: &models.ProviderResult{ResultCode: 0, ResultDesc: "ok", ReceiptNumber: "NLJ41HAY6Q"},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sink.ch:
		t.Fatal("successful payout requested compensation")
	case <-time.After(100 * time.Millisecond):
	}
}
