package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HetviBarot21/tippy-sub003/internal/auth"
	"github.com/HetviBarot21/tippy-sub003/internal/config"
	"github.com/HetviBarot21/tippy-sub003/internal/engine"
	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
	"github.com/HetviBarot21/tippy-sub003/internal/repository/memory"
	"github.com/HetviBarot21/tippy-sub003/internal/services"
	"github.com/HetviBarot21/tippy-sub003/internal/worker"
)

var metricsOnce sync.Once

type fakeGateway struct{}

func (fakeGateway) InitiatePush(ctx context.Context, amount int64, phone, accountRef string) (gateway.PushAck, error) {
	return gateway.PushAck{CorrelationID: "ws_001", MerchantRequestID: "m-1", AcceptanceMessage: "accepted"}, nil
}

func (fakeGateway) InitiateBulkPayout(ctx context.Context, amount int64, account, remarks string) (gateway.PayoutAck, error) {
	return gateway.PayoutAck{CorrelationID: "conv_77"}, nil
}

func (fakeGateway) QueryStatus(ctx context.Context, kind models.TransactionKind, correlationID string) (gateway.StatusResult, error) {
	return gateway.StatusResult{Pending: true}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *memory.Transactions) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	txns := memory.NewTransactions()
	corr := memory.NewCorrelations(txns)
	audit := memory.NewAuditLogs()
	wp := worker.NewPool(1)
	t.Cleanup(wp.Stop)

	machine := engine.NewMachine(txns, audit, wp, log)
	gw := fakeGateway{}
	cfg := config.Config{Env: "dev", RateRPS: 1000, JWTSecret: "test-secret", JWTIssuer: "tippy"}
	tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, time.Minute)

	return NewRouter(RouterDeps{
		Cfg:        cfg,
		TM:         tm,
		PaymentSvc: services.NewPaymentService(txns, corr, gw, machine, log),
		PayoutSvc:  services.NewPayoutService(txns, corr, gw, machine, &services.AuditCompensationSink{Audit: audit}, wp, log),
		Ingestor:   engine.NewIngestor(corr, machine, log),
		Reconciler: engine.NewReconciler(txns, gw, machine, log),
	}), txns
}

func TestCallbackAlwaysAcked(t *testing.T) {
	r, _ := newTestRouter(t)

	// well-formed callback for a correlation nobody knows: still acked
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_ghost","ResultCode":0,"ResultDesc":"ok"}}}`
	req := httptest.NewRequest(http.MethodPost, "/callbacks/stk", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var ack struct {
		ResultCode int    `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.ResultCode != 0 {
		t.Fatalf("ack %+v", ack)
	}
}

func TestCallbackMalformedRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/callbacks/stk", strings.NewReader(`{"Body":{}}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestInitiateAndCallbackRoundTrip(t *testing.T) {
	r, txns := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments",
		strings.NewReader(`{"amount":100,"phone":"254712345678","account_reference":"TABLE-7"}`))
	req.Header.Set("Authorization", "Bearer dev-ops")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TransactionID string `json:"transaction_id"`
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CorrelationID != "ws_001" {
		t.Fatalf("correlation %s", resp.CorrelationID)
	}

	cb := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_001","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"TEST123456"}]}}}}`
	req = httptest.NewRequest(http.MethodPost, "/callbacks/stk", strings.NewReader(cb))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status %d", rec.Code)
	}

	tx, err := txns.GetByID(context.Background(), resp.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if tx.State != models.StateSucceeded || tx.ProviderResult.ReceiptNumber != "TEST123456" {
		t.Fatalf("transaction %+v", tx)
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStatusQueryPendingTransaction(t *testing.T) {
	r, txns := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts",
		strings.NewReader(`{"amount":5000,"phone":"254712345678","remarks":"tips"}`))
	req.Header.Set("Authorization", "Bearer dev-ops")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TransactionID string `json:"transaction_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+resp.TransactionID, nil)
	req.Header.Set("Authorization", "Bearer dev-ops")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var view models.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.State != models.StateAwaitingResult {
		t.Fatalf("state %s", view.State)
	}

	// the pending poll must not have transitioned anything
	tx, _ := txns.GetByID(context.Background(), resp.TransactionID)
	if tx.State != models.StateAwaitingResult {
		t.Fatalf("stored state %s", tx.State)
	}
}

func TestMetricsCountRequests(t *testing.T) {
	metricsOnce.Do(metrics.Init)
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatal("request counter missing from scrape output")
	}
}

func TestInitiateValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []string{
		`{"amount":0,"phone":"254712345678","account_reference":"T"}`,
		`{"amount":150,"phone":"254712345678","account_reference":"T"}`,
		`{"amount":50,"phone":"254712345678","account_reference":"T"}`,
		`{"amount":100,"phone":"0712345678","account_reference":"T"}`,
		`{"amount":100,"phone":"254712345678","account_reference":""}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer dev-ops")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d", body, rec.Code)
		}
	}
}
