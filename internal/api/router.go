package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/HetviBarot21/tippy-sub003/internal/api/handlers"
	"github.com/HetviBarot21/tippy-sub003/internal/api/httpx"
	"github.com/HetviBarot21/tippy-sub003/internal/api/validate"
	"github.com/HetviBarot21/tippy-sub003/internal/auth"
	"github.com/HetviBarot21/tippy-sub003/internal/config"
	"github.com/HetviBarot21/tippy-sub003/internal/engine"
	"github.com/HetviBarot21/tippy-sub003/internal/gateway"
	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/middleware"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
	"github.com/HetviBarot21/tippy-sub003/internal/services"
)

type RouterDeps struct {
	Cfg        config.Config
	TM         *auth.TokenManager
	PaymentSvc *services.PaymentService
	PayoutSvc  *services.PayoutService
	Ingestor   *engine.Ingestor
	Reconciler *engine.Reconciler
}

// callback endpoints always answer this; giving the provider an error would
// only trigger retries that duplicate side effects
var providerAck = map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	th := handlers.NewTokenHandler(d.TM, d.Cfg.OperatorKeyHash, d.Cfg.Env)
	r.Post("/auth/token", th.Issue)

	// ---------- provider callbacks (no rate limit, no auth: the provider
	// cannot authenticate, and throttling it into drops loses results) ----------
	r.Route("/callbacks", func(r chi.Router) {
		r.Post("/stk", callbackEndpoint(d.Ingestor, engine.ParsePushCallback))
		r.Post("/b2c/result", callbackEndpoint(d.Ingestor, engine.ParsePayoutResultCallback))
		r.Post("/b2c/timeout", callbackEndpoint(d.Ingestor, engine.ParsePayoutTimeoutCallback))
	})

	am := middleware.NewAuthMiddleware(d.TM, d.Cfg.Env)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(d.Cfg.RateRPS))
		r.Use(am.RequireOperator)

		// ---------- initiation ----------
		r.Post("/payments", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Amount           int64  `json:"amount"`
				Phone            string `json:"phone"`
				AccountReference string `json:"account_reference"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "bad request", nil)
				return
			}
			var errs validate.Errs
			if e := validate.MinorUnits("amount", req.Amount); e != nil { errs = append(errs, *e) }
			if e := validate.Phone("phone", req.Phone); e != nil { errs = append(errs, *e) }
			if e := validate.Required("account_reference", req.AccountReference); e != nil { errs = append(errs, *e) }
			if len(errs) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
				return
			}
			res, err := d.PaymentSvc.InitiateTip(r.Context(), req.Amount, req.Phone, req.AccountReference)
			if err != nil { writeInitiationError(w, err); return }
			httpx.WriteJSON(w, http.StatusAccepted, initiationResponse(res))
		})

		r.Post("/payouts", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Amount  int64  `json:"amount"`
				Phone   string `json:"phone"`
				Remarks string `json:"remarks"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "bad request", nil)
				return
			}
			var errs validate.Errs
			if e := validate.MinorUnits("amount", req.Amount); e != nil { errs = append(errs, *e) }
			if e := validate.Phone("phone", req.Phone); e != nil { errs = append(errs, *e) }
			if len(errs) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, "validation", errs.Error(), errs)
				return
			}
			if req.Remarks == "" {
				req.Remarks = "Staff payout"
			}
			res, err := d.PayoutSvc.InitiatePayout(r.Context(), req.Amount, req.Phone, req.Remarks)
			if err != nil { writeInitiationError(w, err); return }
			httpx.WriteJSON(w, http.StatusAccepted, initiationResponse(res))
		})

		// ---------- status (pull path, reconciles against the provider) ----------
		r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			tx, err := d.Reconciler.Reconcile(r.Context(), id)
			if errors.Is(err, repo.ErrNotFound) {
				httpx.WriteError(w, http.StatusNotFound, "not_found", "transaction not found", nil)
				return
			}
			if err != nil {
				var ge *gateway.Error
				if errors.As(err, &ge) && ge.Kind == gateway.Unreachable {
					httpx.WriteError(w, http.StatusServiceUnavailable, "gateway_unreachable", "provider unreachable, retry later", nil)
					return
				}
				httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, tx)
		})

		r.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
			kind := models.TransactionKind(r.URL.Query().Get("kind"))
			limit, offset := 50, 0
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 { limit = n }
			}
			if v := r.URL.Query().Get("offset"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n >= 0 { offset = n }
			}
			txs, err := d.PaymentSvc.List(r.Context(), kind, limit, offset)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, txs)
		})
	})

	return r
}

// callbackEndpoint rejects only unparseable bodies; anything with a valid
// shape is acked no matter what ingestion does with it.
func callbackEndpoint(ing *engine.Ingestor, parse func([]byte) (engine.Callback, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", "unreadable body", nil)
			return
		}
		cb, err := parse(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed callback payload", nil)
			return
		}
		ing.Ingest(r.Context(), cb)
		httpx.WriteJSON(w, http.StatusOK, providerAck)
	}
}

func initiationResponse(res services.InitiationResult) map[string]any {
	out := map[string]any{
		"transaction_id": res.Transaction.ID,
		"correlation_id": res.CorrelationID,
		"state":          res.Transaction.State,
	}
	if res.AcceptanceMessage != "" {
		out["acceptance_message"] = res.AcceptanceMessage
	}
	return out
}

func writeInitiationError(w http.ResponseWriter, err error) {
	var ge *gateway.Error
	switch {
	case errors.Is(err, services.ErrAmountInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "validation", err.Error(), nil)
	case errors.Is(err, repo.ErrDuplicateCorrelation):
		httpx.WriteError(w, http.StatusInternalServerError, "integrity", "correlation id already bound", nil)
	case errors.As(err, &ge) && ge.Kind == gateway.Unreachable:
		httpx.WriteError(w, http.StatusServiceUnavailable, "gateway_unreachable", "provider unreachable, retry later", nil)
	case errors.As(err, &ge) && ge.Kind == gateway.Rejected:
		httpx.WriteError(w, http.StatusBadRequest, "gateway_rejected", ge.Error(), nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
}
