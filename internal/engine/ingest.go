package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"

	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
)

var ErrMalformedCallback = errors.New("malformed callback payload")

type CallbackKind string

const (
	CallbackPushResult    CallbackKind = "push_result"
	CallbackPayoutResult  CallbackKind = "payout_result"
	CallbackPayoutTimeout CallbackKind = "payout_timeout"
)

// Callback is the strict, tagged form of a provider notification. Raw
// payloads are validated into this before anything touches the state
// machine; no duck typing past this point.
type Callback struct {
	Kind          CallbackKind
	CorrelationID string
	Result        models.ProviderResult // zero for timeouts
}

// Provider amounts are whole shillings, local amounts are minor units.
func toMinor(units float64) *int64 {
	v := int64(math.Round(units * 100))
	return &v
}

type metaItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

func ParsePushCallback(raw []byte) (Callback, error) {
	var env struct {
		Body struct {
			StkCallback *struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        *int   `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				CallbackMetadata  *struct {
					Item []metaItem `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Callback{}, ErrMalformedCallback
	}
	cb := env.Body.StkCallback
	if cb == nil || cb.CheckoutRequestID == "" || cb.ResultCode == nil {
		return Callback{}, ErrMalformedCallback
	}

	out := Callback{
		Kind:          CallbackPushResult,
		CorrelationID: cb.CheckoutRequestID,
		Result: models.ProviderResult{
			ResultCode: *cb.ResultCode,
			ResultDesc: cb.ResultDesc,
		},
	}
	if cb.CallbackMetadata != nil {
		for _, it := range cb.CallbackMetadata.Item {
			switch it.Name {
			case "MpesaReceiptNumber":
				if s, ok := it.Value.(string); ok {
					out.Result.ReceiptNumber = s
				}
			case "Amount":
				if f, ok := it.Value.(float64); ok {
					out.Result.SettledAmount = toMinor(f)
				}
			}
		}
	}
	return out, nil
}

func ParsePayoutResultCallback(raw []byte) (Callback, error) {
	var env struct {
		Result *struct {
			ResultCode       *int   `json:"ResultCode"`
			ResultDesc       string `json:"ResultDesc"`
			ConversationID   string `json:"ConversationID"`
			TransactionID    string `json:"TransactionID"`
			ResultParameters struct {
				ResultParameter []struct {
					Key   string `json:"Key"`
					Value any    `json:"Value"`
				} `json:"ResultParameter"`
			} `json:"ResultParameters"`
		} `json:"Result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Callback{}, ErrMalformedCallback
	}
	res := env.Result
	if res == nil || res.ConversationID == "" || res.ResultCode == nil {
		return Callback{}, ErrMalformedCallback
	}

	out := Callback{
		Kind:          CallbackPayoutResult,
		CorrelationID: res.ConversationID,
		Result: models.ProviderResult{
			ResultCode:    *res.ResultCode,
			ResultDesc:    res.ResultDesc,
			ReceiptNumber: res.TransactionID,
		},
	}
	for _, p := range res.ResultParameters.ResultParameter {
		switch p.Key {
		case "TransactionReceipt":
			if s, ok := p.Value.(string); ok && s != "" {
				out.Result.ReceiptNumber = s
			}
		case "TransactionAmount":
			if f, ok := p.Value.(float64); ok {
				out.Result.SettledAmount = toMinor(f)
			}
		}
	}
	return out, nil
}

func ParsePayoutTimeoutCallback(raw []byte) (Callback, error) {
	var env struct {
		Result *struct {
			ConversationID string `json:"ConversationID"`
		} `json:"Result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Callback{}, ErrMalformedCallback
	}
	if env.Result == nil || env.Result.ConversationID == "" {
		return Callback{}, ErrMalformedCallback
	}
	return Callback{Kind: CallbackPayoutTimeout, CorrelationID: env.Result.ConversationID}, nil
}

// Ingestor feeds validated callbacks into the state machine. Everything
// past parsing is swallowed after being recorded: the provider is always
// acked, a retry storm would only duplicate side effects.
type Ingestor struct {
	corr    repo.Correlations
	machine *Machine
	log     *slog.Logger
}

func NewIngestor(corr repo.Correlations, m *Machine, log *slog.Logger) *Ingestor {
	return &Ingestor{corr: corr, machine: m, log: log}
}

func (i *Ingestor) Ingest(ctx context.Context, cb Callback) {
	// a dropped provider connection must not abort a committed result
	ctx = context.WithoutCancel(ctx)

	txID, err := i.corr.Resolve(ctx, cb.CorrelationID)
	if errors.Is(err, repo.ErrNotFound) {
		i.log.Warn("callback for unknown correlation", "kind", cb.Kind, "correlation_id", cb.CorrelationID)
		metrics.CallbacksTotal.WithLabelValues(string(cb.Kind), "unresolved").Inc()
		return
	}
	if err != nil {
		i.log.Error("correlation lookup", "kind", cb.Kind, "err", err)
		metrics.CallbacksTotal.WithLabelValues(string(cb.Kind), "error").Inc()
		return
	}

	var ev Event
	if cb.Kind == CallbackPayoutTimeout {
		ev = Event{Kind: EventTimeout}
	} else {
		r := cb.Result
		ev = Event{Kind: EventResult, Result: &r}
	}

	_, err = i.machine.Apply(ctx, txID, ev)
	switch {
	case errors.Is(err, ErrInvalidTransition):
		i.log.Warn("callback out of order", "tx", txID, "kind", cb.Kind, "err", err)
		metrics.CallbacksTotal.WithLabelValues(string(cb.Kind), "invalid_transition").Inc()
	case err != nil:
		i.log.Error("callback apply", "tx", txID, "kind", cb.Kind, "err", err)
		metrics.CallbacksTotal.WithLabelValues(string(cb.Kind), "error").Inc()
	default:
		metrics.CallbacksTotal.WithLabelValues(string(cb.Kind), "accepted").Inc()
	}
}
