package gateway

import (
	"context"
	"fmt"

	"github.com/HetviBarot21/tippy-sub003/internal/models"
)

type ErrorKind string

const (
	// Unreachable: network failure or provider timeout, safe to retry.
	Unreachable ErrorKind = "unreachable"
	// Rejected: the provider refused the request as malformed, not retryable.
	Rejected ErrorKind = "rejected"
	// Unknown: response could not be parsed, treated as non-terminal.
	Unknown ErrorKind = "unknown"
)

type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// PushAck is the synchronous acknowledgement of an STK push; the actual
// result arrives later by callback.
type PushAck struct {
	CorrelationID     string // CheckoutRequestID
	MerchantRequestID string
	AcceptanceMessage string
}

type PayoutAck struct {
	CorrelationID string // ConversationID
}

type StatusResult struct {
	Pending       bool
	ResultCode    int
	ResultDesc    string
	ReceiptNumber string
	SettledAmount *int64
}

type Client interface {
	InitiatePush(ctx context.Context, amount int64, phone, accountRef string) (PushAck, error)
	InitiateBulkPayout(ctx context.Context, amount int64, account, remarks string) (PayoutAck, error)
	// QueryStatus must be safe to call repeatedly; the kind selects which
	// provider query endpoint the correlation ID belongs to.
	QueryStatus(ctx context.Context, kind models.TransactionKind, correlationID string) (StatusResult, error)
}
