package models

import "time"

type TransactionKind string

const (
	KindTipPayment TransactionKind = "tip_payment"
	KindPayout     TransactionKind = "payout"
)

type TransactionState string

const (
	StateCreated        TransactionState = "created"
	StateInitiating     TransactionState = "initiating"
	StateAwaitingResult TransactionState = "awaiting_result"
	StateSucceeded      TransactionState = "succeeded"
	StateFailed         TransactionState = "failed"
	StateTimedOut       TransactionState = "timed_out"
)

func (s TransactionState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// ProviderResult is the provider's verdict, stored verbatim on terminal
// transitions and never reinterpreted afterwards.
type ProviderResult struct {
	ResultCode    int    `json:"result_code"`
	ResultDesc    string `json:"result_desc"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
	SettledAmount *int64 `json:"settled_amount,omitempty"`
}

type Transaction struct {
	ID              string           `json:"id"`
	Kind            TransactionKind  `json:"kind"`
	Amount          int64            `json:"amount"` // minor units, immutable
	CounterpartyRef string           `json:"counterparty_ref"`
	CorrelationID   *string          `json:"correlation_id,omitempty"`
	State           TransactionState `json:"state"`
	ProviderResult  *ProviderResult  `json:"provider_result,omitempty"`
	AttemptCount    int              `json:"attempt_count"`
	Version         int              `json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
