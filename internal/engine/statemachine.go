package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HetviBarot21/tippy-sub003/internal/metrics"
	"github.com/HetviBarot21/tippy-sub003/internal/models"
	repo "github.com/HetviBarot21/tippy-sub003/internal/repository"
	"github.com/HetviBarot21/tippy-sub003/internal/worker"
)

var ErrInvalidTransition = errors.New("invalid transition")

type EventKind string

const (
	EventInitiate         EventKind = "initiate"
	EventAccepted         EventKind = "accepted"
	EventInitiationFailed EventKind = "initiation_failed"
	EventResult           EventKind = "result"
	EventTimeout          EventKind = "timeout"
)

type Event struct {
	Kind   EventKind
	Result *models.ProviderResult // required for EventResult
	Reason string                 // optional, EventInitiationFailed
}

// TimeoutResultCode is the provider's code for an expired request; a
// timeout transition synthesizes its provider_result with it so the
// "result set iff terminal" invariant holds.
const TimeoutResultCode = 1037

// Machine is the only writer of state and provider_result. Every path
// that moves a transaction (initiation, callbacks, polling) goes through
// Apply, so push and pull reconciliation can never disagree.
type Machine struct {
	txns       repo.Transactions
	audit      repo.AuditLogs
	wp         *worker.Pool
	log        *slog.Logger
	onTerminal []func(models.Transaction)
}

func NewMachine(t repo.Transactions, a repo.AuditLogs, wp *worker.Pool, log *slog.Logger) *Machine {
	return &Machine{txns: t, audit: a, wp: wp, log: log}
}

// OnTerminal registers a hook fired once per transaction reaching a
// terminal state. Register before serving traffic.
func (m *Machine) OnTerminal(fn func(models.Transaction)) {
	m.onTerminal = append(m.onTerminal, fn)
}

const casRetries = 5

// Apply transitions a transaction by one event. Events against a terminal
// transaction are absorbed: the stored record is returned unchanged, which
// is what makes duplicate and replayed callbacks safe.
func (m *Machine) Apply(ctx context.Context, txID string, ev Event) (models.Transaction, error) {
	for i := 0; i < casRetries; i++ {
		tx, err := m.txns.GetByID(ctx, txID)
		if err != nil {
			return models.Transaction{}, err
		}
		if tx.State.Terminal() {
			return tx, nil
		}
		next, err := nextState(tx.State, ev)
		if err != nil {
			return tx, err
		}
		var result *models.ProviderResult
		if next.Terminal() {
			result = terminalResult(ev)
		}
		updated, err := m.txns.UpdateStateCAS(ctx, tx.ID, tx.Version, next, result)
		if errors.Is(err, repo.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return models.Transaction{}, err
		}
		metrics.TransitionsTotal.WithLabelValues(string(next)).Inc()
		m.auditTransition(updated, tx.State)
		if updated.State.Terminal() {
			for _, fn := range m.onTerminal {
				fn(updated)
			}
		}
		return updated, nil
	}
	return models.Transaction{}, repo.ErrVersionConflict
}

func nextState(cur models.TransactionState, ev Event) (models.TransactionState, error) {
	switch cur {
	case models.StateCreated:
		if ev.Kind == EventInitiate {
			return models.StateInitiating, nil
		}
	case models.StateInitiating:
		switch ev.Kind {
		case EventAccepted:
			return models.StateAwaitingResult, nil
		case EventInitiationFailed:
			return models.StateFailed, nil
		}
	case models.StateAwaitingResult:
		switch ev.Kind {
		case EventResult:
			if ev.Result == nil {
				break
			}
			if ev.Result.ResultCode == 0 {
				return models.StateSucceeded, nil
			}
			return models.StateFailed, nil
		case EventTimeout:
			return models.StateTimedOut, nil
		}
	}
	return "", fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.Kind, cur)
}

func terminalResult(ev Event) *models.ProviderResult {
	switch ev.Kind {
	case EventResult:
		r := *ev.Result
		return &r
	case EventTimeout:
		return &models.ProviderResult{
			ResultCode: TimeoutResultCode,
			ResultDesc: "Timed out awaiting provider result",
		}
	case EventInitiationFailed:
		desc := ev.Reason
		if desc == "" {
			desc = "initiation failed"
		}
		return &models.ProviderResult{ResultCode: 1, ResultDesc: desc}
	}
	return nil
}

func (m *Machine) auditTransition(tx models.Transaction, from models.TransactionState) {
	entityID := tx.ID
	l := models.AuditLog{
		EntityType: "transaction",
		EntityID:   &entityID,
		Action:     "state_change",
		Details:    map[string]any{"from": string(from), "to": string(tx.State)},
	}
	m.wp.Submit(func() {
		if err := m.audit.Create(context.Background(), l); err != nil {
			m.log.Error("audit append", "tx", tx.ID, "err", err)
		}
	})
}
