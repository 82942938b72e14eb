package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ExecStatus is the lifecycle state of an in-flight execution. Idle is not
// stored: a key with no table entry is idle.
type ExecStatus string

const (
	ExecIdle      ExecStatus = "idle"
	ExecPending   ExecStatus = "pending"
	ExecSubmitted ExecStatus = "submitted"
	ExecConfirmed ExecStatus = "confirmed"
	ExecFailed    ExecStatus = "failed"
	ExecExpired   ExecStatus = "expired"
)

// Active reports whether the status blocks another execution on the same key.
func (s ExecStatus) Active() bool {
	return s == ExecPending || s == ExecSubmitted
}

// Terminal reports whether the status ends the execution.
func (s ExecStatus) Terminal() bool {
	return s == ExecConfirmed || s == ExecFailed || s == ExecExpired
}

// Reason codes attached to failed or expired executions.
const (
	ReasonInvalidated           = "invalidated"
	ReasonUnprofitable          = "unprofitable"
	ReasonReverted              = "reverted"
	ReasonSubmissionUnavailable = "submission_unavailable"
	ReasonLeaseHeld             = "lease_held"
	ReasonTimeout               = "timeout"
	// ReasonMisconfigured marks a request the settlement layer can never
	// accept as configured, such as a symbol without a token mapping.
	ReasonMisconfigured = "misconfigured"
)

// InFlightExecution tracks one admitted opportunity until it reaches a
// terminal state.
type InFlightExecution struct {
	ID          string
	Key         OpportunityKey
	Opportunity Opportunity
	Status      ExecStatus
	Attempt     int
	Handle      SubmissionHandle
	CreatedAt   time.Time
	SubmittedAt time.Time
}

// TxParams are the final transaction cost parameters for a settlement call.
type TxParams struct {
	GasLimit  uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
	// MaxFeeBudget is GasLimit * GasFeeCap in wei.
	MaxFeeBudget *big.Int
	Degraded     bool
}

// ExecutionRequest is handed to the settlement layer.
type ExecutionRequest struct {
	// ExecutionID names one admitted execution. Submitting the same
	// ExecutionID again is a retry of the same submission, not a new one.
	ExecutionID string
	Key       OpportunityKey
	Symbol    string
	BuyVenue  string
	SellVenue string
	TradeSize decimal.Decimal
	// MinNetOutput is the smallest acceptable profit in quote units; the
	// settlement layer must revert below it.
	MinNetOutput decimal.Decimal
	Params       TxParams
}

// SubmissionHandle references a request accepted by the settlement layer,
// e.g. a transaction hash.
type SubmissionHandle string

// OutcomeKind classifies the result of a settlement.
type OutcomeKind string

const (
	OutcomeConfirmed OutcomeKind = "confirmed"
	OutcomeReverted  OutcomeKind = "reverted"
	OutcomeTimedOut  OutcomeKind = "timed_out"
)

// Outcome is the settlement layer's verdict for a submission.
type Outcome struct {
	Kind           OutcomeKind
	RealizedProfit decimal.Decimal
	Reason         string
}

// ExecutionRecord is the persisted summary of a finished execution.
type ExecutionRecord struct {
	ID             string
	Key            OpportunityKey
	Symbol         string
	BuyVenue       string
	SellVenue      string
	TradeSize      decimal.Decimal
	ExpectedProfit decimal.Decimal
	RealizedProfit decimal.Decimal
	Status         ExecStatus
	Reason         string
	Attempts       int
	Handle         SubmissionHandle
	StartedAt      time.Time
	CompletedAt    time.Time
}
