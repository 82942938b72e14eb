package domain

import "errors"

// Sentinel errors shared across packages. Wrap them with %w and test with
// errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrLeaseHeld = errors.New("lease held by another instance")

	// Feed and pricing.
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrNoQuote       = errors.New("no quote available")
	ErrZeroLiquidity = errors.New("zero liquidity")

	// Execution.
	ErrSubmissionUnavailable = errors.New("submission unavailable")
	ErrInvariantViolation    = errors.New("in-flight invariant violated")
)
