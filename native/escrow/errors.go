package escrow

import "errors"

// Typed failures surfaced verbatim to callers. A failed operation leaves the
// record exactly as it was; callers retry with corrected inputs or wait for
// a timing condition to change.
var (
	// ErrInvalidAmount rejects creation with a non-positive amount.
	ErrInvalidAmount = errors.New("escrow: amount must be greater than zero")
	// ErrInvalidRecipient rejects creation where the initializer and
	// recipient coincide, and withdrawal by anyone but the record recipient.
	ErrInvalidRecipient = errors.New("escrow: recipient is not valid for this escrow")
	// ErrInvalidInitializer rejects refund or cancellation by anyone but the
	// record initializer.
	ErrInvalidInitializer = errors.New("escrow: initializer is not valid for this escrow")
	// ErrInvalidArbiter rejects resolution by anyone but the record arbiter.
	ErrInvalidArbiter = errors.New("escrow: arbiter is not valid for this escrow")
	// ErrInvalidState rejects any operation on a record that has left the
	// Initialized state.
	ErrInvalidState = errors.New("escrow: record is not in the required state")
	// ErrTimeoutExpired rejects withdrawal at or after the deadline.
	ErrTimeoutExpired = errors.New("escrow: timeout expired, withdrawal is no longer possible")
	// ErrRefundNotAllowed rejects refund before the deadline.
	ErrRefundNotAllowed = errors.New("escrow: timeout not reached, refund is not allowed")
	// ErrCancelNotAllowed rejects cancellation at or after the deadline.
	ErrCancelNotAllowed = errors.New("escrow: timeout reached, cancellation is no longer possible")
	// ErrOverflow rejects a deadline computation that exceeds the timestamp
	// representation.
	ErrOverflow = errors.New("escrow: overflow when calculating deadline")
	// ErrInvalidBump reports a derived-address verification failure: the
	// stored derivation does not reproduce the expected record or vault
	// location.
	ErrInvalidBump = errors.New("escrow: invalid bump seed")
	// ErrRecordExists reports a storage collision: an open record already
	// occupies the location derived from this (initializer, recipient) pair.
	ErrRecordExists = errors.New("escrow: record already exists for this pair")
	// ErrNotFound reports that no record exists at the resolved location.
	ErrNotFound = errors.New("escrow: record not found")
	// ErrInsufficientFunds reports that the source account cannot cover the
	// requested transfer.
	ErrInsufficientFunds = errors.New("escrow: insufficient balance")
)
