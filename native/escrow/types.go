package escrow

import (
	"math/big"
)

// Status tracks where a record sits in its lifecycle. Transitions are
// strictly one-way: once a record leaves StatusInitialized it is terminal
// and no further operation may succeed against it.
type Status uint8

const (
	StatusInitialized Status = iota + 1
	StatusWithdrawn
	StatusRefunded
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusInitialized, StatusWithdrawn, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusWithdrawn, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name used in events and RPC
// responses.
func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusWithdrawn:
		return "withdrawn"
	case StatusRefunded:
		return "refunded"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Escrow is the durable state of one escrow agreement. The identifier is
// derived from the program identity and the (initializer, recipient) pair,
// which also enforces at most one open record per pair. Amount is fixed at
// creation and never mutated. The record is never deleted; closure is
// modeled purely through Status.
type Escrow struct {
	ID          [32]byte
	Initializer [20]byte
	Recipient   [20]byte
	Arbiter     [20]byte
	Amount      *big.Int
	Deadline    int64
	CreatedAt   int64
	Status      Status
	RecordBump  uint8
	VaultBump   uint8
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Sanitize validates the supplied record and returns a cloned instance with
// a non-nil amount. The original value is not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, ErrNotFound
	}
	clone := e.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.Initializer == clone.Recipient {
		return nil, ErrInvalidRecipient
	}
	if !clone.Status.Valid() {
		return nil, ErrInvalidState
	}
	return clone, nil
}
