package escrow

import (
	"encoding/hex"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeInitialized = "escrow.initialized"
	EventTypeWithdrawn   = "escrow.withdrawn"
	EventTypeRefunded    = "escrow.refunded"
	EventTypeCancelled   = "escrow.cancelled"
	EventTypeResolved    = "escrow.resolved"
)

// NewInitializedEvent returns the canonical payload emitted when a record is
// created and its vault funded.
func NewInitializedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeInitialized, e)
	if e == nil {
		return evt
	}
	evt.Attributes["initializer"] = hex.EncodeToString(e.Initializer[:])
	evt.Attributes["recipient"] = hex.EncodeToString(e.Recipient[:])
	evt.Attributes["arbiter"] = hex.EncodeToString(e.Arbiter[:])
	evt.Attributes["amount"] = amountString(e)
	evt.Attributes["deadline"] = strconv.FormatInt(e.Deadline, 10)
	return evt
}

// NewWithdrawnEvent returns the canonical payload for a recipient
// withdrawal.
func NewWithdrawnEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeWithdrawn, e)
	if e == nil {
		return evt
	}
	evt.Attributes["recipient"] = hex.EncodeToString(e.Recipient[:])
	evt.Attributes["amount"] = amountString(e)
	return evt
}

// NewRefundedEvent returns the canonical payload for a post-deadline refund
// to the initializer.
func NewRefundedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeRefunded, e)
	if e == nil {
		return evt
	}
	evt.Attributes["initializer"] = hex.EncodeToString(e.Initializer[:])
	evt.Attributes["amount"] = amountString(e)
	return evt
}

// NewCancelledEvent returns the canonical payload for a pre-deadline
// cancellation by the initializer.
func NewCancelledEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeCancelled, e)
	if e == nil {
		return evt
	}
	evt.Attributes["initializer"] = hex.EncodeToString(e.Initializer[:])
	return evt
}

// NewResolvedEvent returns the canonical payload for an arbiter resolution,
// recording the chosen direction.
func NewResolvedEvent(e *Escrow, releaseToRecipient bool) *types.Event {
	evt := newEscrowEvent(EventTypeResolved, e)
	if e == nil {
		return evt
	}
	evt.Attributes["arbiter"] = hex.EncodeToString(e.Arbiter[:])
	evt.Attributes["releaseToRecipient"] = strconv.FormatBool(releaseToRecipient)
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e != nil {
		attrs["id"] = hex.EncodeToString(e.ID[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func amountString(e *Escrow) string {
	if e.Amount == nil {
		return "0"
	}
	return e.Amount.String()
}
