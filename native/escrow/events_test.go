package escrow

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestInitializedEventAttributes(t *testing.T) {
	esc := &Escrow{
		Initializer: newTestAddress(0x01),
		Recipient:   newTestAddress(0x02),
		Arbiter:     newTestAddress(0x03),
		Amount:      big.NewInt(50),
		Deadline:    1_700_000_010,
		Status:      StatusInitialized,
	}
	esc.ID[0] = 0xAB

	evt := NewInitializedEvent(esc)
	if evt.Type != EventTypeInitialized {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["id"] != hex.EncodeToString(esc.ID[:]) {
		t.Fatalf("unexpected id attribute: %s", evt.Attributes["id"])
	}
	if evt.Attributes["initializer"] != hex.EncodeToString(esc.Initializer[:]) {
		t.Fatalf("unexpected initializer attribute")
	}
	if evt.Attributes["arbiter"] != hex.EncodeToString(esc.Arbiter[:]) {
		t.Fatalf("unexpected arbiter attribute")
	}
	if evt.Attributes["amount"] != "50" {
		t.Fatalf("unexpected amount attribute: %s", evt.Attributes["amount"])
	}
	if evt.Attributes["deadline"] != "1700000010" {
		t.Fatalf("unexpected deadline attribute: %s", evt.Attributes["deadline"])
	}
}

func TestResolvedEventRecordsDirection(t *testing.T) {
	esc := &Escrow{
		Initializer: newTestAddress(0x01),
		Recipient:   newTestAddress(0x02),
		Arbiter:     newTestAddress(0x03),
		Amount:      big.NewInt(50),
		Status:      StatusInitialized,
	}
	evt := NewResolvedEvent(esc, true)
	if evt.Attributes["releaseToRecipient"] != "true" {
		t.Fatalf("unexpected direction: %s", evt.Attributes["releaseToRecipient"])
	}
	evt = NewResolvedEvent(esc, false)
	if evt.Attributes["releaseToRecipient"] != "false" {
		t.Fatalf("unexpected direction: %s", evt.Attributes["releaseToRecipient"])
	}
}

func TestNilRecordProducesBareEvent(t *testing.T) {
	evt := NewWithdrawnEvent(nil)
	if evt.Type != EventTypeWithdrawn {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if len(evt.Attributes) != 0 {
		t.Fatalf("nil record must not contribute attributes")
	}
}
