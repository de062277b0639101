// Package core wires the ledger state, the escrow engine, and the event
// recorder into the serializing host the engine assumes: one operation at a
// time, committed atomically or not at all.
package core

import (
	"math/big"
	"sync"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/observability"
	"escrowd/storage"
)

// Node owns the database and serializes every state transition. Each
// operation runs the engine against a write-buffered overlay; the overlay is
// flushed and the buffered events published only when the engine reports
// success, so a failed call leaves no observable trace.
type Node struct {
	mu      sync.Mutex
	db      storage.Database
	events  *events.Recorder
	program [32]byte
	nowFn   func() int64
}

// NewNode creates a host over the given database, bound to the program
// identity that scopes every derived record and vault location.
func NewNode(db storage.Database, program [32]byte) *Node {
	return &Node{
		db:      db,
		events:  events.NewRecorder(0),
		program: program,
	}
}

// Events exposes the append-only event history.
func (n *Node) Events() *events.Recorder { return n.events }

// SetNowFunc overrides the clock handed to the engine. Intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	n.nowFn = now
	n.mu.Unlock()
}

// bufferEmitter holds events back until the operation commits.
type bufferEmitter struct {
	buffered []events.Event
}

func (b *bufferEmitter) Emit(evt events.Event) {
	b.buffered = append(b.buffered, evt)
}

// runEscrow executes one engine operation with commit-on-success semantics.
// The caller must not hold n.mu.
func (n *Node) runEscrow(op string, fn func(*escrow.Engine) (*escrow.Escrow, error)) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	overlay := storage.NewOverlay(n.db)
	buffer := &bufferEmitter{}
	engine := escrow.NewEngine(n.program)
	engine.SetState(state.NewManager(overlay))
	engine.SetEmitter(buffer)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}

	esc, err := fn(engine)
	if err != nil {
		observability.Escrow().RecordOperation(op, err)
		return nil, err
	}
	if err := overlay.Flush(); err != nil {
		observability.Escrow().RecordOperation(op, err)
		return nil, err
	}
	for _, evt := range buffer.buffered {
		n.events.Emit(evt)
	}
	observability.Escrow().RecordOperation(op, nil)
	return esc, nil
}

// EscrowInitialize creates a record and funds its vault from the
// initializer's balance.
func (n *Node) EscrowInitialize(initializer, recipient, arbiter [20]byte, amount *big.Int, timeout int64) (*escrow.Escrow, error) {
	return n.runEscrow("initialize", func(e *escrow.Engine) (*escrow.Escrow, error) {
		return e.Initialize(initializer, recipient, arbiter, amount, timeout)
	})
}

// EscrowWithdraw releases the vault to the recipient before the deadline.
func (n *Node) EscrowWithdraw(id [32]byte, caller [20]byte) (*escrow.Escrow, error) {
	return n.runEscrow("withdraw", func(e *escrow.Engine) (*escrow.Escrow, error) {
		return e.Withdraw(id, caller)
	})
}

// EscrowRefund returns the vault to the initializer after the deadline.
func (n *Node) EscrowRefund(id [32]byte, caller [20]byte) (*escrow.Escrow, error) {
	return n.runEscrow("refund", func(e *escrow.Engine) (*escrow.Escrow, error) {
		return e.Refund(id, caller)
	})
}

// EscrowCancel returns the vault to the initializer before the deadline.
func (n *Node) EscrowCancel(id [32]byte, caller [20]byte) (*escrow.Escrow, error) {
	return n.runEscrow("cancel", func(e *escrow.Engine) (*escrow.Escrow, error) {
		return e.Cancel(id, caller)
	})
}

// EscrowResolve lets the arbiter settle the record in either direction.
func (n *Node) EscrowResolve(id [32]byte, caller [20]byte, releaseToRecipient bool) (*escrow.Escrow, error) {
	return n.runEscrow("resolve", func(e *escrow.Engine) (*escrow.Escrow, error) {
		return e.ResolveByArbiter(id, caller, releaseToRecipient)
	})
}

// EscrowGet loads a record without mutating anything.
func (n *Node) EscrowGet(id [32]byte) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	esc, ok := state.NewManager(n.db).EscrowGet(id)
	if !ok {
		return nil, escrow.ErrNotFound
	}
	return esc, nil
}

// EscrowVaultBalance reports the vault holdings for a record.
func (n *Node) EscrowVaultBalance(id [32]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine := escrow.NewEngine(n.program)
	engine.SetState(state.NewManager(n.db))
	return engine.VaultBalance(id)
}

// RecordID resolves the deterministic record location for a pair.
func (n *Node) RecordID(initializer, recipient [20]byte) [32]byte {
	engine := escrow.NewEngine(n.program)
	return engine.RecordID(initializer, recipient)
}

// GetAccount returns the current account state for an address.
func (n *Node) GetAccount(addr []byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManager(n.db).GetAccount(addr)
}

// SetBalance overwrites an account balance. Only used while applying the
// genesis allocation at startup, before the RPC surface is reachable.
func (n *Node) SetBalance(addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	mgr := state.NewManager(n.db)
	account, err := mgr.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Balance = amount
	return mgr.PutAccount(addr[:], account)
}
