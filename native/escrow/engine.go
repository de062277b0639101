package escrow

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the slice of ledger state the engine needs: record
// persistence and account balances. The host guarantees that a failed
// operation leaves none of these writes visible.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine is the escrow state machine. On each operation it validates
// preconditions against the caller identity, the injected clock, and the
// stored record, moves the vault balance, mutates the record status, and
// emits one notification event.
type Engine struct {
	state   engineState
	emitter events.Emitter
	program [32]byte
	nowFn   func() int64
}

// NewEngine creates an engine bound to the given program identity with a
// no-op emitter. Callers can override the emitter via SetEmitter.
func NewEngine(program [32]byte) *Engine {
	return &Engine{
		program: program,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// RecordID resolves the deterministic record location for a pair. Every
// caller and the host must derive it identically.
func (e *Engine) RecordID(initializer, recipient [20]byte) [32]byte {
	id, _ := DeriveRecord(e.program, initializer, recipient)
	return id
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// vaultFor re-verifies the stored derivation and returns the vault address.
// A record whose bumps do not reproduce the derived locations is treated as
// forged and no transfer is authorized.
func (e *Engine) vaultFor(esc *Escrow) ([20]byte, error) {
	if !VerifyRecord(e.program, esc.Initializer, esc.Recipient, esc.ID, esc.RecordBump) {
		return [20]byte{}, ErrInvalidBump
	}
	addr, ok := VaultAddress(e.program, esc.ID, esc.VaultBump)
	if !ok {
		return [20]byte{}, ErrInvalidBump
	}
	return addr, nil
}

func checkedDeadline(now, timeout int64) (int64, error) {
	if timeout > 0 && now > math.MaxInt64-timeout {
		return 0, ErrOverflow
	}
	if timeout < 0 && now < math.MinInt64-timeout {
		return 0, ErrOverflow
	}
	return now + timeout, nil
}

// Initialize creates the record and vault for an (initializer, recipient)
// pair and moves amount from the initializer into the vault. The deadline is
// now plus timeout seconds.
func (e *Engine) Initialize(initializer, recipient, arbiter [20]byte, amount *big.Int, timeout int64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if initializer == recipient {
		return nil, ErrInvalidRecipient
	}
	now := e.now()
	deadline, err := checkedDeadline(now, timeout)
	if err != nil {
		return nil, err
	}
	id, recordBump := DeriveRecord(e.program, initializer, recipient)
	if _, exists := e.state.EscrowGet(id); exists {
		return nil, ErrRecordExists
	}
	vaultAddr, vaultBump := DeriveVault(e.program, id)
	esc := &Escrow{
		ID:          id,
		Initializer: initializer,
		Recipient:   recipient,
		Arbiter:     arbiter,
		Amount:      amt,
		Deadline:    deadline,
		CreatedAt:   now,
		Status:      StatusInitialized,
		RecordBump:  recordBump,
		VaultBump:   vaultBump,
	}
	if err := e.transfer(initializer, vaultAddr, amt); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(esc))
	return esc.Clone(), nil
}

// Withdraw releases the vault balance to the recipient before the deadline.
func (e *Engine) Withdraw(id [32]byte, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Recipient {
		return nil, ErrInvalidRecipient
	}
	if esc.Status != StatusInitialized {
		return nil, ErrInvalidState
	}
	if e.now() >= esc.Deadline {
		return nil, ErrTimeoutExpired
	}
	return e.closeRecord(esc, esc.Recipient, StatusWithdrawn, NewWithdrawnEvent(esc))
}

// Refund returns the vault balance to the initializer once the deadline has
// been reached.
func (e *Engine) Refund(id [32]byte, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Initializer {
		return nil, ErrInvalidInitializer
	}
	if esc.Status != StatusInitialized {
		return nil, ErrInvalidState
	}
	if e.now() < esc.Deadline {
		return nil, ErrRefundNotAllowed
	}
	return e.closeRecord(esc, esc.Initializer, StatusRefunded, NewRefundedEvent(esc))
}

// Cancel returns the vault balance to the initializer before the deadline.
// Cancel and Refund reach the same destination but record distinct terminal
// statuses, keeping an auditable record of why funds returned.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Initializer {
		return nil, ErrInvalidInitializer
	}
	if esc.Status != StatusInitialized {
		return nil, ErrInvalidState
	}
	if e.now() >= esc.Deadline {
		return nil, ErrCancelNotAllowed
	}
	return e.closeRecord(esc, esc.Initializer, StatusCancelled, NewCancelledEvent(esc))
}

// ResolveByArbiter settles an open record in either direction. The arbiter
// is not subject to the deadline; this is the dispute-resolution escape
// hatch for deadlocks the timeout and cancel mechanisms cannot break.
func (e *Engine) ResolveByArbiter(id [32]byte, caller [20]byte, releaseToRecipient bool) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Arbiter {
		return nil, ErrInvalidArbiter
	}
	if esc.Status != StatusInitialized {
		return nil, ErrInvalidState
	}
	dest := esc.Initializer
	status := StatusRefunded
	if releaseToRecipient {
		dest = esc.Recipient
		status = StatusWithdrawn
	}
	return e.closeRecord(esc, dest, status, NewResolvedEvent(esc, releaseToRecipient))
}

// VaultBalance reports the asset quantity currently held by the record's
// vault. It equals the record amount for the whole Initialized lifetime and
// zero after any terminal transition.
func (e *Engine) VaultBalance(id [32]byte) (*big.Int, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	vaultAddr, err := e.vaultFor(esc)
	if err != nil {
		return nil, err
	}
	acc, err := e.state.GetAccount(vaultAddr[:])
	if err != nil {
		return nil, err
	}
	return ensureAccount(acc).Balance, nil
}

// closeRecord empties the vault to dest and applies the terminal status.
func (e *Engine) closeRecord(esc *Escrow, dest [20]byte, status Status, event *types.Event) (*Escrow, error) {
	vaultAddr, err := e.vaultFor(esc)
	if err != nil {
		return nil, err
	}
	acc, err := e.state.GetAccount(vaultAddr[:])
	if err != nil {
		return nil, err
	}
	balance := ensureAccount(acc).Balance
	if err := e.transfer(vaultAddr, dest, balance); err != nil {
		return nil, err
	}
	esc.Status = status
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if event != nil {
		event.Attributes["status"] = status.String()
	}
	e.emit(event)
	return esc.Clone(), nil
}
