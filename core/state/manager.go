package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/storage"
)

// Manager reads and writes ledger state through a key-value database. Keys
// are keccak256 hashes of a domain prefix plus the logical key, values are
// RLP encoded. It implements the state interface consumed by the escrow
// engine.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("account:")
	escrowPrefix  = []byte("escrow-record:")
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func escrowKey(id [32]byte) []byte {
	buf := make([]byte, len(escrowPrefix)+len(id))
	copy(buf, escrowPrefix)
	copy(buf[len(escrowPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

// storedAccount is the RLP shape of an account. RLP has no signed integers,
// so everything is unsigned or big.Int.
type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount returns the account stored under the address, or a zeroed
// account when none exists yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	data, err := m.db.Get(accountKey(addr))
	if err == storage.ErrKeyNotFound {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		account.Balance = new(big.Int).Set(stored.Balance)
	}
	return account, nil
}

// PutAccount persists the account under the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := big.NewInt(0)
	if account.Balance != nil {
		if account.Balance.Sign() < 0 {
			return fmt.Errorf("state: negative balance not allowed")
		}
		balance = new(big.Int).Set(account.Balance)
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balance: balance})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// storedEscrow is the RLP shape of an escrow record. Timestamps travel as
// big.Int because RLP has no signed integers.
type storedEscrow struct {
	ID          [32]byte
	Initializer [20]byte
	Recipient   [20]byte
	Arbiter     [20]byte
	Amount      *big.Int
	Deadline    *big.Int
	CreatedAt   *big.Int
	Status      uint8
	RecordBump  uint8
	VaultBump   uint8
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &storedEscrow{
		ID:          e.ID,
		Initializer: e.Initializer,
		Recipient:   e.Recipient,
		Arbiter:     e.Arbiter,
		Amount:      amount,
		Deadline:    big.NewInt(e.Deadline),
		CreatedAt:   big.NewInt(e.CreatedAt),
		Status:      uint8(e.Status),
		RecordBump:  e.RecordBump,
		VaultBump:   e.VaultBump,
	}
}

func (s *storedEscrow) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil escrow storage record")
	}
	out := &escrow.Escrow{
		ID:          s.ID,
		Initializer: s.Initializer,
		Recipient:   s.Recipient,
		Arbiter:     s.Arbiter,
		Amount:      big.NewInt(0),
		Status:      escrow.Status(s.Status),
		RecordBump:  s.RecordBump,
		VaultBump:   s.VaultBump,
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.Deadline != nil {
		out.Deadline = s.Deadline.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return escrow.Sanitize(out)
}

// EscrowPut validates and persists an escrow record under its derived
// identifier.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(escrowKey(sanitized.ID), encoded)
}

// EscrowGet loads the escrow record stored under the identifier.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	data, err := m.db.Get(escrowKey(id))
	if err != nil {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	out, err := stored.toEscrow()
	if err != nil {
		return nil, false
	}
	return out, true
}
