package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"escrowd/core/types"
	"escrowd/crypto"
	"escrowd/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowInitializeParams struct {
	Initializer string `json:"initializer"`
	Recipient   string `json:"recipient"`
	Arbiter     string `json:"arbiter"`
	Amount      string `json:"amount"`
	Timeout     int64  `json:"timeout"`
	Signature   string `json:"signature"`
}

type escrowActorParams struct {
	ID        string `json:"id"`
	Caller    string `json:"caller"`
	Signature string `json:"signature"`
}

type escrowResolveParams struct {
	ID                 string `json:"id"`
	Caller             string `json:"caller"`
	ReleaseToRecipient bool   `json:"releaseToRecipient"`
	Signature          string `json:"signature"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowEventsParams struct {
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type escrowJSON struct {
	ID          string `json:"id"`
	Initializer string `json:"initializer"`
	Recipient   string `json:"recipient"`
	Arbiter     string `json:"arbiter"`
	Amount      string `json:"amount"`
	Deadline    int64  `json:"deadline"`
	CreatedAt   int64  `json:"createdAt"`
	Status      string `json:"status"`
}

type eventJSON struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type vaultBalanceResult struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
}

type recordIDResult struct {
	ID string `json:"id"`
}

func (s *Server) handleEscrowInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowInitializeParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	initializer, err := parseBech32Address(params.Initializer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := parseBech32Address(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	arbiter, err := parseBech32Address(params.Arbiter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payload := InitializePayload(initializer, recipient, arbiter, amount, params.Timeout)
	if err := verifyCallerSignature(payload, params.Signature, initializer); err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeEscrowForbidden, "forbidden", err.Error())
		return
	}
	esc, err := s.node.EscrowInitialize(initializer, recipient, arbiter, amount, params.Timeout)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowTransition(w, req, "escrow_withdraw", s.node.EscrowWithdraw)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowTransition(w, req, "escrow_refund", s.node.EscrowRefund)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowTransition(w, req, "escrow_cancel", s.node.EscrowCancel)
}

func (s *Server) handleEscrowTransition(w http.ResponseWriter, req *RPCRequest, method string, fn func([32]byte, [20]byte) (*escrow.Escrow, error)) {
	var params escrowActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := verifyCallerSignature(TransitionPayload(method, id, caller), params.Signature, caller); err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeEscrowForbidden, "forbidden", err.Error())
		return
	}
	esc, err := fn(id, caller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowResolveParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payload := ResolvePayload(id, caller, params.ReleaseToRecipient)
	if err := verifyCallerSignature(payload, params.Signature, caller); err != nil {
		writeError(w, http.StatusForbidden, req.ID, codeEscrowForbidden, "forbidden", err.Error())
		return
	}
	esc, err := s.node.EscrowResolve(id, caller, params.ReleaseToRecipient)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowVaultBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.EscrowVaultBalance(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultBalanceResult{ID: formatEscrowID(id), Balance: balance.String()})
}

func (s *Server) handleEscrowRecordID(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params struct {
		Initializer string `json:"initializer"`
		Recipient   string `json:"recipient"`
	}
	if !decodeSingleParam(w, req, &params) {
		return
	}
	initializer, err := parseBech32Address(params.Initializer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := parseBech32Address(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id := s.node.RecordID(initializer, recipient)
	writeResult(w, req.ID, recordIDResult{ID: formatEscrowID(id)})
}

func (s *Server) handleEscrowEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params := escrowEventsParams{}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "at most one parameter object expected")
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	recorded := s.node.Events().List(params.Prefix, params.Limit)
	out := make([]eventJSON, 0, len(recorded))
	for _, rec := range recorded {
		entry := eventJSON{Sequence: rec.Sequence, Type: rec.Event.EventType()}
		if carrier, ok := rec.Event.(interface{ Event() *types.Event }); ok {
			if evt := carrier.Event(); evt != nil {
				entry.Attributes = evt.Attributes
			}
		}
		out = append(out, entry)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	account, err := s.node.GetAccount(addr[:])
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: formatAddress(addr),
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

// InitializePayload is the canonical byte string an initializer signs to
// authorize record creation.
func InitializePayload(initializer, recipient, arbiter [20]byte, amount *big.Int, timeout int64) []byte {
	parts := []string{
		"escrow_initialize",
		hex.EncodeToString(initializer[:]),
		hex.EncodeToString(recipient[:]),
		hex.EncodeToString(arbiter[:]),
		amount.String(),
		strconv.FormatInt(timeout, 10),
	}
	return []byte(strings.Join(parts, "|"))
}

// TransitionPayload is the canonical byte string a caller signs to authorize
// a withdraw, refund, or cancel on an existing record.
func TransitionPayload(method string, id [32]byte, caller [20]byte) []byte {
	parts := []string{method, hex.EncodeToString(id[:]), hex.EncodeToString(caller[:])}
	return []byte(strings.Join(parts, "|"))
}

// ResolvePayload is the canonical byte string an arbiter signs to authorize
// a resolution, binding the chosen direction.
func ResolvePayload(id [32]byte, caller [20]byte, releaseToRecipient bool) []byte {
	parts := []string{
		"escrow_resolve",
		hex.EncodeToString(id[:]),
		hex.EncodeToString(caller[:]),
		strconv.FormatBool(releaseToRecipient),
	}
	return []byte(strings.Join(parts, "|"))
}

func verifyCallerSignature(payload []byte, sigHex string, caller [20]byte) error {
	trimmed := strings.TrimSpace(sigHex)
	if trimmed == "" {
		return fmt.Errorf("signature required")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	return crypto.VerifySigner(payload, sig, caller)
}

func parseBech32Address(addr string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseEscrowID(id string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return out, fmt.Errorf("id required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("id must be 32 bytes")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func formatEscrowID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.EscrowPrefix, addr[:]).String()
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	amount := "0"
	if esc.Amount != nil {
		amount = esc.Amount.String()
	}
	return escrowJSON{
		ID:          formatEscrowID(esc.ID),
		Initializer: formatAddress(esc.Initializer),
		Recipient:   formatAddress(esc.Recipient),
		Arbiter:     formatAddress(esc.Arbiter),
		Amount:      amount,
		Deadline:    esc.Deadline,
		CreatedAt:   esc.CreatedAt,
		Status:      escrowStatusString(esc.Status),
	}
}

func escrowStatusString(status escrow.Status) string {
	switch status {
	case escrow.StatusInitialized:
		return "initialized"
	case escrow.StatusWithdrawn:
		return "withdrawn"
	case escrow.StatusRefunded:
		return "refunded"
	case escrow.StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrInvalidRecipient),
		errors.Is(err, escrow.ErrInvalidInitializer),
		errors.Is(err, escrow.ErrInvalidArbiter):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrTimeoutExpired),
		errors.Is(err, escrow.ErrRefundNotAllowed),
		errors.Is(err, escrow.ErrCancelNotAllowed),
		errors.Is(err, escrow.ErrRecordExists),
		errors.Is(err, escrow.ErrInsufficientFunds):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrOverflow):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
