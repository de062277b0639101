package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/storage"
)

type testEnv struct {
	server *Server
	node   *core.Node
	now    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	var program [32]byte
	for i := range program {
		program[i] = 0xE5
	}
	node := core.NewNode(db, program)
	env := &testEnv{node: node, now: 1_700_000_000}
	node.SetNowFunc(func() int64 { return env.now })
	env.server = NewServer(node)
	env.server.authToken = "test-token"
	return env
}

func (e *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	req.RemoteAddr = "127.0.0.1:9000"
	return req
}

type actor struct {
	key  *crypto.PrivateKey
	addr [20]byte
}

func newActor(t *testing.T) actor {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], key.PubKey().Address().Bytes())
	return actor{key: key, addr: addr}
}

func (a actor) bech() string {
	return crypto.NewAddress(crypto.EscrowPrefix, a.addr[:]).String()
}

func (a actor) sign(t *testing.T, payload []byte) string {
	t.Helper()
	sig, err := crypto.Sign(payload, a.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return hex.EncodeToString(sig)
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Result, resp.Error
}

func fundActor(t *testing.T, env *testEnv, a actor, amount int64) {
	t.Helper()
	if err := env.node.SetBalance(a.addr, big.NewInt(amount)); err != nil {
		t.Fatalf("fund actor: %v", err)
	}
}

func initializeEscrow(t *testing.T, env *testEnv, initializer, recipient, arbiter actor, amount string, timeout int64) escrowJSON {
	t.Helper()
	amt, _ := new(big.Int).SetString(amount, 10)
	payload := InitializePayload(initializer.addr, recipient.addr, arbiter.addr, amt, timeout)
	params := map[string]interface{}{
		"initializer": initializer.bech(),
		"recipient":   recipient.bech(),
		"arbiter":     arbiter.bech(),
		"amount":      amount,
		"timeout":     timeout,
		"signature":   initializer.sign(t, payload),
	}
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowInitialize(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("initialize failed: %+v", rpcErr)
	}
	var out escrowJSON
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	return out
}

func TestEscrowInitializeInvalidBech32(t *testing.T) {
	env := newTestEnv(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	params := map[string]interface{}{
		"initializer": "invalid",
		"recipient":   recipient.bech(),
		"arbiter":     arbiter.bech(),
		"amount":      "100",
		"timeout":     3600,
		"signature":   "00",
	}
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowInitialize(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil {
		t.Fatalf("expected error")
	}
	if rpcErr.Code != codeEscrowInvalidParams {
		t.Fatalf("expected code %d got %d", codeEscrowInvalidParams, rpcErr.Code)
	}
}

func TestEscrowInitializeRejectsForgedSignature(t *testing.T) {
	env := newTestEnv(t)
	initializer := newActor(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	impostor := newActor(t)
	fundActor(t, env, initializer, 1_000)

	amt := big.NewInt(100)
	payload := InitializePayload(initializer.addr, recipient.addr, arbiter.addr, amt, 3600)
	params := map[string]interface{}{
		"initializer": initializer.bech(),
		"recipient":   recipient.bech(),
		"arbiter":     arbiter.bech(),
		"amount":      "100",
		"timeout":     3600,
		"signature":   impostor.sign(t, payload),
	}
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowInitialize(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeEscrowForbidden {
		t.Fatalf("expected forbidden, got %+v", rpcErr)
	}
}

func TestEscrowLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t)
	initializer := newActor(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	fundActor(t, env, initializer, 1_000)

	created := initializeEscrow(t, env, initializer, recipient, arbiter, "250", 3600)
	if created.Status != "initialized" {
		t.Fatalf("unexpected status: %s", created.Status)
	}
	if created.Amount != "250" {
		t.Fatalf("unexpected amount: %s", created.Amount)
	}

	id, err := parseEscrowID(created.ID)
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	payload := TransitionPayload("escrow_withdraw", id, recipient.addr)
	params := map[string]interface{}{
		"id":        created.ID,
		"caller":    recipient.bech(),
		"signature": recipient.sign(t, payload),
	}
	req := &RPCRequest{ID: 2, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowWithdraw(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("withdraw failed: %+v", rpcErr)
	}
	var withdrawn escrowJSON
	if err := json.Unmarshal(result, &withdrawn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if withdrawn.Status != "withdrawn" {
		t.Fatalf("unexpected status: %s", withdrawn.Status)
	}
}

func TestEscrowWithdrawAfterDeadlineIsConflict(t *testing.T) {
	env := newTestEnv(t)
	initializer := newActor(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	fundActor(t, env, initializer, 1_000)

	created := initializeEscrow(t, env, initializer, recipient, arbiter, "250", 60)
	env.now += 60

	id, _ := parseEscrowID(created.ID)
	payload := TransitionPayload("escrow_withdraw", id, recipient.addr)
	params := map[string]interface{}{
		"id":        created.ID,
		"caller":    recipient.bech(),
		"signature": recipient.sign(t, payload),
	}
	req := &RPCRequest{ID: 2, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowWithdraw(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeEscrowConflict {
		t.Fatalf("expected conflict, got %+v", rpcErr)
	}
}

func TestEscrowInitializeZeroTimeoutIsImmediatelyRefundable(t *testing.T) {
	env := newTestEnv(t)
	initializer := newActor(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	fundActor(t, env, initializer, 1_000)

	// A zero timeout is valid input: the deadline equals the creation
	// instant, so the escrow opens already past its withdraw window.
	created := initializeEscrow(t, env, initializer, recipient, arbiter, "250", 0)
	id, _ := parseEscrowID(created.ID)

	payload := TransitionPayload("escrow_withdraw", id, recipient.addr)
	params := map[string]interface{}{
		"id":        created.ID,
		"caller":    recipient.bech(),
		"signature": recipient.sign(t, payload),
	}
	req := &RPCRequest{ID: 2, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowWithdraw(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeEscrowConflict {
		t.Fatalf("expected conflict on withdraw, got %+v", rpcErr)
	}

	payload = TransitionPayload("escrow_refund", id, initializer.addr)
	params = map[string]interface{}{
		"id":        created.ID,
		"caller":    initializer.bech(),
		"signature": initializer.sign(t, payload),
	}
	req = &RPCRequest{ID: 3, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder = httptest.NewRecorder()
	env.server.handleEscrowRefund(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("refund failed: %+v", rpcErr)
	}
	var refunded escrowJSON
	if err := json.Unmarshal(result, &refunded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if refunded.Status != "refunded" {
		t.Fatalf("unexpected status: %s", refunded.Status)
	}
}

func TestEscrowGetUnknownIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	params := map[string]interface{}{"id": "0x" + hexString64()}
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowGet(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeEscrowNotFound {
		t.Fatalf("expected not_found, got %+v", rpcErr)
	}
}

func hexString64() string {
	raw := make([]byte, 32)
	raw[0] = 0xAA
	return hex.EncodeToString(raw)
}

func TestEscrowResolveByWrongCallerIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	initializer := newActor(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	fundActor(t, env, initializer, 1_000)

	created := initializeEscrow(t, env, initializer, recipient, arbiter, "250", 3600)
	id, _ := parseEscrowID(created.ID)

	// The recipient signs correctly for themselves, but only the arbiter
	// may resolve.
	payload := ResolvePayload(id, recipient.addr, true)
	params := map[string]interface{}{
		"id":                 created.ID,
		"caller":             recipient.bech(),
		"releaseToRecipient": true,
		"signature":          recipient.sign(t, payload),
	}
	req := &RPCRequest{ID: 3, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowResolve(recorder, env.newRequest(), req)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeEscrowForbidden {
		t.Fatalf("expected forbidden, got %+v", rpcErr)
	}
}

func TestEscrowEventsListing(t *testing.T) {
	env := newTestEnv(t)
	initializer := newActor(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	fundActor(t, env, initializer, 1_000)

	initializeEscrow(t, env, initializer, recipient, arbiter, "250", 3600)

	req := &RPCRequest{ID: 4, Params: []json.RawMessage{marshalParam(t, map[string]interface{}{})}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowEvents(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("events failed: %+v", rpcErr)
	}
	var listed []eventJSON
	if err := json.Unmarshal(result, &listed); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 event, got %d", len(listed))
	}
	if listed[0].Type != escrow.EventTypeInitialized {
		t.Fatalf("unexpected event type: %s", listed[0].Type)
	}
	if listed[0].Attributes["amount"] != "250" {
		t.Fatalf("unexpected amount attribute: %s", listed[0].Attributes["amount"])
	}
}

func TestVaultBalanceQuery(t *testing.T) {
	env := newTestEnv(t)
	initializer := newActor(t)
	recipient := newActor(t)
	arbiter := newActor(t)
	fundActor(t, env, initializer, 1_000)

	created := initializeEscrow(t, env, initializer, recipient, arbiter, "250", 3600)
	params := map[string]interface{}{"id": created.ID}
	req := &RPCRequest{ID: 5, Params: []json.RawMessage{marshalParam(t, params)}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowVaultBalance(recorder, env.newRequest(), req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("vault balance failed: %+v", rpcErr)
	}
	var out vaultBalanceResult
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Balance != "250" {
		t.Fatalf("unexpected balance: %s", out.Balance)
	}
}

func TestMutationRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"escrow_withdraw","params":[{}]}`
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	httpReq.RemoteAddr = "127.0.0.1:9000"
	recorder := httptest.NewRecorder()
	env.server.handle(recorder, httpReq)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	httpReq = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	httpReq.RemoteAddr = "127.0.0.1:9000"
	httpReq.Header.Set("Authorization", "Bearer wrong-token")
	recorder = httptest.NewRecorder()
	env.server.handle(recorder, httpReq)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", recorder.Code)
	}
}
