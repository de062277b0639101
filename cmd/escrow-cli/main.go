package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"escrowd/crypto"
	"escrowd/rpc"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("ESCROWD_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getBalance(args[1])
	case "init":
		if len(args) < 6 {
			fmt.Println("Error: Please provide recipient, arbiter, amount, timeout, and a key file.")
			printUsage()
			return
		}
		timeout, err := strconv.ParseInt(args[4], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid timeout.")
			return
		}
		initEscrow(args[1], args[2], args[3], timeout, args[5])
	case "withdraw":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an escrow id and a key file.")
			printUsage()
			return
		}
		transition("escrow_withdraw", args[1], args[2])
	case "refund":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an escrow id and a key file.")
			printUsage()
			return
		}
		transition("escrow_refund", args[1], args[2])
	case "cancel":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an escrow id and a key file.")
			printUsage()
			return
		}
		transition("escrow_cancel", args[1], args[2])
	case "resolve":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an escrow id, a direction (release|refund), and a key file.")
			printUsage()
			return
		}
		resolve(args[1], args[2], args[3])
	case "get":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an escrow id.")
			printUsage()
			return
		}
		getEscrow(args[1])
	case "vault":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an escrow id.")
			printUsage()
			return
		}
		getVaultBalance(args[1])
	case "record-id":
		if len(args) < 3 {
			fmt.Println("Error: Please provide initializer and recipient addresses.")
			printUsage()
			return
		}
		getRecordID(args[1], args[2])
	case "events":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		listEvents(prefix)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println(`Usage: escrow-cli [--rpc <url>] <command>

Commands:
  generate-key                                        Create a new wallet key file
  balance <address>                                   Show an account balance
  init <recipient> <arbiter> <amount> <timeout> <key> Create and fund an escrow
  withdraw <id> <key>                                 Withdraw as the recipient (before deadline)
  refund <id> <key>                                   Refund as the initializer (after deadline)
  cancel <id> <key>                                   Cancel as the initializer (before deadline)
  resolve <id> <release|refund> <key>                 Resolve as the arbiter
  get <id>                                            Show an escrow record
  vault <id>                                          Show a vault balance
  record-id <initializer> <recipient>                 Derive the record id for a pair
  events [prefix]                                     List recorded events`)
}

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--rpc="):
			rpcEndpoint = strings.TrimPrefix(args[i], "--rpc=")
		default:
			out = append(out, args[i])
		}
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely. Signing commands will refuse to run without it.")
}

func loadKey(path string) *crypto.PrivateKey {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error reading key file: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.PrivateKeyFromBytes(bytes.TrimSpace(raw))
	if err != nil {
		fmt.Printf("Error parsing key file: %v\n", err)
		os.Exit(1)
	}
	return key
}

func keyAddress(key *crypto.PrivateKey) [20]byte {
	var addr [20]byte
	copy(addr[:], key.PubKey().Address().Bytes())
	return addr
}

func parseAddress(bech string) [20]byte {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(bech))
	if err != nil {
		fmt.Printf("Error: invalid address %q: %v\n", bech, err)
		os.Exit(1)
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out
}

func parseID(id string) [32]byte {
	cleaned := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(id), "0x"), "0X")
	raw, err := hex.DecodeString(cleaned)
	if err != nil || len(raw) != 32 {
		fmt.Printf("Error: invalid escrow id %q\n", id)
		os.Exit(1)
	}
	var out [32]byte
	copy(out[:], raw)
	return out
}

func sign(payload []byte, key *crypto.PrivateKey) string {
	sig, err := crypto.Sign(payload, key)
	if err != nil {
		fmt.Printf("Error signing request: %v\n", err)
		os.Exit(1)
	}
	return hex.EncodeToString(sig)
}

func initEscrow(recipientStr, arbiterStr, amountStr string, timeout int64, keyFile string) {
	key := loadKey(keyFile)
	initializer := keyAddress(key)
	recipient := parseAddress(recipientStr)
	arbiter := parseAddress(arbiterStr)
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountStr), 10)
	if !ok || amount.Sign() <= 0 {
		fmt.Println("Error: amount must be a positive integer.")
		return
	}

	payload := rpc.InitializePayload(initializer, recipient, arbiter, amount, timeout)
	params := map[string]interface{}{
		"initializer": key.PubKey().Address().String(),
		"recipient":   recipientStr,
		"arbiter":     arbiterStr,
		"amount":      amount.String(),
		"timeout":     timeout,
		"signature":   sign(payload, key),
	}
	result, err := call("escrow_initialize", params, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func transition(method, idStr, keyFile string) {
	key := loadKey(keyFile)
	caller := keyAddress(key)
	id := parseID(idStr)

	payload := rpc.TransitionPayload(method, id, caller)
	params := map[string]interface{}{
		"id":        idStr,
		"caller":    key.PubKey().Address().String(),
		"signature": sign(payload, key),
	}
	result, err := call(method, params, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func resolve(idStr, direction, keyFile string) {
	release := false
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "release":
		release = true
	case "refund":
		release = false
	default:
		fmt.Println("Error: direction must be release or refund.")
		return
	}

	key := loadKey(keyFile)
	caller := keyAddress(key)
	id := parseID(idStr)

	payload := rpc.ResolvePayload(id, caller, release)
	params := map[string]interface{}{
		"id":                 idStr,
		"caller":             key.PubKey().Address().String(),
		"releaseToRecipient": release,
		"signature":          sign(payload, key),
	}
	result, err := call("escrow_resolve", params, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func getBalance(addr string) {
	result, err := call("account_getBalance", map[string]interface{}{"address": addr}, false)
	if err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}
	printJSON(result)
}

func getEscrow(id string) {
	result, err := call("escrow_get", map[string]interface{}{"id": id}, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func getVaultBalance(id string) {
	result, err := call("escrow_vaultBalance", map[string]interface{}{"id": id}, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func getRecordID(initializer, recipient string) {
	params := map[string]interface{}{"initializer": initializer, "recipient": recipient}
	result, err := call("escrow_recordId", params, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func listEvents(prefix string) {
	params := map[string]interface{}{}
	if prefix != "" {
		params["prefix"] = prefix
	}
	result, err := call("escrow_events", params, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printJSON(result)
}

func call(method string, params interface{}, requireAuth bool) (json.RawMessage, error) {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if strings.TrimSpace(rpcAuthToken) == "" {
			return nil, fmt.Errorf("ESCROWD_RPC_TOKEN must be set for this command")
		}
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int         `json:"code"`
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("invalid RPC response: %w", err)
	}
	if decoded.Error != nil {
		if decoded.Error.Data != nil {
			return nil, fmt.Errorf("%s (%v)", decoded.Error.Message, decoded.Error.Data)
		}
		return nil, fmt.Errorf("%s", decoded.Error.Message)
	}
	return decoded.Result, nil
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}
