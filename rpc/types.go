package rpc

import (
	"encoding/json"
	"net/http"

	"microescrow/receipts"
)

const jsonRPCVersion = "2.0"

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// InvocationResult summarises a committed invocation.
type InvocationResult struct {
	InvocationID string `json:"invocationId"`
	Contract     string `json:"contract"`
	Height       uint64 `json:"height"`
	Root         string `json:"root"`
	Result       string `json:"result,omitempty"`
}

// DeployResult reports the address of a new instance.
type DeployResult struct {
	Contract     string `json:"contract"`
	InvocationID string `json:"invocationId"`
	Height       uint64 `json:"height"`
	Root         string `json:"root"`
}

type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

type StatusResult struct {
	ChainID uint64 `json:"chainId"`
	Height  uint64 `json:"height"`
	Root    string `json:"root"`
}

type EscrowStateResult struct {
	Contract string `json:"contract"`
	State    string `json:"state"`
}

// EscrowResult is the full escrow record. Amount is a base-10 string.
type EscrowResult struct {
	Contract     string `json:"contract"`
	Payer        string `json:"payer"`
	Payee        string `json:"payee"`
	FeeCollector string `json:"feeCollector"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	State        string `json:"state"`
}

type BalanceResult struct {
	Contract string `json:"contract"`
	Owner    string `json:"owner"`
	Balance  string `json:"balance"`
}

type FeesTotalResult struct {
	Contract string `json:"contract"`
	Total    string `json:"total"`
}

// LatestReceiptsResult lists stored receipts, newest first.
type LatestReceiptsResult struct {
	Receipts []*receipts.Record `json:"receipts"`
}

// PausedResult lists the programs currently rejecting invocations.
type PausedResult struct {
	Paused []string `json:"paused"`
}

// ReceiptResult is the stored receipt as served over RPC.
type ReceiptResult = receipts.Record
