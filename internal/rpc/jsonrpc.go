// Package rpc exposes the accountant's role-gated JSON-RPC surfaces
// (§6): Webserver, Engine, Cashier, Peer Accountant, Administrator and
// RiskManager, plus a push-feed websocket and a small debug HTTP surface
// for the Administrator role's browser/curl-driven calls.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/klingon-exchange/accountant/internal/accountant"
)

// request is a JSON-RPC 2.0 call. ID is echoed back verbatim; this
// service doesn't support batched requests, matching the one-call-per-HTTP
// POST shape every caller in §6's table uses.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error codes follow the JSON-RPC 2.0 reserved ranges for the transport
// and protocol failures, and a single application-defined code for every
// accountant precondition/operational error in errors.go — clients switch
// on the Data field's string, not Code, for those.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeAccountantErr  = -32000
)

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	writeJSON(w, response{JSONRPC: "2.0", Result: result, ID: id})
}

// writeError reports an accountant.Error's stable Code string in the
// Data field, per spec.md 7's "all carry a stable string identifier,
// suitable for clients" — Message is human-readable only.
func writeError(w http.ResponseWriter, id json.RawMessage, err error) {
	rerr := &rpcError{Code: codeAccountantErr, Message: err.Error()}
	if aerr, ok := err.(*accountant.Error); ok {
		rerr.Data = aerr.Code
	}
	writeJSON(w, response{JSONRPC: "2.0", Error: rerr, ID: id})
}

func writeProtocolError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message}, ID: id})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
