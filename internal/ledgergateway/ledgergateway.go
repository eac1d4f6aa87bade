// Package ledgergateway wraps the JSON-RPC call to the downstream
// double-entry ledger that every posting is ultimately submitted to: the
// ledger is the single source of truth for whether a journal entry
// balances, and this package is the accountant's only route to it.
package ledgergateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klingon-exchange/accountant/internal/ledger"
	"github.com/klingon-exchange/accountant/pkg/logging"
)

// Outcome classifies the ledger's reply to a post, per spec.md 4.3.
type Outcome string

const (
	Ok          Outcome = "ok"
	LedgerError Outcome = "ledger_error"
	RpcError    Outcome = "rpc_error"
	RpcTimeout  Outcome = "rpc_timeout"
)

// Ack is the ledger's response to a posted journal entry.
type Ack struct {
	Outcome Outcome
	Reason  string
}

// Gateway posts journal entries to the ledger over JSON-RPC and classifies
// the result into the four outcomes PostOrFail distinguishes (Ok,
// LedgerError, RpcError, RpcTimeout).
type Gateway struct {
	url        string
	httpClient *http.Client
	requestID  atomic.Uint64
	log        *logging.Logger
}

// Config configures a Gateway.
type Config struct {
	URL     string
	Timeout time.Duration
}

// New builds a Gateway pointed at the ledger's JSON-RPC endpoint.
func New(cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.GetDefault().Component("ledgergateway"),
	}
}

// Post submits a complete journal entry (all postings sharing one uid) and
// blocks until the ledger acknowledges it, the ledger rejects it as
// unbalanced or invalid, or the round trip fails.
func (g *Gateway) Post(ctx context.Context, postings []ledger.Posting) (Ack, error) {
	if len(postings) == 0 {
		return Ack{}, errors.New("ledgergateway: empty journal entry")
	}

	id := g.requestID.Add(1)
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "post",
		"params":  map[string]interface{}{"postings": postings},
	}

	data, err := json.Marshal(request)
	if err != nil {
		return Ack{}, fmt.Errorf("ledgergateway: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(data))
	if err != nil {
		return Ack{}, fmt.Errorf("ledgergateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.log.Warn("ledger post timed out", "uid", postings[0].UID)
			return Ack{Outcome: RpcTimeout, Reason: err.Error()}, nil
		}
		g.log.Error("ledger post transport failure", "uid", postings[0].UID, "error", err)
		return Ack{Outcome: RpcError, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Ack{Outcome: RpcError, Reason: err.Error()}, nil
	}

	var response struct {
		Result *struct {
			Accepted bool   `json:"accepted"`
			Reason   string `json:"reason"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		g.log.Error("ledger post returned malformed response", "uid", postings[0].UID, "error", err)
		return Ack{Outcome: RpcError, Reason: "malformed ledger response"}, nil
	}

	if response.Error != nil {
		return Ack{Outcome: LedgerError, Reason: response.Error.Message}, nil
	}
	if response.Result == nil {
		return Ack{Outcome: RpcError, Reason: "missing ledger result"}, nil
	}
	if !response.Result.Accepted {
		return Ack{Outcome: LedgerError, Reason: response.Result.Reason}, nil
	}

	return Ack{Outcome: Ok}, nil
}

// CanonicalPosition asks the ledger to recompute a user's position for one
// contract from its journal, for the reconciliation path spec.md 4.9's
// position repair relies on.
func (g *Gateway) CanonicalPosition(ctx context.Context, username, contract string) (int64, error) {
	id := g.requestID.Add(1)
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "canonical_position",
		"params":  map[string]interface{}{"username": username, "contract": contract},
	}

	data, err := json.Marshal(request)
	if err != nil {
		return 0, fmt.Errorf("ledgergateway: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("ledgergateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledgergateway: canonical_position transport failure: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("ledgergateway: read canonical_position response: %w", err)
	}

	var response struct {
		Result *struct {
			Position int64 `json:"position"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("ledgergateway: malformed canonical_position response: %w", err)
	}
	if response.Error != nil {
		return 0, fmt.Errorf("ledgergateway: %s", response.Error.Message)
	}
	if response.Result == nil {
		return 0, errors.New("ledgergateway: missing canonical_position result")
	}
	return response.Result.Position, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
