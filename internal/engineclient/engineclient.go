// Package engineclient talks to the matching engine that owns one
// contract's order book. The accountant dispatches accepted orders to it
// and asks it for safe prices and cancellations; the engine never talks
// back except as a reply to one of these calls or the fills it reports
// through the accountant's RPC surface.
package engineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klingon-exchange/accountant/pkg/logging"
)

// OrderBookLevel is one price level of a contract's resting orders.
type OrderBookLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// OrderBook is the engine's current book for a contract.
type OrderBook struct {
	Bids []OrderBookLevel `json:"bids"`
	Asks []OrderBookLevel `json:"asks"`
}

// Client calls a single contract's matching engine over JSON-RPC.
type Client struct {
	ticker     string
	url        string
	httpClient *http.Client
	requestID  atomic.Uint64
	log        *logging.Logger
}

// New builds a Client for one contract's engine endpoint.
func New(ticker, url string) *Client {
	return &Client{
		ticker: ticker,
		url:    url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: logging.GetDefault().Component("engineclient").With("ticker", ticker),
	}
}

// PlaceOrder dispatches an accepted order to the engine for matching.
func (c *Client) PlaceOrder(ctx context.Context, orderID int64, side string, price, quantity int64) error {
	_, err := c.call(ctx, "place_order", map[string]interface{}{
		"order_id": orderID,
		"contract": c.ticker,
		"side":     side,
		"price":    price,
		"quantity": quantity,
	})
	return err
}

// CancelOrder asks the engine to pull a resting order from its book.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	_, err := c.call(ctx, "cancel_order", map[string]interface{}{
		"order_id": orderID,
		"contract": c.ticker,
	})
	return err
}

// GetOrderBook fetches the current resting book for this contract.
func (c *Client) GetOrderBook(ctx context.Context) (*OrderBook, error) {
	result, err := c.call(ctx, "get_order_book", map[string]interface{}{"contract": c.ticker})
	if err != nil {
		return nil, err
	}
	var book OrderBook
	if err := json.Unmarshal(result, &book); err != nil {
		return nil, fmt.Errorf("engineclient: decode order book: %w", err)
	}
	return &book, nil
}

// GetSafePrice fetches the engine's current mark/safe price for this
// contract. Clearing and margin do not call it: clearing takes its price as
// a parameter and margin reads the prices pushed through safe_prices.
func (c *Client) GetSafePrice(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "get_safe_price", map[string]interface{}{"contract": c.ticker})
	if err != nil {
		return 0, err
	}
	var price int64
	if err := json.Unmarshal(result, &price); err != nil {
		return 0, fmt.Errorf("engineclient: decode safe price: %w", err)
	}
	return price, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("engineclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("engineclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engineclient: %s call to %s: %w", method, c.ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engineclient: read response: %w", err)
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("engineclient: decode response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("engineclient: %s rejected by engine: %s", method, response.Error.Message)
	}
	return response.Result, nil
}

// Registry holds one Client per contract ticker, keyed the way
// spec.md's RPC surface table addresses "Engine[ticker]".
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	urls    map[string]string
}

// NewRegistry builds a Registry from a ticker->URL map.
func NewRegistry(urls map[string]string) *Registry {
	r := &Registry{
		clients: make(map[string]*Client, len(urls)),
		urls:    urls,
	}
	for ticker, url := range urls {
		r.clients[ticker] = New(ticker, url)
	}
	return r
}

// For returns the Client for a ticker, or false if no engine is configured
// for it.
func (r *Registry) For(ticker string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[ticker]
	return c, ok
}
