package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/accountant/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pushEvent is one message on the webserver push feed: order state
// changes, fills, transaction confirmations and public trade prints, per
// spec.md 6's outbound "webserver.{order,fill,transaction,trade}" calls.
type pushEvent struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Hub fans push events out to every connected websocket client. It does
// not filter by username — the webserver process sitting in front of this
// feed is expected to subscribe once and demux per-user itself, the same
// way a matching engine's public trade feed is one shared stream.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// ServeWS upgrades an HTTP request to a long-lived push connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readPump(conn)
}

// readPump drains and discards client frames purely to notice disconnects
// (the feed is one-directional); a failed read means the client is gone.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(topic string, payload interface{}) {
	data, err := json.Marshal(pushEvent{Topic: topic, Payload: payload})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// NotifyOrderUpdate implements accountant.Notifier.
func (s *Server) NotifyOrderUpdate(ctx context.Context, o *store.Order) {
	s.hub.broadcast("order", o)
}

// NotifyFill implements accountant.Notifier.
func (s *Server) NotifyFill(ctx context.Context, username string, trade *store.Trade) {
	s.hub.broadcast("fill", struct {
		Username string       `json:"username"`
		Trade    *store.Trade `json:"trade"`
	}{username, trade})
}

// NotifyTransaction implements accountant.Notifier.
func (s *Server) NotifyTransaction(ctx context.Context, username, contract string, delta int64) {
	s.hub.broadcast("transaction", struct {
		Username string `json:"username"`
		Contract string `json:"contract"`
		Delta    int64  `json:"delta"`
	}{username, contract, delta})
}

// NotifyTrade implements accountant.Notifier. The print goes to this
// shard's own websocket clients immediately, and onward to the rest of the
// cluster's tape if a network trade feed is wired in.
func (s *Server) NotifyTrade(ctx context.Context, contract string, price, quantity int64) {
	s.BroadcastTrade(contract, price, quantity)
	if s.tradeFeed != nil {
		if err := s.tradeFeed.Publish(ctx, contract, price, quantity); err != nil {
			s.log.Warn("trade feed publish failed", "contract", contract, "error", err)
		}
	}
}
