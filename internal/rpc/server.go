package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/klingon-exchange/accountant/internal/accountant"
	"github.com/klingon-exchange/accountant/internal/shard"
	"github.com/klingon-exchange/accountant/pkg/logging"
)

// Config wires a Server's collaborators.
type Config struct {
	Accountant  *accountant.Accountant
	ShardNumber int
	NumShards   int

	// TrustedToken gates the five trusted surfaces (Engine, Cashier, Peer
	// Accountant, Administrator, RiskManager): a bearer token shared with
	// the cluster's other internal services. The Webserver surface is the
	// only one reachable without it, matching spec.md 6's role split
	// between "user" and "trusted" callers.
	TrustedToken string
}

// Server is one shard's RPC listener: role-gated JSON-RPC 2.0 endpoints
// over chi, a push-feed websocket for the webserver surface, and a small
// REST surface for the Administrator role's debug-only operations.
type Server struct {
	cfg       Config
	acc       *accountant.Accountant
	hub       *Hub
	tradeFeed TradeBroadcaster
	log       *logging.Logger
	mux       chi.Router
	srv       *http.Server
}

// TradeBroadcaster announces a public trade print to the rest of the
// cluster, so a trade executed on one shard appears on every shard's tape.
// Satisfied by *peer.TradeFeed.
type TradeBroadcaster interface {
	Publish(ctx context.Context, contract string, price, quantity int64) error
}

// SetTradeFeed wires the network-wide trade broadcaster in after
// construction, mirroring SetAccountant's bootstrap ordering: the feed is
// built from a started peer Node, which in turn outlives this Server's
// own construction.
func (s *Server) SetTradeFeed(f TradeBroadcaster) {
	s.tradeFeed = f
}

// BroadcastTrade fans a trade print received from another shard's feed out
// to this shard's own websocket clients, without re-publishing it back to
// the network.
func (s *Server) BroadcastTrade(contract string, price, quantity int64) {
	s.hub.broadcast("trade", struct {
		Contract string `json:"contract"`
		Price    int64  `json:"price"`
		Quantity int64  `json:"quantity"`
	}{contract, price, quantity})
}

// New builds a Server. Call Start to begin listening.
func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		acc: cfg.Accountant,
		hub: newHub(),
		log: logging.GetDefault().Component("rpc"),
	}
	s.mux = s.routes()
	return s
}

// SetAccountant wires the Accountant in after construction, for the
// common bootstrap order where the Accountant itself takes this Server as
// its Notifier (a Server must exist before an Accountant can reference
// it, and an Accountant must exist before a Server can dispatch to it).
func (s *Server) SetAccountant(acc *accountant.Accountant) {
	s.acc = acc
}

// Notifier methods, satisfying accountant.Notifier by fanning every
// push event out to the websocket hub.
var _ accountant.Notifier = (*Server)(nil)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Post("/rpc/webserver", s.handleSurface(webserverMethods))
	r.Group(func(r chi.Router) {
		r.Use(s.requireTrusted)
		r.Post("/rpc/engine", s.handleSurface(engineMethods))
		r.Post("/rpc/cashier", s.handleSurface(cashierMethods))
		r.Post("/rpc/peer", s.handleSurface(peerMethods))
		r.Post("/rpc/admin", s.handleSurface(adminMethods))
		r.Post("/rpc/riskmanager", s.handleSurface(riskManagerMethods))

		r.Get("/admin/node_status", s.handleNodeStatus)
		r.Post("/admin/reload_fee_group/{id}", s.handleReloadFeeGroup)
		r.Post("/admin/reload_contract/{ticker}", s.handleReloadContract)
		r.Post("/admin/adjust_position", s.handleAdjustPosition)
	})

	r.Get("/ws", s.hub.ServeWS)
	return r
}

func (s *Server) requireTrusted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TrustedToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.TrustedToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handler is one RPC method's entry point: decode params, dispatch, reply.
type handler func(ctx context.Context, s *Server, params json.RawMessage) (interface{}, error)

func (s *Server) handleSurface(methods map[string]handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProtocolError(w, nil, codeParseError, "invalid JSON")
			return
		}
		h, ok := methods[req.Method]
		if !ok {
			writeProtocolError(w, req.ID, codeMethodNotFound, "unknown method: "+req.Method)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		result, err := h(ctx, s, req.Params)
		if err != nil {
			writeError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, result)
	}
}

// localOrForward reports whether username belongs to this shard.
// Cross-shard forwarding of full RPC calls (as opposed to remote_post,
// which internal/peer already carries) is left to the gateway in front of
// the shard pool: this service reports wrong_shard rather than proxying
// the call itself, so the gateway can route the retry directly instead of
// adding a second network hop through this shard.
func (s *Server) localOrForward(username string) error {
	if shard.IsLocal(username, s.cfg.ShardNumber, s.cfg.NumShards) {
		return nil
	}
	return &wrongShardError{owner: shard.For(username, s.cfg.NumShards)}
}

type wrongShardError struct{ owner int }

func (e *wrongShardError) Error() string { return "wrong_shard" }

// Start begins listening on addr.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	s.log.Info("rpc server listening", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
